package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tpodg/ipsettle/internal/server"
)

type runFunc func(command string, stdout, stderr io.Writer) int

type fakeDialer struct {
	id  string
	run runFunc
	err error

	mu         sync.Mutex
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) ID() string      { return d.id }
func (d *fakeDialer) Address() string { return d.id + ":22" }

func (d *fakeDialer) Dial(ctx context.Context) (server.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport(d.run)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

type fakeTransport struct {
	run runFunc

	mu     sync.Mutex
	shells []*fakeShell
	closed bool
	done   chan struct{}
	err    error
}

func newFakeTransport(run runFunc) *fakeTransport {
	return &fakeTransport{run: run, done: make(chan struct{})}
}

func (t *fakeTransport) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, errors.New("transport closed")
	}
	if t.run == nil {
		return 0, nil
	}
	return t.run(command, stdout, stderr), nil
}

func (t *fakeTransport) OpenShell(opts server.ShellOptions) (server.Shell, error) {
	sh := newFakeShell(opts)
	t.mu.Lock()
	t.shells = append(t.shells, sh)
	t.mu.Unlock()
	return sh, nil
}

func (t *fakeTransport) Wait() error {
	<-t.done
	return t.err
}

func (t *fakeTransport) Close() error {
	t.terminate(nil)
	return nil
}

// terminate simulates the connection ending, locally or remotely.
func (t *fakeTransport) terminate(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	for _, sh := range t.shells {
		_ = sh.Close()
	}
	close(t.done)
}

func (t *fakeTransport) shellCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.shells)
}

type fakeShell struct {
	opts server.ShellOptions

	outR *io.PipeReader
	outW *io.PipeWriter

	mu     sync.Mutex
	input  []byte
	size   [2]int
	closed bool
}

func newFakeShell(opts server.ShellOptions) *fakeShell {
	r, w := io.Pipe()
	return &fakeShell{opts: opts, outR: r, outW: w}
}

func (s *fakeShell) Read(p []byte) (int, error) { return s.outR.Read(p) }

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.input = append(s.input, p...)
	return len(p), nil
}

func (s *fakeShell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = [2]int{cols, rows}
	return nil
}

func (s *fakeShell) Wait() error { return nil }

func (s *fakeShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.outW.Close()
}

// emit pushes remote output into the shell.
func (s *fakeShell) emit(data string) {
	_, _ = s.outW.Write([]byte(data))
}

func (s *fakeShell) written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.input)
}

// lockedBuffer is a concurrency safe terminal sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

type response struct {
	stdout string
	stderr string
	code   int
}

func scripted(responses map[string]response) runFunc {
	return func(command string, stdout, stderr io.Writer) int {
		r, ok := responses[command]
		if !ok {
			fmt.Fprintf(stderr, "unknown command: %s", command)
			return 127
		}
		if r.stdout != "" {
			_, _ = io.WriteString(stdout, r.stdout)
		}
		if r.stderr != "" {
			_, _ = io.WriteString(stderr, r.stderr)
		}
		return r.code
	}
}
