package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tpodg/ipsettle/internal/server"
)

const shellReadBuffer = 32 * 1024

// Shell is the interactive shell of one host.
type Shell struct {
	host    string
	stream  server.Shell
	onClose func()
	mgr     *Manager

	once sync.Once
	done chan struct{}
}

// Host returns the host the shell belongs to.
func (s *Shell) Host() string { return s.host }

// Done is closed once the shell has ended and onClose has returned.
func (s *Shell) Done() <-chan struct{} { return s.done }

func (s *Shell) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

func (s *Shell) Resize(cols, rows int) error {
	return s.stream.Resize(cols, rows)
}

// Close ends the shell. onClose fires once regardless of how it ended.
func (s *Shell) Close() error {
	s.mgr.detachShell(s)
	s.finish()
	return nil
}

func (s *Shell) finish() {
	s.once.Do(func() {
		_ = s.stream.Close()
		s.mgr.metrics.ShellClosed()
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
		s.mgr.logger.Debug("shell closed", "host", s.host)
		s.mgr.emit(s.host, EventShellClosed, nil)
	})
}

// StartShell opens the interactive shell of hostID, or returns the already
// open one. Every chunk read from the shell is passed to onData through the
// host's output funnel. onClose fires exactly once when the shell ends.
func (m *Manager) StartShell(hostID string, onData func([]byte), onClose func(), opts ...server.ShellOptions) (*Shell, error) {
	m.mu.Lock()
	c, ok := m.conns[hostID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("start shell on %s: %w", hostID, ErrNotConnected)
	}
	if c.shell != nil {
		sh := c.shell
		m.mu.Unlock()
		return sh, nil
	}
	m.mu.Unlock()

	var opt server.ShellOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	stream, err := c.transport.OpenShell(opt)
	if err != nil {
		return nil, fmt.Errorf("start shell on %s: %w", hostID, err)
	}

	f := m.funnelFor(hostID)

	m.mu.Lock()
	if m.conns[hostID] != c {
		m.mu.Unlock()
		_ = stream.Close()
		return nil, fmt.Errorf("start shell on %s: %w", hostID, ErrNotConnected)
	}
	if c.shell != nil {
		sh := c.shell
		m.mu.Unlock()
		_ = stream.Close()
		return sh, nil
	}
	sh := &Shell{
		host:    hostID,
		stream:  stream,
		onClose: onClose,
		mgr:     m,
		done:    make(chan struct{}),
	}
	c.shell = sh
	m.mu.Unlock()

	m.metrics.ShellOpened()
	go m.pumpShell(sh, f, onData)

	m.logger.Debug("shell opened", "host", hostID)
	m.emit(hostID, EventShellOpened, nil)
	return sh, nil
}

func (m *Manager) pumpShell(sh *Shell, f *funnel, onData func([]byte)) {
	buf := make([]byte, shellReadBuffer)
	for {
		n, err := sh.stream.Read(buf)
		if n > 0 && onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			f.deliver(onData, chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("shell read ended", "host", sh.host, "error", err)
			}
			break
		}
	}
	m.detachShell(sh)
	sh.finish()
}

func (m *Manager) detachShell(sh *Shell) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[sh.host]; ok && c.shell == sh {
		c.shell = nil
	}
}

// WriteShell sends data to the shell of hostID.
func (m *Manager) WriteShell(hostID string, data []byte) error {
	sh, err := m.shell(hostID)
	if err != nil {
		return err
	}
	if _, err := sh.Write(data); err != nil {
		return fmt.Errorf("write shell on %s: %w", hostID, err)
	}
	return nil
}

// ResizeShell changes the pseudo terminal size of the shell of hostID.
func (m *Manager) ResizeShell(hostID string, cols, rows int) error {
	sh, err := m.shell(hostID)
	if err != nil {
		return err
	}
	if err := sh.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize shell on %s: %w", hostID, err)
	}
	return nil
}

func (m *Manager) shell(hostID string) (*Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[hostID]
	if !ok || c.shell == nil {
		return nil, fmt.Errorf("shell on %s: %w", hostID, ErrShellNotEstablished)
	}
	return c.shell, nil
}
