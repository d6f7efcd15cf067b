// Package session owns one persistent connection per host, runs commands over
// it, keeps at most one interactive shell per host and multiplexes both onto a
// single terminal sink.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tpodg/ipsettle/internal/metrics"
	"github.com/tpodg/ipsettle/internal/server"
)

const (
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiReset  = "\x1b[0m"

	// closeWait bounds how long Close waits for the connection watcher.
	closeWait = 5 * time.Second
)

// Result is the captured outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type Option func(*Manager)

// WithMetrics records session and exec metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// Manager is the registry of host connections. The zero value is not usable;
// create one with NewManager.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conns   map[string]*conn
	funnels map[string]*funnel

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

type conn struct {
	transport server.Transport
	shell     *Shell
	closing   bool
	// done is closed once the watcher has purged the connection.
	done chan struct{}
}

func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:      logger.With("component", "session"),
		conns:       make(map[string]*conn),
		funnels:     make(map[string]*funnel),
		subscribers: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials hostID unless it is already connected, in which case the
// existing transport is returned.
func (m *Manager) Connect(ctx context.Context, hostID string, dialer server.Dialer) (server.Transport, error) {
	if hostID == "" {
		return nil, &ConnectionError{Host: hostID, Err: fmt.Errorf("host id is required")}
	}
	if c := m.lookup(hostID); c != nil {
		return c.transport, nil
	}

	m.logger.Debug("connecting", "host", hostID, "address", dialer.Address())
	transport, err := dialer.Dial(ctx)
	if err != nil {
		m.metrics.ConnectFailed()
		return nil, &ConnectionError{Host: hostID, Err: err}
	}

	m.mu.Lock()
	if existing, ok := m.conns[hostID]; ok {
		m.mu.Unlock()
		// Lost a concurrent connect race.
		_ = transport.Close()
		return existing.transport, nil
	}
	c := &conn{transport: transport, done: make(chan struct{})}
	m.conns[hostID] = c
	m.mu.Unlock()

	m.metrics.SessionOpened()
	go m.watch(hostID, c)

	m.logger.Info("connected", "host", hostID)
	m.emit(hostID, EventReady, nil)
	return transport, nil
}

func (m *Manager) watch(hostID string, c *conn) {
	defer close(c.done)
	err := c.transport.Wait()

	m.mu.Lock()
	remote := !c.closing
	var shell *Shell
	if m.conns[hostID] == c {
		delete(m.conns, hostID)
		delete(m.funnels, hostID)
		shell = c.shell
		c.shell = nil
	}
	m.mu.Unlock()

	if shell != nil {
		shell.finish()
	}
	m.metrics.SessionClosed()

	if !remote {
		err = nil
	} else if err == nil || err == io.EOF {
		err = fmt.Errorf("connection closed by remote host")
	}
	if err != nil {
		m.logger.Warn("connection ended", "host", hostID, "error", err)
	} else {
		m.logger.Debug("connection closed", "host", hostID)
	}
	m.emit(hostID, EventClosed, err)
}

// Close ends the shell and connection of hostID and clears its sink. It
// returns once the connection is accounted as closed. Unknown hosts are ignored.
func (m *Manager) Close(hostID string) error {
	m.mu.Lock()
	c, ok := m.conns[hostID]
	delete(m.funnels, hostID)
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, hostID)
	c.closing = true
	shell := c.shell
	c.shell = nil
	m.mu.Unlock()

	if shell != nil {
		shell.finish()
	}
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("close %s: %w", hostID, err)
	}
	select {
	case <-c.done:
	case <-time.After(closeWait):
		m.logger.Debug("connection watcher still running after close", "host", hostID)
	}
	return nil
}

// CloseAll closes every connected host.
func (m *Manager) CloseAll() {
	for _, host := range m.Hosts() {
		if err := m.Close(host); err != nil {
			m.logger.Debug("close failed", "host", host, "error", err)
		}
	}
}

// Hosts returns the sorted identifiers of connected hosts.
func (m *Manager) Hosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	hosts := make([]string, 0, len(m.conns))
	for host := range m.conns {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Connected reports whether hostID has a live connection.
func (m *Manager) Connected(hostID string) bool {
	return m.lookup(hostID) != nil
}

// RegisterTerminalOutput sets the terminal sink of hostID, replacing any
// previous one.
func (m *Manager) RegisterTerminalOutput(hostID string, sink io.Writer) {
	m.funnelFor(hostID).setSink(sink)
}

func (m *Manager) UnregisterTerminalOutput(hostID string) {
	m.mu.Lock()
	f, ok := m.funnels[hostID]
	m.mu.Unlock()
	if ok {
		f.setSink(nil)
	}
}

// Exec runs command on hostID and waits for its output streams to close.
// A non-zero exit status is reported in the result, not as an error. With echo
// set and a sink registered, the command and its output are mirrored to the sink.
func (m *Manager) Exec(ctx context.Context, hostID, command string, echo bool) (Result, error) {
	c := m.lookup(hostID)
	if c == nil {
		return Result{}, fmt.Errorf("exec on %s: %w", hostID, ErrNotConnected)
	}

	runID := uuid.NewString()
	logger := m.logger.With("host", hostID, "run", runID)
	logger.Debug("exec", "command", command, "echo", echo)

	var f *funnel
	if echo {
		f = m.existingFunnel(hostID)
		if f != nil && !f.hasSink() {
			f = nil
		}
	}

	var produced atomic.Bool
	markOutput := func() { produced.Store(true) }
	stdout := &echoWriter{funnel: f, wrote: markOutput}
	stderr := &echoWriter{funnel: f, wrote: markOutput, prefix: ansiRed, suffix: ansiReset}

	if f != nil {
		f.writeString("\r\n" + ansiYellow + "$ " + command + ansiReset + "\r\n")
	}

	start := time.Now()
	code, err := c.transport.Run(ctx, command, stdout, stderr)
	m.metrics.RecordExec(code, err, time.Since(start))
	if err != nil {
		logger.Debug("exec failed", "error", err)
		return Result{}, fmt.Errorf("exec on %s: %w", hostID, err)
	}

	if f != nil {
		switch {
		case code != 0:
			f.writeString(fmt.Sprintf("\r\n%s[exit code: %d]%s\r\n", ansiRed, code, ansiReset))
		case produced.Load():
			f.writeString("\r\n")
		}
	}

	logger.Debug("exec finished", "exit_code", code, "elapsed", time.Since(start))
	return Result{
		ExitCode: code,
		Stdout:   string(stdout.buf),
		Stderr:   string(stderr.buf),
	}, nil
}

func (m *Manager) lookup(hostID string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[hostID]
}

func (m *Manager) existingFunnel(hostID string) *funnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.funnels[hostID]
}

func (m *Manager) funnelFor(hostID string) *funnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.funnels[hostID]
	if !ok {
		f = &funnel{}
		m.funnels[hostID] = f
	}
	return f
}
