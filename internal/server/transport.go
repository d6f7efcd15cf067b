package server

import (
	"context"
	"io"
)

// Dialer opens a transport connection to a single remote host.
type Dialer interface {
	// ID returns a unique identifier for the host.
	ID() string
	// Address returns the connection address (IP or hostname, optional port).
	Address() string
	// Dial establishes the connection. It fails fast once the handshake timeout elapses.
	Dial(ctx context.Context) (Transport, error)
}

// Transport is a live connection able to run commands and open shells.
type Transport interface {
	// Run executes command and streams its output into stdout and stderr.
	// A non-zero remote exit status is reported through the exit code, not the error.
	Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error)
	// OpenShell starts an interactive shell on a pseudo terminal.
	OpenShell(opts ShellOptions) (Shell, error)
	// Wait blocks until the connection terminates.
	Wait() error
	// Close ends the connection.
	Close() error
}

// Shell is a duplex byte stream to an interactive remote shell.
// Reads return the merged terminal output; writes go to the shell's stdin.
type Shell interface {
	io.ReadWriteCloser
	// Resize changes the pseudo terminal window size.
	Resize(cols, rows int) error
	// Wait blocks until the remote shell exits.
	Wait() error
}

// ShellOptions describes the pseudo terminal requested for a shell.
type ShellOptions struct {
	Term string
	Cols int
	Rows int
}

const (
	defaultTerm = "xterm-256color"
	defaultCols = 80
	defaultRows = 24
)

func (o ShellOptions) withDefaults() ShellOptions {
	if o.Term == "" {
		o.Term = defaultTerm
	}
	if o.Cols <= 0 {
		o.Cols = defaultCols
	}
	if o.Rows <= 0 {
		o.Rows = defaultRows
	}
	return o
}
