package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a host has no live connection.
	ErrNotConnected = errors.New("host is not connected")
	// ErrShellNotEstablished is returned when a host has no open shell.
	ErrShellNotEstablished = errors.New("shell not established")
)

// ConnectionError reports a failed connection attempt.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
