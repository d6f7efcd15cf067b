package netcfg

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnbound is returned by operations that need a host when the adapter has none.
var ErrUnbound = errors.New("adapter is not bound to a host")

// RemoteCommandError reports a mutating remote invocation that exited non-zero.
type RemoteCommandError struct {
	Adapter  string
	Op       string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed with exit code %d", e.Adapter, e.Op, e.ExitCode)
	if stderr := strings.TrimRight(e.Stderr, "\r\n"); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}
