//go:build unix

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// watchResize calls onResize with the new terminal size on every SIGWINCH
// until the returned stop function is called.
func watchResize(fd int, onResize func(cols, rows int)) func() {
	if !term.IsTerminal(fd) {
		return func() {}
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				if cols, rows, err := term.GetSize(fd); err == nil {
					onResize(cols, rows)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
