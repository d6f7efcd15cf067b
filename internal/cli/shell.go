package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tpodg/ipsettle/internal/server"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell on a host",
	Long: `Open an interactive login shell on the selected host. The local terminal
is registered as the host's output sink, the same sink that echoes commands
executed through the session manager.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		h, err := selectOne(settleApp)
		if err != nil {
			return err
		}
		if err := connect(cmd.Context(), settleApp, h); err != nil {
			return err
		}

		stdin := cmd.InOrStdin()
		stdout := cmd.OutOrStdout()

		opts := server.ShellOptions{Term: "xterm-256color", Cols: 80, Rows: 24}
		fd := int(os.Stdin.Fd())
		if stdin == os.Stdin && term.IsTerminal(fd) {
			if cols, rows, err := term.GetSize(fd); err == nil {
				opts.Cols, opts.Rows = cols, rows
			}
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("switching terminal to raw mode: %w", err)
			}
			defer func() { _ = term.Restore(fd, state) }()
		}

		settleApp.Sessions.RegisterTerminalOutput(h.Name, stdout)
		defer settleApp.Sessions.UnregisterTerminalOutput(h.Name)

		sh, err := settleApp.Sessions.StartShell(h.Name, func(data []byte) {
			_, _ = stdout.Write(data)
		}, nil, opts)
		if err != nil {
			return err
		}

		stopResize := watchResize(fd, func(cols, rows int) {
			if err := settleApp.Sessions.ResizeShell(h.Name, cols, rows); err != nil {
				settleApp.Logger.Debug("Resize failed", "host", h.Name, "error", err)
			}
		})
		defer stopResize()

		go func() {
			buf := make([]byte, 1024)
			for {
				n, err := stdin.Read(buf)
				if n > 0 {
					if werr := settleApp.Sessions.WriteShell(h.Name, buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					if err != io.EOF {
						settleApp.Logger.Debug("Reading stdin failed", "error", err)
					}
					_ = sh.Close()
					return
				}
			}
		}()

		select {
		case <-sh.Done():
		case <-cmd.Context().Done():
			_ = sh.Close()
			<-sh.Done()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
