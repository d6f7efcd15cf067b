package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/session"
)

const pingTimeout = 15 * time.Second

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connection to hosts",
	Long:  `Try to connect to all configured hosts and execute a simple command to verify accessibility.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		settleApp.Logger.Info("Starting connection verification")

		hosts, err := selectedHosts(settleApp)
		if err != nil {
			return err
		}
		return failedHosts(verifyHosts(cmd.Context(), settleApp.Logger, settleApp.Sessions, hosts))
	},
}

// verifyHosts connects to every host and runs an echo. It returns the number
// of hosts that failed.
func verifyHosts(ctx context.Context, logger *slog.Logger, m *session.Manager, hosts []config.HostConfig) int {
	failed := 0
	for _, h := range hosts {
		func() {
			ctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()

			logger.Info("Checking host", "name", h.Name, "address", h.Address)
			if _, err := m.Connect(ctx, h.Name, dialHost(h)); err != nil {
				logger.Error("Verification failed", "host", h.Name, "error", err)
				failed++
				return
			}

			res, err := m.Exec(ctx, h.Name, "echo 'pong'", false)
			if err != nil {
				logger.Error("Verification failed", "host", h.Name, "error", err)
				failed++
				return
			}

			if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "pong" {
				logger.Info("Verification successful", "host", h.Name)
			} else {
				logger.Warn("Verification partially successful (unexpected output)", "host", h.Name, "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Stdout))
			}
		}()
	}
	return failed
}

func failedHosts(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d host(s) failed", n)
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
