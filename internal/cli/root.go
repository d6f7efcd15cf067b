package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/app"
	"github.com/tpodg/ipsettle/internal/config"
)

type contextKey string

const appKey contextKey = "app"

var hostNames []string

// activeApp is closed once the command finishes, whether it failed or not.
var activeApp *app.App

var rootCmd = &cobra.Command{
	Use:   "ipsettle",
	Short: "ipsettle configures static IP addressing on remote Linux hosts",
	Long: `ipsettle connects to hosts over SSH and configures static addresses,
gateways and DNS through the host's own network stack: NetworkManager,
netplan, /etc/network/interfaces, or plain ip commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		settleApp := app.NewWithOutput(cfg, cmd.ErrOrStderr())
		activeApp = settleApp
		ctx := context.WithValue(cmd.Context(), appKey, settleApp)
		cmd.SetContext(ctx)

		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func closeApp() {
	if activeApp == nil {
		return
	}
	if err := activeApp.Close(); err != nil {
		activeApp.Logger.Error("Shutdown failed", "error", err)
	}
	activeApp = nil
}

func init() {
	cobra.OnFinalize(closeApp)
	rootCmd.PersistentFlags().String("config", "", fmt.Sprintf("config file (default is $HOME/%s)", config.DefaultConfigFileName))
	rootCmd.PersistentFlags().StringSliceVar(&hostNames, "host", nil, "limit to the named hosts (repeatable)")
}

func getApp(cmd *cobra.Command) *app.App {
	if a, ok := cmd.Context().Value(appKey).(*app.App); ok {
		return a
	}
	return nil
}
