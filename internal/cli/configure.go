package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/app"
	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/task"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Converge hosts to their configured network state",
	Long: `Apply the network and remove blocks of every selected host from the
config file. Hosts already in the desired state are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		settleApp.Logger.Info("Starting configuration process")

		hosts, err := selectedHosts(settleApp)
		if err != nil {
			return err
		}

		settleApp.Logger.Info("Configuring hosts", "count", len(hosts))
		failed := 0
		for _, h := range hosts {
			if err := configureHost(cmd.Context(), settleApp, h); err != nil {
				settleApp.Logger.Error("Configuration failed", "host", h.Name, "error", err)
				failed++
			}
		}
		return failedHosts(failed)
	},
}

func configureHost(ctx context.Context, a *app.App, h config.HostConfig) error {
	overrides := map[string]any{}
	if len(h.Network) > 0 {
		overrides[task.NetworkKey] = h.Network
	}
	if len(h.Remove) > 0 {
		overrides[task.RemoveKey] = h.Remove
	}
	if len(overrides) == 0 {
		a.Logger.Warn("Nothing to configure", "host", h.Name)
		return nil
	}

	iface, _ := h.Network["interface"].(string)
	tasks, unknown, err := task.PlanTasks(overrides, task.Specs(iface))
	if err != nil {
		return fmt.Errorf("planning tasks: %w", err)
	}
	for _, key := range unknown {
		a.Logger.Warn("Ignoring unknown config key", "host", h.Name, "key", key)
	}

	a.Logger.Info("Configuring host", "host", h.Name, "address", h.Address, "tasks", len(tasks))
	adapter, err := connectAdapter(ctx, a, h)
	if err != nil {
		return err
	}

	runner := task.NewRunner(a.Logger)
	summary, err := task.NewTaskConfigurator(runner, tasks...).Configure(ctx, &target{
		id:       h.Name,
		adapter:  adapter,
		sessions: a.Sessions,
	})
	if err != nil {
		return err
	}
	a.Logger.Info("Host configured", "host", h.Name, "applied", summary.Applied, "satisfied", summary.Satisfied)
	return nil
}

func init() {
	rootCmd.AddCommand(configureCmd)
}
