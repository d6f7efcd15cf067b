package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/netcfg"
)

var (
	applyFlags  networkFlags
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Configure a static address on a host",
	Long: `Resolve the desired addresses from flags, or from the host's network block
when no flags are given, and apply them with the host's adapter.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		h, err := selectOne(settleApp)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		adapter, err := connectAdapter(ctx, settleApp, h)
		if err != nil {
			return err
		}
		desired, err := applyFlags.desiredFor(h)
		if err != nil {
			return err
		}
		current, err := adapter.CurrentIPs(ctx)
		if err != nil {
			return err
		}
		res, err := netcfg.Resolve(desired, current)
		if err != nil {
			return err
		}
		if len(res.Available) > len(res.Request.Addresses) {
			settleApp.Logger.Info("Using part of the input", "host", h.Name, "addresses", res.Request.Addresses, "available", len(res.Available))
		}

		req := res.Request
		req.DryRun = applyDryRun
		settleApp.Logger.Info("Applying static configuration", "host", h.Name, "adapter", adapter.Name(), "iface", req.Interface, "addresses", req.CIDRs(), "gateway", req.Gateway)
		out, err := adapter.Apply(ctx, req)
		if err != nil {
			return err
		}
		if out.DryRun {
			_, err := fmt.Fprint(cmd.OutOrStdout(), out.Script)
			return err
		}
		return printAddresses(cmd.OutOrStdout(), h.Name, out.Addresses)
	},
}

func init() {
	applyFlags.register(applyCmd)
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "print the script instead of running it")
	rootCmd.AddCommand(applyCmd)
}
