package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/netcfg"
)

var (
	planFlags networkFlags
	planMode  string
	planClear bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Render the script an adapter would run, without a host",
	Long: `Render the apply script, or with --clear the clear script, of the adapter
named by --mode. No connection is made, so file based adapters start from an
empty configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		if !netcfg.Known(planMode) {
			return fmt.Errorf("unknown mode %q, use one of %s", planMode, strings.Join(netcfg.Names(), ", "))
		}
		adapter := netcfg.ForName(planMode, nil, "", netcfg.WithLogger(settleApp.Logger))
		ctx := cmd.Context()

		if planClear {
			iface := planFlags.iface
			if iface == "" {
				iface = netcfg.DefaultInterface
			}
			script, err := adapter.ClearScript(ctx, iface)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), script)
			return err
		}

		res, err := netcfg.Resolve(planFlags.desired(), nil)
		if err != nil {
			return err
		}
		req := res.Request
		req.DryRun = true
		out, err := adapter.Apply(ctx, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out.Script)
		return err
	},
}

func init() {
	planFlags.register(planCmd)
	planCmd.Flags().StringVar(&planMode, "mode", "", "adapter to render for: "+strings.Join(netcfg.Names(), ", "))
	planCmd.Flags().BoolVar(&planClear, "clear", false, "render the clear script for --iface")
	cobra.CheckErr(planCmd.MarkFlagRequired("mode"))
	rootCmd.AddCommand(planCmd)
}
