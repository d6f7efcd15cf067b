package cli

import (
	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/netcfg"
)

var clearIface string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset a host interface to automatic addressing",
	Long: `Remove every static address, the gateway and DNS from the interface and
switch it back to DHCP. Failures of the reset are logged as warnings.`,
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
		settleApp.Logger.Info("Clearing interface", "host", h.Name, "adapter", adapter.Name(), "iface", clearIface)
		left, err := adapter.ClearIPs(ctx, clearIface)
		if err != nil {
			return err
		}
		return printAddresses(cmd.OutOrStdout(), h.Name, left)
	},
}

func init() {
	clearCmd.Flags().StringVar(&clearIface, "iface", netcfg.DefaultInterface, "interface to clear")
	rootCmd.AddCommand(clearCmd)
}
