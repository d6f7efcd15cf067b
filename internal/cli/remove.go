package cli

import (
	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/strutil"
)

var removeIface string

var removeCmd = &cobra.Command{
	Use:   "remove ADDRESS...",
	Short: "Remove addresses from a host interface",
	Long: `Remove the given addresses from the interface. An address without a
prefix matches any prefix. Removing the last address resets the interface
to automatic addressing.`,
	Args: cobra.MinimumNArgs(1),
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
		addrs := strutil.SplitList(args...)
		settleApp.Logger.Info("Removing addresses", "host", h.Name, "adapter", adapter.Name(), "iface", removeIface, "addresses", addrs)
		left, err := adapter.RemoveIPs(ctx, removeIface, addrs)
		if err != nil {
			return err
		}
		return printAddresses(cmd.OutOrStdout(), h.Name, left)
	},
}

func init() {
	removeCmd.Flags().StringVar(&removeIface, "iface", netcfg.DefaultInterface, "interface to remove the addresses from")
	rootCmd.AddCommand(removeCmd)
}
