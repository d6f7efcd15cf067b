package cli

import (
	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/netinfo"
)

var (
	ipsIface  string
	ipsFamily string
)

var ipsCmd = &cobra.Command{
	Use:   "ips",
	Short: "List the addresses configured on hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		hosts, err := selectedHosts(settleApp)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var failed int
		for _, h := range hosts {
			if err := connect(ctx, settleApp, h); err != nil {
				settleApp.Logger.Error("Connection failed", "host", h.Name, "error", err)
				failed++
				continue
			}
			addrs, err := settleApp.Sessions.CurrentAddresses(ctx, h.Name)
			if err != nil {
				settleApp.Logger.Error("Listing addresses failed", "host", h.Name, "error", err)
				failed++
				continue
			}
			addrs = netinfo.FilterInterface(addrs, ipsIface, ipsFamily)
			if err := printAddresses(cmd.OutOrStdout(), h.Name, addrs); err != nil {
				return err
			}
		}
		return failedHosts(failed)
	},
}

func init() {
	ipsCmd.Flags().StringVar(&ipsIface, "iface", "", "only show this interface")
	ipsCmd.Flags().StringVar(&ipsFamily, "family", "", "only show this family (inet or inet6)")
	rootCmd.AddCommand(ipsCmd)
}
