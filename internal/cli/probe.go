package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/app"
	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/netinfo"
)

var (
	probeTarget string
	probeSource string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show what ipsettle detects on hosts",
	Long: `Print the distribution, the adapter that would be used, the interfaces
and the default gateways of every selected host. With --target the host also
pings the target, from --source when given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settleApp := getApp(cmd)
		hosts, err := selectedHosts(settleApp)
		if err != nil {
			return err
		}

		failed := 0
		for _, h := range hosts {
			if err := probeHost(cmd.Context(), cmd.OutOrStdout(), settleApp, h); err != nil {
				settleApp.Logger.Error("Probe failed", "host", h.Name, "error", err)
				failed++
			}
		}
		return failedHosts(failed)
	},
}

func probeHost(ctx context.Context, w io.Writer, a *app.App, h config.HostConfig) error {
	adapter, err := connectAdapter(ctx, a, h)
	if err != nil {
		return err
	}
	osRelease, err := a.Sessions.OSRelease(ctx, h.Name)
	if err != nil {
		return err
	}
	ifaces, err := a.Sessions.Interfaces(ctx, h.Name)
	if err != nil {
		return err
	}
	gateways, err := a.Sessions.Gateways(ctx, h.Name)
	if err != nil {
		return err
	}

	fields, _ := netinfo.ParseOSRelease(osRelease)
	distro := fields["PRETTY_NAME"]
	if distro == "" {
		distro = "unknown"
	}
	fmt.Fprintf(w, "host:       %s (%s)\n", h.Name, h.Address)
	fmt.Fprintf(w, "os:         %s\n", distro)
	fmt.Fprintf(w, "adapter:    %s\n", adapter.Name())
	fmt.Fprintf(w, "interfaces: %s\n", strings.Join(ifaces, " "))

	names := make([]string, 0, len(gateways))
	for iface := range gateways {
		names = append(names, iface)
	}
	sort.Strings(names)
	for _, iface := range names {
		fmt.Fprintf(w, "gateway:    %s via %s\n", iface, gateways[iface])
	}

	if probeTarget != "" {
		res, err := a.Sessions.Ping(ctx, h.Name, probeSource, probeTarget)
		if err != nil {
			return err
		}
		switch {
		case !res.Reachable:
			fmt.Fprintf(w, "ping:       %s unreachable\n", probeTarget)
		case res.LatencyMs != "":
			fmt.Fprintf(w, "ping:       %s %s ms\n", probeTarget, res.LatencyMs)
		default:
			fmt.Fprintf(w, "ping:       %s reachable\n", probeTarget)
		}
	}
	return nil
}

func init() {
	probeCmd.Flags().StringVar(&probeTarget, "target", "", "address the host should ping")
	probeCmd.Flags().StringVar(&probeSource, "source", "", "source address for the ping")
	rootCmd.AddCommand(probeCmd)
}
