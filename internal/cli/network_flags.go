package cli

import (
	"github.com/spf13/cobra"

	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/strutil"
	"github.com/tpodg/ipsettle/internal/task"
)

// networkFlags are the desired-state flags shared by apply and plan.
type networkFlags struct {
	iface     string
	input     string
	addresses []string
	prefix    int
	gateway   string
	dns       []string
	all       bool
}

func (f *networkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.iface, "iface", "", "interface to configure (default "+netcfg.DefaultInterface+")")
	cmd.Flags().StringVar(&f.input, "input", "", "CIDR block or range to allocate from, e.g. 10.0.0.8/29 or 10.0.0.10-20")
	cmd.Flags().StringSliceVar(&f.addresses, "address", nil, "explicit address, optionally with /prefix (repeatable)")
	cmd.Flags().IntVar(&f.prefix, "prefix", 0, "prefix length for explicit addresses and ranges")
	cmd.Flags().StringVar(&f.gateway, "gateway", "", "default gateway")
	cmd.Flags().StringSliceVar(&f.dns, "dns", nil, "DNS server (repeatable or comma separated)")
	cmd.Flags().BoolVar(&f.all, "all", false, "configure every address of the input instead of only the first")
}

func (f *networkFlags) empty() bool {
	return f.input == "" && len(f.addresses) == 0 && f.gateway == "" && len(f.dns) == 0
}

func (f *networkFlags) desired() netcfg.Desired {
	return netcfg.Desired{
		Interface: f.iface,
		Input:     f.input,
		Addresses: strutil.SplitList(f.addresses...),
		Prefix:    f.prefix,
		Gateway:   f.gateway,
		DNS:       strutil.SplitList(f.dns...),
		ApplyAll:  f.all,
	}
}

// desiredFor uses the flags when any were given and the host's network block otherwise.
func (f *networkFlags) desiredFor(h config.HostConfig) (netcfg.Desired, error) {
	if !f.empty() || len(h.Network) == 0 {
		return f.desired(), nil
	}
	d, err := task.DecodeConfig[netcfg.Desired](h.Network)
	if err != nil {
		return netcfg.Desired{}, err
	}
	if f.iface != "" {
		d.Interface = f.iface
	}
	return d, nil
}
