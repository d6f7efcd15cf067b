package netcfg

import (
	"context"

	"github.com/tpodg/ipsettle/internal/netinfo"
)

const NameIPRoute = "generic"

// resolvBackup holds the resolv.conf that apply replaced; clear puts it back.
const resolvBackup = "/etc/resolv.conf.ipsettle"

// IPRoute drives the link layer directly with ip(8). Apply flushes the
// interface and adds only the primary address, so it replaces rather than
// extends the address set, and nothing survives a reboot.
type IPRoute struct {
	base
}

var _ Adapter = (*IPRoute)(nil)

func NewIPRoute(remote Remote, host string, opts ...Option) *IPRoute {
	a := &IPRoute{}
	a.init(NameIPRoute, remote, host, opts)
	return a
}

type ipRouteData struct {
	Interface    string
	CIDRs        []string
	Gateway      string
	Nameservers  []string
	ResolvBackup string
}

func (a *IPRoute) Apply(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	data := ipRouteData{
		Interface:    req.Interface,
		CIDRs:        []string{withPrefix(req.Address, req.Prefix)},
		Gateway:      req.Gateway,
		ResolvBackup: resolvBackup,
	}
	for _, ns := range req.DNS {
		data.Nameservers = append(data.Nameservers, "nameserver "+ns)
	}
	script, err := renderScript("iproute_apply", data)
	if err != nil {
		return Result{}, err
	}
	if req.DryRun {
		return a.dryRun(script), nil
	}
	if err := a.runScript(ctx, opApply, script); err != nil {
		return Result{}, err
	}
	return a.applied(ctx)
}

func (a *IPRoute) RemoveIPs(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	existing, err := a.ifaceCIDRs(ctx, iface)
	if err != nil {
		return nil, err
	}
	remaining := subtract(existing, addresses)
	toRemove := subtract(existing, remaining)
	if len(toRemove) == 0 {
		return a.CurrentIPs(ctx)
	}
	if len(remaining) == 0 {
		a.logger.Info("removal leaves no addresses, clearing", "iface", iface)
		return a.ClearIPs(ctx, iface)
	}

	script, err := renderScript("iproute_remove", ipRouteData{Interface: iface, CIDRs: toRemove})
	if err != nil {
		return nil, err
	}
	if err := a.runScript(ctx, opRemove, script); err != nil {
		return nil, err
	}
	return a.CurrentIPs(ctx)
}

func (a *IPRoute) ClearScript(ctx context.Context, iface string) (string, error) {
	if err := validateInterfaceName(iface); err != nil {
		return "", err
	}
	return renderScript("iproute_clear", ipRouteData{Interface: iface, ResolvBackup: resolvBackup})
}

func (a *IPRoute) ClearIPs(ctx context.Context, iface string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	script, err := a.ClearScript(ctx, iface)
	if err != nil {
		return nil, err
	}
	return a.finishClear(ctx, iface, script)
}
