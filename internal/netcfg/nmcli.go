package netcfg

import (
	"context"
	"strings"

	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/strutil"
)

const NameNetworkManager = "centos"

const (
	cmdNMConnections = "nmcli -t -f NAME,DEVICE con show"
	cmdNMDevices     = "nmcli -t -f CONNECTION,DEVICE dev status"
)

// NetworkManager configures connection profiles with nmcli. Addresses are added
// to the profile one by one so existing ones are kept.
type NetworkManager struct {
	base
}

var _ Adapter = (*NetworkManager)(nil)

func NewNetworkManager(remote Remote, host string, opts ...Option) *NetworkManager {
	a := &NetworkManager{}
	a.init(NameNetworkManager, remote, host, opts)
	return a
}

type nmApplyData struct {
	Profile   string
	Addresses []string
	Gateway   string
	DNS       []string
}

type nmProfileData struct {
	Profile   string
	Addresses []string
}

func (a *NetworkManager) Apply(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	script, err := renderScript("nmcli_apply", nmApplyData{
		Profile:   a.profile(ctx, req.Interface),
		Addresses: req.CIDRs(),
		Gateway:   req.Gateway,
		DNS:       req.DNS,
	})
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

func (a *NetworkManager) RemoveIPs(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	profile := a.profile(ctx, iface)
	existing := a.profileAddresses(ctx, profile)
	if len(existing) == 0 {
		live, err := a.ifaceCIDRs(ctx, iface)
		if err != nil {
			return nil, err
		}
		existing = live
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

	script, err := renderScript("nmcli_remove", nmProfileData{Profile: profile, Addresses: toRemove})
	if err != nil {
		return nil, err
	}
	if err := a.runScript(ctx, opRemove, script); err != nil {
		return nil, err
	}
	return a.CurrentIPs(ctx)
}

func (a *NetworkManager) ClearScript(ctx context.Context, iface string) (string, error) {
	return renderScript("nmcli_clear", nmProfileData{Profile: a.profile(ctx, iface)})
}

func (a *NetworkManager) ClearIPs(ctx context.Context, iface string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	script, err := a.ClearScript(ctx, iface)
	if err != nil {
		return nil, err
	}
	return a.finishClear(ctx, iface, script)
}

// profile resolves the connection profile bound to iface. It never fails:
// the connection table is tried first, then the device table, then the
// interface name itself.
func (a *NetworkManager) profile(ctx context.Context, iface string) string {
	if !a.bound() {
		return iface
	}
	for _, cmd := range []string{cmdNMConnections, cmdNMDevices} {
		res, err := a.read(ctx, cmd)
		if err != nil {
			a.logger.Debug("profile lookup failed", "command", cmd, "error", err)
			continue
		}
		if res.ExitCode != 0 {
			continue
		}
		if name, ok := profileForDevice(res.Stdout, iface); ok {
			return name
		}
	}
	return iface
}

// profileAddresses lists the addresses stored on a profile.
func (a *NetworkManager) profileAddresses(ctx context.Context, profile string) []string {
	res, err := a.read(ctx, "nmcli -g ipv4.addresses con show "+strutil.ShellEscape(profile))
	if err != nil || res.ExitCode != 0 {
		return nil
	}
	return strutil.SplitList(strings.ReplaceAll(res.Stdout, `\:`, ":"))
}

// profileForDevice scans terse NAME:DEVICE output for iface.
func profileForDevice(output, iface string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		fields := splitTerse(strings.TrimRight(line, "\r"))
		if len(fields) < 2 {
			continue
		}
		name, device := fields[0], fields[len(fields)-1]
		if device != iface || name == "" || name == "--" {
			continue
		}
		return name, true
	}
	return "", false
}

// splitTerse splits one line of `nmcli -t` output on unescaped colons.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}
