package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/strutil"
)

const (
	NetworkKey = "network"
	RemoveKey  = "remove"
)

// Specs lists the tasks `configure` understands, in execution order.
// Removals target iface, the interface of the host's network block.
func Specs(iface string) []Spec {
	return []Spec{
		SpecFor(RemoveKey, "", func(addrs []string) ([]Task, error) {
			return buildRemove(iface, addrs)
		}),
		SpecFor(NetworkKey, "network.yaml", buildNetwork),
	}
}

func buildNetwork(d netcfg.Desired) ([]Task, error) {
	return []Task{&StaticAddress{Desired: d}}, nil
}

func buildRemove(iface string, addrs []string) ([]Task, error) {
	addrs = strutil.CleanList(addrs)
	if len(addrs) == 0 {
		return nil, nil
	}
	return []Task{&RemoveAddresses{Interface: iface, Addresses: addrs}}, nil
}

// StaticAddress converges an interface onto a desired static configuration.
type StaticAddress struct {
	Desired netcfg.Desired
}

func (t *StaticAddress) Name() string {
	return "static address on " + ifaceOrDefault(t.Desired.Interface)
}

func (t *StaticAddress) resolve(ctx context.Context, h Host) (netcfg.Request, []netinfo.Address, error) {
	current, err := h.Adapter().CurrentIPs(ctx)
	if err != nil {
		return netcfg.Request{}, nil, err
	}
	res, err := netcfg.Resolve(t.Desired, current)
	if err != nil {
		return netcfg.Request{}, nil, err
	}
	return res.Request, current, nil
}

// NeedsExecution reports true when a requested address is missing or the
// default gateway differs. DNS cannot be read back and is not compared.
func (t *StaticAddress) NeedsExecution(ctx context.Context, h Host) (bool, error) {
	req, current, err := t.resolve(ctx, h)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool)
	for _, a := range netinfo.FilterInterface(current, req.Interface, netinfo.FamilyIPv4) {
		if a.Scope == netinfo.ScopeStatic {
			have[a.Address] = true
		}
	}
	cidrs := req.CIDRs()
	if h.Adapter().Name() == netcfg.NameIPRoute {
		// the raw link adapter only ever configures the primary address
		cidrs = cidrs[:1]
	}
	for _, cidr := range cidrs {
		if !have[cidr] {
			return true, nil
		}
	}
	if req.Gateway == "" {
		return false, nil
	}
	gateways, err := h.Gateways(ctx)
	if err != nil {
		return false, err
	}
	return gateways[req.Interface] != req.Gateway, nil
}

func (t *StaticAddress) Execute(ctx context.Context, h Host) error {
	req, _, err := t.resolve(ctx, h)
	if err != nil {
		return err
	}
	if _, err := h.Adapter().Apply(ctx, req); err != nil {
		return fmt.Errorf("apply %s: %w", strings.Join(req.CIDRs(), ", "), err)
	}
	return nil
}

// RemoveAddresses takes addresses off the default interface.
type RemoveAddresses struct {
	Interface string
	Addresses []string
}

func (t *RemoveAddresses) Name() string {
	return "remove addresses from " + ifaceOrDefault(t.Interface)
}

func (t *RemoveAddresses) NeedsExecution(ctx context.Context, h Host) (bool, error) {
	current, err := h.Adapter().CurrentIPs(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range netinfo.FilterInterface(current, ifaceOrDefault(t.Interface), netinfo.FamilyIPv4) {
		for _, target := range t.Addresses {
			if a.Address == target || a.IP() == target {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *RemoveAddresses) Execute(ctx context.Context, h Host) error {
	_, err := h.Adapter().RemoveIPs(ctx, ifaceOrDefault(t.Interface), t.Addresses)
	return err
}

func ifaceOrDefault(iface string) string {
	if iface = strings.TrimSpace(iface); iface != "" {
		return iface
	}
	return netcfg.DefaultInterface
}
