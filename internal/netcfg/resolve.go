package netcfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tpodg/ipsettle/internal/ipcalc"
	"github.com/tpodg/ipsettle/internal/netinfo"
)

const (
	DefaultInterface = "eth0"
	fallbackPrefix   = 24
)

var ErrNothingToApply = errors.New("one of input, addresses, gateway or dns is required")

// Desired is the operator's description of an interface before it is resolved
// into a Request.
type Desired struct {
	Interface string   `yaml:"interface"`
	Input     string   `yaml:"input"`
	Addresses []string `yaml:"addresses"`
	Prefix    int      `yaml:"prefix"`
	Gateway   string   `yaml:"gateway"`
	DNS       []string `yaml:"dns"`
	// ApplyAll configures every candidate address instead of only the first.
	ApplyAll bool `yaml:"apply_all"`
}

// Resolution is a resolved request plus the candidates an input expression offered.
type Resolution struct {
	Request   Request
	Available []string
}

// Resolve turns d into a Request. Explicit addresses win over an input
// expression. Without either, the current addresses of the interface are kept
// and only gateway and DNS change.
func Resolve(d Desired, current []netinfo.Address) (Resolution, error) {
	iface := strings.TrimSpace(d.Interface)
	if iface == "" {
		iface = DefaultInterface
	}
	req := Request{
		Interface: iface,
		Prefix:    d.Prefix,
		Gateway:   strings.TrimSpace(d.Gateway),
		DNS:       d.DNS,
	}
	var res Resolution

	switch {
	case len(d.Addresses) > 0:
		first := strings.TrimSpace(d.Addresses[0])
		if req.Prefix == 0 {
			req.Prefix = prefixOf(first)
		}
		if req.Prefix == 0 {
			return Resolution{}, fmt.Errorf("%w when addresses are given", ErrMissingPrefix)
		}
		req.Addresses = pick(d.Addresses, d.ApplyAll)
		if req.Gateway == "" {
			gw, err := ipcalc.ImpliedGateway(netinfo.StripPrefix(first))
			if err != nil {
				return Resolution{}, err
			}
			req.Gateway = gw
		}

	case strings.TrimSpace(d.Input) != "":
		plan, err := ipcalc.Parse(d.Input)
		if err != nil {
			return Resolution{}, err
		}
		if plan.Mode == ipcalc.ModeCIDR {
			req.Prefix = plan.Prefix
		}
		if req.Prefix == 0 {
			return Resolution{}, fmt.Errorf("%w for range input", ErrMissingPrefix)
		}
		req.Addresses = pick(plan.Hosts, d.ApplyAll)
		if req.Gateway == "" {
			req.Gateway = plan.Gateway
		}
		res.Available = plan.Hosts

	case req.Gateway != "" || len(d.DNS) > 0:
		for _, a := range netinfo.FilterInterface(current, iface, netinfo.FamilyIPv4) {
			req.Addresses = append(req.Addresses, a.IP())
			if req.Prefix == 0 {
				req.Prefix = prefixOf(a.Address)
			}
		}
		if req.Prefix == 0 {
			req.Prefix = fallbackPrefix
		}

	default:
		return Resolution{}, ErrNothingToApply
	}

	if err := req.Validate(); err != nil {
		return Resolution{}, err
	}
	res.Request = req
	return res, nil
}

func pick(addrs []string, all bool) []string {
	if all || len(addrs) == 0 {
		return addrs
	}
	return addrs[:1]
}
