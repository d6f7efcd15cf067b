// Package ipcalc turns CIDR and contiguous range expressions into candidate
// host addresses for static configuration.
package ipcalc

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

type Mode string

const (
	ModeCIDR  Mode = "cidr"
	ModeRange Mode = "range"

	// maxHosts bounds the expansion of very large blocks.
	maxHosts = 1 << 16
)

var ErrEmptyInput = errors.New("input is empty")

// Plan is the parsed form of an address expression. The first address of
// the block is treated as the gateway and the rest as usable hosts.
type Plan struct {
	Mode      Mode     `json:"mode"`
	Input     string   `json:"input"`
	Hosts     []string `json:"hosts"`
	Gateway   string   `json:"gateway"`
	Prefix    int      `json:"prefix,omitempty"`
	Network   string   `json:"network,omitempty"`
	Broadcast string   `json:"broadcast,omitempty"`
	Netmask   string   `json:"netmask,omitempty"`
}

// Parse accepts "10.0.0.8/29", "10.0.0.10-14" or "10.0.0.10-10.0.0.14".
func Parse(input string) (Plan, error) {
	trimmed := strings.TrimSpace(input)
	switch {
	case trimmed == "":
		return Plan{}, ErrEmptyInput
	case strings.Contains(trimmed, "/"):
		return ParseCIDR(trimmed)
	case strings.Contains(trimmed, "-"):
		return ParseRange(trimmed)
	default:
		return Plan{}, fmt.Errorf("unsupported address expression %q, use CIDR or a range", trimmed)
	}
}

func ParseCIDR(cidr string) (Plan, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return Plan{}, fmt.Errorf("parse cidr %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return Plan{}, fmt.Errorf("parse cidr %q: only IPv4 is supported", cidr)
	}
	bits := prefix.Bits()
	network := prefix.Masked().Addr()
	broadcast := lastAddr(network, bits)

	first, last := network, broadcast
	if bits < 31 {
		first = network.Next()
		last = broadcast.Prev()
	}
	all, err := expand(first, last)
	if err != nil {
		return Plan{}, fmt.Errorf("parse cidr %q: %w", cidr, err)
	}

	return Plan{
		Mode:      ModeCIDR,
		Input:     cidr,
		Gateway:   all[0],
		Hosts:     usable(all),
		Prefix:    bits,
		Network:   network.String(),
		Broadcast: broadcast.String(),
		Netmask:   Netmask(bits),
	}, nil
}

// ParseRange parses "start-end" where end may be a full address or only the
// last octet of start's /24.
func ParseRange(input string) (Plan, error) {
	rawStart, rawEnd, ok := strings.Cut(input, "-")
	rawStart, rawEnd = strings.TrimSpace(rawStart), strings.TrimSpace(rawEnd)
	if !ok || rawEnd == "" {
		return Plan{}, fmt.Errorf("range %q must be start-end", input)
	}
	if !strings.Contains(rawEnd, ".") {
		if i := strings.LastIndexByte(rawStart, '.'); i >= 0 {
			rawEnd = rawStart[:i+1] + rawEnd
		}
	}

	start, err := netip.ParseAddr(rawStart)
	if err != nil || !start.Is4() {
		return Plan{}, fmt.Errorf("invalid range start in %q", input)
	}
	end, err := netip.ParseAddr(rawEnd)
	if err != nil || !end.Is4() {
		return Plan{}, fmt.Errorf("invalid range end in %q", input)
	}
	if end.Less(start) {
		return Plan{}, fmt.Errorf("range %q ends before it starts", input)
	}

	all, err := expand(start, end)
	if err != nil {
		return Plan{}, fmt.Errorf("parse range %q: %w", input, err)
	}
	return Plan{
		Mode:    ModeRange,
		Input:   input,
		Gateway: all[0],
		Hosts:   usable(all),
	}, nil
}

// ImpliedGateway returns the address immediately before address. It is not
// checked against any subnet.
func ImpliedGateway(address string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	prev := addr.Prev()
	if !prev.IsValid() {
		return "", fmt.Errorf("address %q has no predecessor", address)
	}
	return prev.String(), nil
}

// Netmask renders an IPv4 prefix length as a dotted mask.
func Netmask(bits int) string {
	if bits < 0 || bits > 32 {
		return ""
	}
	mask := ^uint32(0) << (32 - bits)
	if bits == 0 {
		mask = 0
	}
	return netip.AddrFrom4([4]byte{byte(mask >> 24), byte(mask >> 16), byte(mask >> 8), byte(mask)}).String()
}

// ValidIPv4 reports whether s is a dotted IPv4 address without prefix.
func ValidIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

func lastAddr(network netip.Addr, bits int) netip.Addr {
	b := network.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if bits < 32 {
		v |= ^uint32(0) >> bits
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func expand(first, last netip.Addr) ([]string, error) {
	var out []string
	for a := first; a.IsValid() && !last.Less(a); a = a.Next() {
		if len(out) == maxHosts {
			return nil, fmt.Errorf("block exceeds %d addresses", maxHosts)
		}
		out = append(out, a.String())
	}
	if len(out) == 0 {
		return nil, errors.New("no usable addresses")
	}
	return out, nil
}

// usable drops the gateway unless it is the only address.
func usable(all []string) []string {
	if len(all) == 1 {
		return []string{all[0]}
	}
	return append([]string(nil), all[1:]...)
}
