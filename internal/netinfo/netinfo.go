// Package netinfo parses the output of the introspection commands run on
// remote hosts. Parsers never fail: unexpected lines are skipped and reported
// through a degraded flag so read paths keep working on unusual output.
package netinfo

import (
	"sort"
	"strings"
)

const (
	ScopeStatic  = "static"
	ScopeDynamic = "dynamic"

	FamilyIPv4 = "inet"
	FamilyIPv6 = "inet6"
)

// Address is one address assignment as reported by `ip -o addr show`.
type Address struct {
	Interface string `json:"iface"`
	Family    string `json:"family"`
	Address   string `json:"address"`
	Scope     string `json:"scope"`
}

// IP returns the address without its prefix length.
func (a Address) IP() string {
	return StripPrefix(a.Address)
}

// StripPrefix removes a trailing "/N" from a CIDR string.
func StripPrefix(cidr string) string {
	if i := strings.IndexByte(cidr, '/'); i >= 0 {
		return cidr[:i]
	}
	return cidr
}

// ParseAddresses parses `ip -o addr show` output. Example line:
//
//	2: eth0    inet 10.0.0.5/24 brd 10.0.0.255 scope global dynamic eth0
func ParseAddresses(output string) ([]Address, bool) {
	var addrs []Address
	degraded := false
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ":") {
			degraded = true
			continue
		}
		scope := ScopeStatic
		for _, f := range fields[4:] {
			if f == "dynamic" {
				scope = ScopeDynamic
				break
			}
		}
		addrs = append(addrs, Address{
			Interface: strings.TrimSuffix(fields[1], ":"),
			Family:    fields[2],
			Address:   fields[3],
			Scope:     scope,
		})
	}
	return addrs, degraded
}

// ParseLinks parses `ip -o link show` output into interface names.
//
//	2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 ...
func ParseLinks(output string) ([]string, bool) {
	var names []string
	degraded := false
	for _, line := range lines(output) {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			degraded = true
			continue
		}
		name := strings.TrimSpace(parts[1])
		// veth peers are reported as "veth0@if5"
		if i := strings.IndexByte(name, '@'); i > 0 {
			name = name[:i]
		}
		if name == "" {
			degraded = true
			continue
		}
		names = append(names, name)
	}
	return names, degraded
}

// ParseDefaultRoutes parses `ip route show default` output into a map of
// interface name to gateway.
//
//	default via 192.168.1.1 dev eth0 proto dhcp src 192.168.1.5 metric 100
func ParseDefaultRoutes(output string) (map[string]string, bool) {
	gateways := make(map[string]string)
	degraded := false
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		via, dev := "", ""
		for i := 0; i+1 < len(fields); i++ {
			switch fields[i] {
			case "via":
				via = fields[i+1]
			case "dev":
				dev = fields[i+1]
			}
		}
		if via == "" || dev == "" {
			degraded = true
			continue
		}
		if _, exists := gateways[dev]; !exists {
			gateways[dev] = via
		}
	}
	return gateways, degraded
}

// ParseOSRelease parses /etc/os-release KEY=value pairs, unquoting values.
func ParseOSRelease(output string) (map[string]string, bool) {
	info := make(map[string]string)
	degraded := false
	for _, line := range lines(output) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			degraded = true
			continue
		}
		info[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return info, degraded
}

// ParsePingLatency extracts the round trip time in milliseconds from ping
// output ("time=12.3 ms"). It returns false when no reply line is present.
func ParsePingLatency(output string) (string, bool) {
	for _, line := range lines(output) {
		i := strings.Index(line, "time=")
		if i < 0 {
			continue
		}
		rest := line[i+len("time="):]
		end := strings.IndexFunc(rest, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.'
		})
		if end < 0 {
			end = len(rest)
		}
		if end == 0 {
			continue
		}
		return rest[:end], true
	}
	return "", false
}

// FilterInterface returns the addresses of iface in family. Empty arguments match anything.
func FilterInterface(addrs []Address, iface, family string) []Address {
	var out []Address
	for _, a := range addrs {
		if iface != "" && a.Interface != iface {
			continue
		}
		if family != "" && a.Family != family {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Interfaces returns the sorted, de-duplicated interface names in addrs.
func Interfaces(addrs []Address) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range addrs {
		if _, ok := seen[a.Interface]; ok {
			continue
		}
		seen[a.Interface] = struct{}{}
		out = append(out, a.Interface)
	}
	sort.Strings(out)
	return out
}

func lines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
