package netcfg

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/tpodg/ipsettle/internal/netinfo"
)

const NameInterfaces = "debian"

const (
	interfacesFile   = "/etc/network/interfaces"
	loopbackStanza   = "auto lo\niface lo inet loopback\n"
	stanzaIndent     = "    "
	defaultIfaceMask = 24
)

// Interfaces edits /etc/network/interfaces in place: every stanza of the
// interface and its numbered aliases is replaced, the rest of the file is kept.
type Interfaces struct {
	base
}

var _ Adapter = (*Interfaces)(nil)

func NewInterfaces(remote Remote, host string, opts ...Option) *Interfaces {
	a := &Interfaces{}
	a.init(NameInterfaces, remote, host, opts)
	return a
}

type ifupdownData struct {
	File fileWrite
	Down []string
	Up   []string
}

func (a *Interfaces) Apply(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	current, err := a.readInterfaces(ctx)
	if err != nil {
		return Result{}, err
	}
	script, err := staticInterfacesScript(current, req)
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

func (a *Interfaces) RemoveIPs(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	current, err := a.readInterfaces(ctx)
	if err != nil {
		return nil, err
	}

	existing := parseStanzas(current, iface)
	if len(existing.CIDRs) == 0 {
		return a.removeUnmanaged(ctx, iface, addresses)
	}
	remaining := subtract(existing.CIDRs, addresses)
	if len(remaining) == len(existing.CIDRs) {
		return a.CurrentIPs(ctx)
	}
	if len(remaining) == 0 {
		a.logger.Info("removal leaves no addresses, clearing", "iface", iface)
		return a.ClearIPs(ctx, iface)
	}

	req := Request{
		Interface: iface,
		Addresses: remaining,
		Prefix:    prefixOf(remaining[0]),
		Gateway:   existing.Gateway,
		DNS:       existing.DNS,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	script, err := staticInterfacesScript(current, req)
	if err != nil {
		return nil, err
	}
	if err := a.runScript(ctx, opRemove, script); err != nil {
		return nil, err
	}
	return a.CurrentIPs(ctx)
}

// removeUnmanaged takes addresses the interfaces file does not own off the
// link directly and leaves the file alone.
func (a *Interfaces) removeUnmanaged(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error) {
	live, err := a.ifaceCIDRs(ctx, iface)
	if err != nil {
		return nil, err
	}
	remaining := subtract(live, addresses)
	toRemove := subtract(live, remaining)
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

func (a *Interfaces) ClearScript(ctx context.Context, iface string) (string, error) {
	if err := validateInterfaceName(iface); err != nil {
		return "", err
	}
	current, err := a.readInterfaces(ctx)
	if err != nil {
		return "", err
	}
	kept, names := stripStanzas(current, iface)
	block := fmt.Sprintf("\nauto %s\niface %s inet dhcp\n", iface, iface)
	return interfacesScript(kept+"\n"+block, downOrder(names, iface), []string{iface})
}

func (a *Interfaces) ClearIPs(ctx context.Context, iface string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	script, err := a.ClearScript(ctx, iface)
	if err != nil {
		return nil, err
	}
	return a.finishClear(ctx, iface, script)
}

func (a *Interfaces) readInterfaces(ctx context.Context) (string, error) {
	content, _, err := a.readFileIfExists(ctx, interfacesFile)
	if err != nil {
		return "", err
	}
	return content, nil
}

func staticInterfacesScript(current string, req Request) (string, error) {
	kept, names := stripStanzas(current, req.Interface)
	up := []string{req.Interface}
	for i := range req.Addresses[1:] {
		up = append(up, aliasName(req.Interface, i))
	}
	return interfacesScript(kept+"\n"+renderStaticStanzas(req), downOrder(names, req.Interface), up)
}

func interfacesScript(content string, down, up []string) (string, error) {
	file, err := newFileWrite(interfacesFile, content)
	if err != nil {
		return "", err
	}
	return renderScript("ifupdown", ifupdownData{File: file, Down: down, Up: up})
}

func aliasName(iface string, index int) string {
	return iface + ":" + strconv.Itoa(index)
}

// renderStaticStanzas renders the primary stanza followed by one alias stanza
// per extra address.
func renderStaticStanzas(req Request) string {
	var b strings.Builder
	primary := req.Addresses[0]

	fmt.Fprintf(&b, "\nauto %s\niface %s inet static\n", req.Interface, req.Interface)
	fmt.Fprintf(&b, "%saddress %s\n", stanzaIndent, withPrefix(primary, req.Prefix))
	// A gateway equal to the address makes ifup fail with RTNETLINK errors.
	if req.Gateway != "" && req.Gateway != primary {
		fmt.Fprintf(&b, "%sgateway %s\n", stanzaIndent, req.Gateway)
		if req.Prefix == 32 {
			fmt.Fprintf(&b, "%spost-up ip route add %s dev %s scope link || true\n", stanzaIndent, req.Gateway, req.Interface)
			fmt.Fprintf(&b, "%spost-up ip route add default via %s dev %s || true\n", stanzaIndent, req.Gateway, req.Interface)
		}
	}
	if len(req.DNS) > 0 {
		fmt.Fprintf(&b, "%sdns-nameservers %s\n", stanzaIndent, strings.Join(req.DNS, " "))
	}

	for i, addr := range req.Addresses[1:] {
		alias := aliasName(req.Interface, i)
		fmt.Fprintf(&b, "\nauto %s\niface %s inet static\n", alias, alias)
		fmt.Fprintf(&b, "%saddress %s\n", stanzaIndent, withPrefix(addr, req.Prefix))
	}
	return b.String()
}

// downOrder lists aliases before the primary so the primary goes down last.
func downOrder(names []string, iface string) []string {
	out := make([]string, 0, len(names)+1)
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] != iface {
			out = append(out, names[i])
		}
	}
	return append(out, iface)
}

var stanzaKeywords = map[string]bool{
	"auto":              true,
	"iface":             true,
	"mapping":           true,
	"source":            true,
	"source-directory":  true,
	"allow-hotplug":     true,
	"allow-auto":        true,
	"no-auto-down":      true,
	"no-scripts":        true,
	"rename":            true,
	"allow-ovs":         true,
	"allow-wireless":    true,
	"allow-bond":        true,
	"allow-vlan":        true,
	"allow-ppp":         true,
	"allow-bridge":      true,
	"allow-new-unknown": true,
}

func ownedBy(name, iface string) bool {
	return name == iface || strings.HasPrefix(name, iface+":")
}

// stripStanzas removes every stanza and auto entry of iface and its aliases.
// It returns the remaining content without trailing blank lines and the
// logical interface names that were removed, in file order.
func stripStanzas(content, iface string) (string, []string) {
	if strings.TrimSpace(content) == "" {
		return strings.TrimRight(loopbackStanza, "\n"), nil
	}

	var kept []string
	var names []string
	seen := make(map[string]bool)
	addName := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	skipping := false
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !stanzaKeywords[fields[0]] {
			if !skipping {
				kept = append(kept, line)
			}
			continue
		}

		keyword := fields[0]
		switch {
		case keyword == "iface" || keyword == "mapping":
			skipping = len(fields) > 1 && ownedBy(fields[1], iface)
			if skipping {
				addName(fields[1])
				continue
			}
			kept = append(kept, line)
		case keyword == "auto" || strings.HasPrefix(keyword, "allow-"):
			skipping = false
			var others []string
			for _, n := range fields[1:] {
				if ownedBy(n, iface) {
					addName(n)
					continue
				}
				others = append(others, n)
			}
			if len(others) > 0 {
				kept = append(kept, keyword+" "+strings.Join(others, " "))
			} else if len(fields) == 1 {
				kept = append(kept, line)
			}
		default:
			skipping = false
			kept = append(kept, line)
		}
	}

	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, "\n"), names
}

// stanzaConfig is the static configuration recovered from an interface's stanzas.
type stanzaConfig struct {
	CIDRs   []string
	Gateway string
	DNS     []string
}

// parseStanzas reads addresses, gateway and nameservers from the stanzas of
// iface and its aliases only.
func parseStanzas(content, iface string) stanzaConfig {
	var cfg stanzaConfig
	inOwned := false
	addr, mask := "", 0

	flush := func() {
		if addr == "" {
			return
		}
		cidr := addr
		if !strings.Contains(cidr, "/") {
			if mask == 0 {
				mask = defaultIfaceMask
			}
			cidr = withPrefix(addr, mask)
		}
		if !matchesAny(cidr, cfg.CIDRs) {
			cfg.CIDRs = append(cfg.CIDRs, cidr)
		}
		addr, mask = "", 0
	}

	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if stanzaKeywords[fields[0]] {
			flush()
			inOwned = fields[0] == "iface" && len(fields) > 1 && ownedBy(fields[1], iface)
			continue
		}
		if !inOwned || len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "address":
			addr = fields[1]
		case "netmask":
			mask = maskBits(fields[1])
		case "gateway":
			if cfg.Gateway == "" {
				cfg.Gateway = fields[1]
			}
		case "dns-nameservers":
			if len(cfg.DNS) == 0 {
				cfg.DNS = append([]string(nil), fields[1:]...)
			}
		}
	}
	flush()
	return cfg
}

// maskBits converts a dotted netmask or a bare prefix length to bits.
func maskBits(mask string) int {
	if n, err := strconv.Atoi(mask); err == nil {
		return n
	}
	addr, err := netip.ParseAddr(mask)
	if err != nil || !addr.Is4() {
		return 0
	}
	b := addr.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	bits := 0
	for v&(1<<31) != 0 {
		bits++
		v <<= 1
	}
	return bits
}
