package netcfg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/tpodg/ipsettle/internal/netinfo"
)

const NameNetplan = "ubuntu"

const (
	netplanDir         = "/etc/netplan"
	defaultNetplanFile = netplanDir + "/01-netcfg.yaml"
	cmdListNetplan     = "ls -1 " + netplanDir + "/*.yaml " + netplanDir + "/*.yml 2>/dev/null"
)

// Netplan merges a per-interface block into the first netplan document and
// runs `netplan apply`. Unrelated keys and interfaces are preserved in order.
type Netplan struct {
	base
}

var _ Adapter = (*Netplan)(nil)

func NewNetplan(remote Remote, host string, opts ...Option) *Netplan {
	a := &Netplan{}
	a.init(NameNetplan, remote, host, opts)
	return a
}

type netplanData struct {
	File fileWrite
}

func (a *Netplan) Apply(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	path, doc, err := a.load(ctx)
	if err != nil {
		return Result{}, err
	}
	doc = editEthernet(doc, req.Interface, func(block yaml.MapSlice) yaml.MapSlice {
		return mergeStatic(block, req)
	})
	script, err := netplanScript(path, doc)
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

func (a *Netplan) RemoveIPs(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	path, doc, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	block, ok := ethernet(doc, iface)
	if !ok {
		return a.CurrentIPs(ctx)
	}
	entries := addressEntries(mapGet(block, "addresses"))
	remaining := withoutAddresses(entries, addresses)
	if len(remaining) == len(entries) {
		return a.CurrentIPs(ctx)
	}
	if len(entryCIDRs(remaining)) == 0 {
		a.logger.Info("removal leaves no addresses, clearing", "iface", iface)
		return a.ClearIPs(ctx, iface)
	}

	doc = editEthernet(doc, iface, func(block yaml.MapSlice) yaml.MapSlice {
		return mapSet(block, "addresses", remaining)
	})
	script, err := netplanScript(path, doc)
	if err != nil {
		return nil, err
	}
	if err := a.runScript(ctx, opRemove, script); err != nil {
		return nil, err
	}
	return a.CurrentIPs(ctx)
}

func (a *Netplan) ClearScript(ctx context.Context, iface string) (string, error) {
	if err := validateInterfaceName(iface); err != nil {
		return "", err
	}
	path, doc, err := a.load(ctx)
	if err != nil {
		return "", err
	}
	doc = editEthernet(doc, iface, func(block yaml.MapSlice) yaml.MapSlice {
		for _, key := range []string{"addresses", "gateway4", "routes", "nameservers"} {
			block = mapDelete(block, key)
		}
		return mapSet(block, "dhcp4", true)
	})
	return netplanScript(path, doc)
}

func (a *Netplan) ClearIPs(ctx context.Context, iface string) ([]netinfo.Address, error) {
	if !a.bound() {
		return nil, ErrUnbound
	}
	script, err := a.ClearScript(ctx, iface)
	if err != nil {
		return nil, err
	}
	return a.finishClear(ctx, iface, script)
}

// load resolves the netplan file and decodes it. Unbound adapters start from
// an empty document at the default path.
func (a *Netplan) load(ctx context.Context) (string, yaml.MapSlice, error) {
	path, err := a.resolveFile(ctx)
	if err != nil {
		return "", nil, err
	}
	raw, _, err := a.readFileIfExists(ctx, path)
	if err != nil {
		return "", nil, err
	}
	doc, err := decodeNetplan(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return path, doc, nil
}

func (a *Netplan) resolveFile(ctx context.Context) (string, error) {
	if !a.bound() {
		return defaultNetplanFile, nil
	}
	res, err := a.read(ctx, cmdListNetplan)
	if err != nil {
		return "", fmt.Errorf("list netplan files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".yaml") || strings.HasSuffix(line, ".yml") {
			files = append(files, line)
		}
	}
	if len(files) == 0 {
		a.logger.Debug("no netplan file found, using default", "path", defaultNetplanFile)
		return defaultNetplanFile, nil
	}
	sort.Strings(files)
	return files[0], nil
}

func netplanScript(path string, doc yaml.MapSlice) (string, error) {
	content, err := encodeNetplan(doc)
	if err != nil {
		return "", err
	}
	file, err := newFileWrite(path, content)
	if err != nil {
		return "", err
	}
	return renderScript("netplan", netplanData{File: file})
}

func decodeNetplan(raw string) (yaml.MapSlice, error) {
	if strings.TrimSpace(raw) == "" {
		return yaml.MapSlice{}, nil
	}
	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions([]byte(raw), &doc, yaml.UseOrderedMap()); err != nil {
		return nil, err
	}
	return doc, nil
}

func encodeNetplan(doc yaml.MapSlice) (string, error) {
	data, err := yaml.MarshalWithOptions(doc, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "", fmt.Errorf("encode netplan: %w", err)
	}
	return string(data), nil
}

// mergeStatic adds the request's addresses to block, deduplicated by exact
// string, and switches it to static addressing.
func mergeStatic(block yaml.MapSlice, req Request) yaml.MapSlice {
	entries := addressEntries(mapGet(block, "addresses"))
	have := entryCIDRs(entries)
	for _, cidr := range req.CIDRs() {
		if !containsString(have, cidr) {
			entries = append(entries, cidr)
			have = append(have, cidr)
		}
	}
	block = mapSet(block, "addresses", entries)
	block = mapDelete(block, "gateway4")
	block = mapSet(block, "dhcp4", false)

	if req.Gateway != "" {
		var routes []any
		if existing, ok := mapGet(block, "routes").([]any); ok {
			for _, r := range existing {
				if isDefaultRoute(r) {
					continue
				}
				routes = append(routes, r)
			}
		}
		routes = append(routes, yaml.MapSlice{
			{Key: "to", Value: "default"},
			{Key: "via", Value: req.Gateway},
		})
		block = mapSet(block, "routes", routes)
	}

	if len(req.DNS) > 0 {
		block = mapSet(block, "nameservers", yaml.MapSlice{
			{Key: "addresses", Value: anyList(req.DNS)},
		})
	}
	return block
}

func isDefaultRoute(route any) bool {
	m, ok := route.(yaml.MapSlice)
	if !ok {
		return false
	}
	to := fmt.Sprint(mapGet(m, "to"))
	return to == "default" || to == "0.0.0.0/0"
}

// editEthernet applies fn to network.ethernets.<iface>, creating the path
// and the version/renderer defaults when missing.
func editEthernet(doc yaml.MapSlice, iface string, fn func(yaml.MapSlice) yaml.MapSlice) yaml.MapSlice {
	network, _ := mapGet(doc, "network").(yaml.MapSlice)
	if mapGet(network, "version") == nil {
		network = mapSet(network, "version", 2)
	}
	if mapGet(network, "renderer") == nil {
		network = mapSet(network, "renderer", "networkd")
	}
	ethernets, _ := mapGet(network, "ethernets").(yaml.MapSlice)
	block, _ := mapGet(ethernets, iface).(yaml.MapSlice)

	ethernets = mapSet(ethernets, iface, fn(block))
	network = mapSet(network, "ethernets", ethernets)
	return mapSet(doc, "network", network)
}

func ethernet(doc yaml.MapSlice, iface string) (yaml.MapSlice, bool) {
	network, _ := mapGet(doc, "network").(yaml.MapSlice)
	ethernets, _ := mapGet(network, "ethernets").(yaml.MapSlice)
	block, ok := mapGet(ethernets, iface).(yaml.MapSlice)
	return block, ok
}

func mapGet(m yaml.MapSlice, key string) any {
	for _, item := range m {
		if fmt.Sprint(item.Key) == key {
			return item.Value
		}
	}
	return nil
}

func mapSet(m yaml.MapSlice, key string, value any) yaml.MapSlice {
	for i, item := range m {
		if fmt.Sprint(item.Key) == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, yaml.MapItem{Key: key, Value: value})
}

func mapDelete(m yaml.MapSlice, key string) yaml.MapSlice {
	out := m[:0]
	for _, item := range m {
		if fmt.Sprint(item.Key) != key {
			out = append(out, item)
		}
	}
	return out
}

// addressEntries returns the raw entries of an addresses list. Entries are
// either plain CIDR strings or single-key mappings carrying options such as
// a label or lifetime.
func addressEntries(v any) []any {
	items, _ := v.([]any)
	return items
}

// entryCIDR returns the CIDR of an addresses entry, empty when it has none.
func entryCIDR(entry any) string {
	switch e := entry.(type) {
	case string:
		return e
	case yaml.MapSlice:
		if len(e) == 1 {
			if k, ok := e[0].Key.(string); ok {
				return k
			}
		}
	}
	return ""
}

func entryCIDRs(entries []any) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if cidr := entryCIDR(e); cidr != "" {
			out = append(out, cidr)
		}
	}
	return out
}

// withoutAddresses drops the entries selected by targets and keeps the rest
// as they are.
func withoutAddresses(entries []any, targets []string) []any {
	var out []any
	for _, e := range entries {
		if cidr := entryCIDR(e); cidr != "" && matchesAny(cidr, targets) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func anyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
