package fakehost

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

type netplanDoc struct {
	Network struct {
		Ethernets map[string]netplanEthernet `yaml:"ethernets"`
	} `yaml:"network"`
}

type netplanEthernet struct {
	DHCP4     bool     `yaml:"dhcp4"`
	Addresses []any    `yaml:"addresses"`
	Gateway4  string   `yaml:"gateway4"`
	Routes    []struct {
		To  string `yaml:"to"`
		Via string `yaml:"via"`
	} `yaml:"routes"`
}

// netplanApply renders every file under /etc/netplan onto the links it names.
// Later files override earlier ones per interface, like netplan does.
func (h *Host) netplanApply(stderr *strings.Builder) int {
	var paths []string
	for p := range h.files {
		if strings.HasPrefix(p, "/etc/netplan/") && (strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml")) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	merged := make(map[string]netplanEthernet)
	for _, p := range paths {
		var doc netplanDoc
		if err := yaml.Unmarshal([]byte(h.files[p]), &doc); err != nil {
			fmt.Fprintf(stderr, "Error in network definition %s: %v\n", p, err)
			return 1
		}
		for name, eth := range doc.Network.Ethernets {
			merged[name] = eth
		}
	}

	for name, eth := range merged {
		l := h.link(name)
		if l == nil {
			continue
		}
		l.addrs = nil
		delete(h.routes, name)
		for _, entry := range eth.Addresses {
			if c := netplanCIDR(entry); c != "" {
				l.addrs = append(l.addrs, address{cidr: c, label: name})
			}
		}
		if eth.DHCP4 {
			h.acquireLease(name, name)
		}
		if eth.Gateway4 != "" {
			h.routes[name] = eth.Gateway4
		}
		for _, r := range eth.Routes {
			if r.To == "default" || r.To == "0.0.0.0/0" {
				h.routes[name] = r.Via
			}
		}
		l.up = true
	}
	return 0
}

// netplanCIDR accepts both `- 10.0.0.5/24` and `- 10.0.0.5/24: {label: x}`.
func netplanCIDR(entry any) string {
	switch e := entry.(type) {
	case string:
		return e
	case map[string]any:
		for k := range e {
			return k
		}
	}
	return ""
}
