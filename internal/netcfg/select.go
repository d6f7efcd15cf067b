package netcfg

import (
	"sort"
	"strings"
)

type constructor func(remote Remote, host string, opts ...Option) Adapter

var adapters = map[string]constructor{
	NameNetworkManager: func(r Remote, h string, o ...Option) Adapter { return NewNetworkManager(r, h, o...) },
	NameNetplan:        func(r Remote, h string, o ...Option) Adapter { return NewNetplan(r, h, o...) },
	NameInterfaces:     func(r Remote, h string, o ...Option) Adapter { return NewInterfaces(r, h, o...) },
	NameIPRoute:        func(r Remote, h string, o ...Option) Adapter { return NewIPRoute(r, h, o...) },
}

// Matched in order; the first token found in the os-release text wins.
var fingerprints = []struct {
	name   string
	tokens []string
}{
	{NameNetplan, []string{"ubuntu"}},
	{NameInterfaces, []string{"debian"}},
	{NameNetworkManager, []string{"centos", "rhel", "red hat", "almalinux", "rocky", "fedora"}},
}

// Names lists the adapter names accepted by ForName.
func Names() []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectName maps os-release text to an adapter name, defaulting to generic.
func DetectName(osRelease string) string {
	lower := strings.ToLower(osRelease)
	for _, fp := range fingerprints {
		for _, token := range fp.tokens {
			if strings.Contains(lower, token) {
				return fp.name
			}
		}
	}
	return NameIPRoute
}

// ForOSRelease selects the adapter for the distribution described by osRelease.
// remote may be nil for a dry-run only adapter.
func ForOSRelease(osRelease string, remote Remote, host string, opts ...Option) Adapter {
	return adapters[DetectName(osRelease)](remote, host, opts...)
}

// ForName selects an adapter by name, case-insensitively, defaulting to generic.
func ForName(name string, remote Remote, host string, opts ...Option) Adapter {
	ctor, ok := adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		ctor = adapters[NameIPRoute]
	}
	return ctor(remote, host, opts...)
}

// Known reports whether name is an adapter name.
func Known(name string) bool {
	_, ok := adapters[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
