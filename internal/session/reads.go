package session

import (
	"context"

	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/strutil"
)

const (
	cmdListAddresses = "ip -o addr show"
	cmdListLinks     = "ip -o link show"
	cmdDefaultRoutes = "ip route show default"
	cmdOSRelease     = "cat /etc/os-release"
)

// CurrentAddresses lists every address assigned on hostID.
func (m *Manager) CurrentAddresses(ctx context.Context, hostID string) ([]netinfo.Address, error) {
	res, err := m.Exec(ctx, hostID, cmdListAddresses, false)
	if err != nil {
		return nil, err
	}
	addrs, degraded := netinfo.ParseAddresses(res.Stdout)
	m.noteDegraded(hostID, cmdListAddresses, degraded || res.ExitCode != 0)
	return addrs, nil
}

// Gateways maps interface names to their default gateway.
func (m *Manager) Gateways(ctx context.Context, hostID string) (map[string]string, error) {
	res, err := m.Exec(ctx, hostID, cmdDefaultRoutes, false)
	if err != nil {
		return nil, err
	}
	gateways, degraded := netinfo.ParseDefaultRoutes(res.Stdout)
	m.noteDegraded(hostID, cmdDefaultRoutes, degraded || res.ExitCode != 0)
	return gateways, nil
}

// Interfaces lists the link names of hostID.
func (m *Manager) Interfaces(ctx context.Context, hostID string) ([]string, error) {
	res, err := m.Exec(ctx, hostID, cmdListLinks, false)
	if err != nil {
		return nil, err
	}
	names, degraded := netinfo.ParseLinks(res.Stdout)
	m.noteDegraded(hostID, cmdListLinks, degraded || res.ExitCode != 0)
	return names, nil
}

// OSRelease returns the raw /etc/os-release text of hostID, empty when unreadable.
func (m *Manager) OSRelease(ctx context.Context, hostID string) (string, error) {
	res, err := m.Exec(ctx, hostID, cmdOSRelease, false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		m.noteDegraded(hostID, cmdOSRelease, true)
		return "", nil
	}
	return res.Stdout, nil
}

// PingResult is the outcome of a single ICMP probe.
type PingResult struct {
	Reachable bool   `json:"reachable"`
	LatencyMs string `json:"latency_ms,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Ping sends one echo request from sourceIP to target on hostID. An empty
// sourceIP lets the kernel pick the source address.
func (m *Manager) Ping(ctx context.Context, hostID, sourceIP, target string) (PingResult, error) {
	args := []string{"ping"}
	if sourceIP != "" {
		args = append(args, "-I", sourceIP)
	}
	cmd := strutil.ShellJoin(append(args, "-c", "1", "-W", "2", target)...)
	res, err := m.Exec(ctx, hostID, cmd, false)
	if err != nil {
		return PingResult{}, err
	}
	out := PingResult{Output: res.Stdout + res.Stderr}
	if res.ExitCode != 0 {
		return out, nil
	}
	out.Reachable = true
	if latency, ok := netinfo.ParsePingLatency(res.Stdout); ok {
		out.LatencyMs = latency
	}
	return out, nil
}

func (m *Manager) noteDegraded(hostID, command string, degraded bool) {
	if degraded {
		m.logger.Debug("introspection output degraded", "host", hostID, "command", command)
	}
}
