package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tpodg/ipsettle/internal/app"
	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/server"
	"github.com/tpodg/ipsettle/internal/session"
	"github.com/tpodg/ipsettle/internal/task"
)

// dialHost builds the transport dialer for a configured host. Tests replace it.
var dialHost = func(h config.HostConfig) server.Dialer {
	return server.NewSSHServer(h.Name, h.Address, server.User{
		Name:         h.User.Name,
		Password:     h.User.Password,
		SSHKey:       h.User.SSHKey,
		PrivateKey:   h.User.PrivateKey,
		Passphrase:   h.User.Passphrase,
		SudoPassword: h.User.SudoPassword,
	}, h.KnownHostsPath, server.SSHOptions{
		UseAgent:         h.UseAgent,
		InsecureHostKey:  h.InsecureHostKey,
		HandshakeTimeout: h.HandshakeTimeout,
	})
}

func selectedHosts(a *app.App) ([]config.HostConfig, error) {
	hosts, err := a.Config.Select(hostNames...)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts configured")
	}
	return hosts, nil
}

// selectOne returns the single host a mutating command works on.
func selectOne(a *app.App) (config.HostConfig, error) {
	hosts, err := selectedHosts(a)
	if err != nil {
		return config.HostConfig{}, err
	}
	if len(hosts) > 1 {
		return config.HostConfig{}, fmt.Errorf("%d hosts selected, pick one with --host", len(hosts))
	}
	return hosts[0], nil
}

func connect(ctx context.Context, a *app.App, h config.HostConfig) error {
	_, err := a.Sessions.Connect(ctx, h.Name, dialHost(h))
	return err
}

// adapterFor returns the configured adapter of h, or detects it from the
// host's os-release.
func adapterFor(ctx context.Context, a *app.App, h config.HostConfig) (netcfg.Adapter, error) {
	opts := []netcfg.Option{netcfg.WithLogger(a.Logger), netcfg.WithMetrics(a.Metrics)}
	if h.Adapter != "" {
		if !netcfg.Known(h.Adapter) {
			return nil, fmt.Errorf("host %q: unknown adapter %q, use one of %s", h.Name, h.Adapter, strings.Join(netcfg.Names(), ", "))
		}
		return netcfg.ForName(h.Adapter, a.Sessions, h.Name, opts...), nil
	}
	osRelease, err := a.Sessions.OSRelease(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	adapter := netcfg.ForOSRelease(osRelease, a.Sessions, h.Name, opts...)
	a.Logger.Debug("Detected adapter", "host", h.Name, "adapter", adapter.Name())
	return adapter, nil
}

// connectAdapter connects h and selects its adapter.
func connectAdapter(ctx context.Context, a *app.App, h config.HostConfig) (netcfg.Adapter, error) {
	if err := connect(ctx, a, h); err != nil {
		return nil, err
	}
	return adapterFor(ctx, a, h)
}

// target adapts a connected host to task.Host.
type target struct {
	id       string
	adapter  netcfg.Adapter
	sessions *session.Manager
}

var _ task.Host = (*target)(nil)

func (t *target) ID() string              { return t.id }
func (t *target) Adapter() netcfg.Adapter { return t.adapter }
func (t *target) Gateways(ctx context.Context) (map[string]string, error) {
	return t.sessions.Gateways(ctx, t.id)
}

func printAddresses(w io.Writer, host string, addrs []netinfo.Address) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tINTERFACE\tFAMILY\tADDRESS\tSCOPE")
	for _, addr := range addrs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", host, addr.Interface, addr.Family, addr.Address, addr.Scope)
	}
	return tw.Flush()
}
