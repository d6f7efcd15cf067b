package netcfg_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpodg/ipsettle/internal/metrics"
	"github.com/tpodg/ipsettle/internal/netcfg"
	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/testutils/fakehost"
)

const hostID = "web-1"

type variant struct {
	name  string
	host  func() *fakehost.Host
	build func(r netcfg.Remote, opts ...netcfg.Option) netcfg.Adapter
}

func centosHost() *fakehost.Host {
	return fakehost.New().
		AddLink("eth0", "10.0.0.9/24").
		AddProfile("System eth0", "eth0", true, "10.0.0.9/24").
		SetLease("eth0", "192.168.1.50/24")
}

func debianHost() *fakehost.Host {
	return fakehost.New().
		AddLink("eth0", "10.0.0.9/24").
		SetLease("eth0", "192.168.1.50/24").
		WriteFile("/etc/network/interfaces", "source /etc/network/interfaces.d/*\n\nauto lo\niface lo inet loopback\n\nallow-hotplug eth0\niface eth0 inet static\n    address 10.0.0.9\n    netmask 255.255.255.0\n")
}

func ubuntuHost() *fakehost.Host {
	return fakehost.New().
		AddLink("eth0", "10.0.0.9/24").
		SetLease("eth0", "192.168.1.50/24").
		WriteFile("/etc/netplan/50-cloud-init.yaml", "network:\n  version: 2\n  ethernets:\n    eth0:\n      dhcp4: false\n      addresses:\n        - 10.0.0.9/24\n")
}

func genericHost() *fakehost.Host {
	return fakehost.New().
		AddLink("eth0", "10.0.0.9/24").
		SetLease("eth0", "192.168.1.50/24")
}

var variants = []variant{
	{netcfg.NameNetworkManager, centosHost, func(r netcfg.Remote, o ...netcfg.Option) netcfg.Adapter {
		return netcfg.NewNetworkManager(r, hostID, o...)
	}},
	{netcfg.NameInterfaces, debianHost, func(r netcfg.Remote, o ...netcfg.Option) netcfg.Adapter {
		return netcfg.NewInterfaces(r, hostID, o...)
	}},
	{netcfg.NameNetplan, ubuntuHost, func(r netcfg.Remote, o ...netcfg.Option) netcfg.Adapter {
		return netcfg.NewNetplan(r, hostID, o...)
	}},
	{netcfg.NameIPRoute, genericHost, func(r netcfg.Remote, o ...netcfg.Option) netcfg.Adapter {
		return netcfg.NewIPRoute(r, hostID, o...)
	}},
}

func request(addrs ...string) netcfg.Request {
	return netcfg.Request{
		Interface: "eth0",
		Addresses: addrs,
		Prefix:    24,
		Gateway:   "10.0.0.1",
		DNS:       []string{"1.1.1.1"},
	}
}

func staticCIDRs(addrs []netinfo.Address, iface string) []string {
	var out []string
	for _, a := range netinfo.FilterInterface(addrs, iface, netinfo.FamilyIPv4) {
		if a.Scope == netinfo.ScopeStatic {
			out = append(out, a.Address)
		}
	}
	return out
}

func TestApplyConfiguresAddress(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h := v.host()
			a := v.build(h)

			res, err := a.Apply(context.Background(), request("10.0.0.20"))
			require.NoError(t, err)
			assert.False(t, res.DryRun)
			assert.Equal(t, v.name, res.Adapter)
			assert.Contains(t, staticCIDRs(res.Addresses, "eth0"), "10.0.0.20/24")
			assert.Equal(t, "10.0.0.1", h.Gateway("eth0"))
		})
	}
}

func TestClearLeavesNoStaticAddress(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h := v.host()
			a := v.build(h)

			_, err := a.Apply(context.Background(), request("10.0.0.20", "10.0.0.21"))
			require.NoError(t, err)

			left, err := a.ClearIPs(context.Background(), "eth0")
			require.NoError(t, err)
			assert.Empty(t, staticCIDRs(left, "eth0"))
			assert.Equal(t, []string{"192.168.1.50/24"}, h.CIDRs("eth0"))
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h := v.host()
			a := v.build(h)

			_, err := a.Apply(context.Background(), request("10.0.0.20"))
			require.NoError(t, err)
			first := h.CIDRs("eth0")

			_, err = a.Apply(context.Background(), request("10.0.0.20"))
			require.NoError(t, err)
			assert.Equal(t, first, h.CIDRs("eth0"))
		})
	}
}

func TestApplyIsIncremental(t *testing.T) {
	tests := []struct {
		variant variant
		want    []string
	}{
		{variants[0], []string{"10.0.0.20/24", "10.0.0.21/24", "10.0.0.9/24"}},
		{variants[2], []string{"10.0.0.20/24", "10.0.0.21/24", "10.0.0.9/24"}},
		{variants[3], []string{"10.0.0.21/24"}},
	}
	for _, tt := range tests {
		t.Run(tt.variant.name, func(t *testing.T) {
			h := tt.variant.host()
			a := tt.variant.build(h)

			_, err := a.Apply(context.Background(), request("10.0.0.20"))
			require.NoError(t, err)
			_, err = a.Apply(context.Background(), request("10.0.0.21"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.CIDRs("eth0"))
		})
	}
}

func TestDryRunMatchesApply(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			applied := v.host()
			_, err := v.build(applied).Apply(context.Background(), request("10.0.0.20", "10.0.0.21"))
			require.NoError(t, err)

			dry := v.host()
			req := request("10.0.0.20", "10.0.0.21")
			req.DryRun = true
			res, err := v.build(dry).Apply(context.Background(), req)
			require.NoError(t, err)
			require.True(t, res.DryRun)
			require.NotEmpty(t, res.Script)
			assert.Empty(t, res.Addresses)
			assert.Equal(t, []string{"10.0.0.9/24"}, dry.CIDRs("eth0"), "dry run must not change the host")

			_, stderr, code := dry.RunScript(res.Script)
			require.Equal(t, 0, code, stderr)
			assert.Equal(t, applied.CIDRs("eth0"), dry.CIDRs("eth0"))
			assert.Equal(t, applied.Gateway("eth0"), dry.Gateway("eth0"))
		})
	}
}

func TestUnboundDryRun(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			a := netcfg.ForName(v.name, nil, "")
			req := request("10.0.0.20")
			req.DryRun = true

			res, err := a.Apply(context.Background(), req)
			require.NoError(t, err)
			assert.Contains(t, res.Script, "10.0.0.20")

			_, err = a.ClearIPs(context.Background(), "eth0")
			assert.ErrorIs(t, err, netcfg.ErrUnbound)
			_, err = a.CurrentIPs(context.Background())
			assert.ErrorIs(t, err, netcfg.ErrUnbound)
		})
	}
}

func TestRemoveIPs(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h := v.host()
			a := v.build(h)

			_, err := a.Apply(context.Background(), request("10.0.0.20", "10.0.0.21", "10.0.0.22"))
			require.NoError(t, err)
			if v.name == netcfg.NameIPRoute {
				_, stderr, code := h.RunScript("ip addr add 10.0.0.21/24 dev eth0\nip addr add 10.0.0.22/24 dev eth0")
				require.Equal(t, 0, code, stderr)
			}
			before := h.CIDRs("eth0")

			left, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.21"})
			require.NoError(t, err)
			cidrs := staticCIDRs(left, "eth0")
			assert.NotContains(t, cidrs, "10.0.0.21/24")
			assert.Contains(t, cidrs, "10.0.0.20/24")
			assert.Contains(t, cidrs, "10.0.0.22/24")
			assert.Len(t, h.CIDRs("eth0"), len(before)-1)
		})
	}
}

// mutations lists the commands that change a host's network state.
var mutations = []string{"ifdown", "ifup", "netplan apply", "con up", "con mod", "addr del", "addr flush", "addr add", "cat >"}

func TestRemoveUnknownAddressChangesNothing(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h := v.host()
			a := v.build(h)
			before := h.CIDRs("eth0")
			file, _ := h.File("/etc/network/interfaces")
			history := len(h.History())

			left, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.77"})
			require.NoError(t, err)
			assert.Contains(t, staticCIDRs(left, "eth0"), "10.0.0.9/24")
			assert.Equal(t, before, h.CIDRs("eth0"))

			after, _ := h.File("/etc/network/interfaces")
			assert.Equal(t, file, after)
			for _, cmd := range h.History()[history:] {
				for _, m := range mutations {
					assert.NotContains(t, cmd, m)
				}
			}
		})
	}
}

func TestInterfacesRemoveWithoutStanza(t *testing.T) {
	const loopbackOnly = "auto lo\niface lo inet loopback\n"
	h := fakehost.New().
		AddLink("eth0", "10.0.0.9/24", "10.0.0.10/24").
		SetLease("eth0", "192.168.1.50/24").
		WriteFile("/etc/network/interfaces", loopbackOnly)
	a := netcfg.NewInterfaces(h, hostID)

	_, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.77"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.9/24", "10.0.0.10/24"}, h.CIDRs("eth0"))

	left, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.10"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.9/24"}, staticCIDRs(left, "eth0"))
	assert.Equal(t, []string{"10.0.0.9/24"}, h.CIDRs("eth0"))

	content, _ := h.File("/etc/network/interfaces")
	assert.Equal(t, loopbackOnly, content)
}

func TestInterfacesRemoveKeepsStanzaWhenNothingMatches(t *testing.T) {
	h := debianHost()
	a := netcfg.NewInterfaces(h, hostID)

	_, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.77/24"})
	require.NoError(t, err)
	content, _ := h.File("/etc/network/interfaces")
	assert.Contains(t, content, "allow-hotplug eth0")
	assert.Contains(t, content, "netmask 255.255.255.0")
}

func TestIPRouteAppliesOnlyPrimaryAddress(t *testing.T) {
	h := genericHost()
	a := netcfg.NewIPRoute(h, hostID)

	req := request("10.0.0.20", "10.0.0.21")
	req.DryRun = true
	dry, err := a.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, dry.Script, "ip addr add '10.0.0.20/24' dev 'eth0'")
	assert.NotContains(t, dry.Script, "10.0.0.21")

	_, err = a.Apply(context.Background(), request("10.0.0.20", "10.0.0.21"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.20/24"}, h.CIDRs("eth0"))
}

func TestIPRouteClearRestoresResolvConf(t *testing.T) {
	const original = "nameserver 192.168.1.1\n"
	h := genericHost().WriteFile("/etc/resolv.conf", original)
	a := netcfg.NewIPRoute(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	resolv, _ := h.File("/etc/resolv.conf")
	assert.Equal(t, "nameserver 1.1.1.1\n", resolv)

	// a second apply must not back up the file it wrote itself
	_, err = a.Apply(context.Background(), request("10.0.0.21"))
	require.NoError(t, err)

	_, err = a.ClearIPs(context.Background(), "eth0")
	require.NoError(t, err)
	resolv, _ = h.File("/etc/resolv.conf")
	assert.Equal(t, original, resolv)
	_, ok := h.File("/etc/resolv.conf.ipsettle")
	assert.False(t, ok)
}

func TestNetplanKeepsMappingAddressEntries(t *testing.T) {
	h := ubuntuHost().
		WriteFile("/etc/netplan/50-cloud-init.yaml", `network:
  version: 2
  ethernets:
    eth0:
      dhcp4: false
      addresses:
        - 10.0.0.9/24:
            label: eth0:mgmt
        - 10.0.0.10/24
`)
	a := netcfg.NewNetplan(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	content, _ := h.File("/etc/netplan/50-cloud-init.yaml")
	assert.Contains(t, content, "label:")
	assert.Contains(t, content, "eth0:mgmt")
	assert.Contains(t, content, "10.0.0.20/24")

	_, err = a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.10"})
	require.NoError(t, err)
	content, _ = h.File("/etc/netplan/50-cloud-init.yaml")
	assert.Contains(t, content, "eth0:mgmt")
	assert.NotContains(t, content, "10.0.0.10/24")
	assert.Equal(t, []string{"10.0.0.9/24", "10.0.0.20/24"}, h.CIDRs("eth0"))

	_, err = a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.9"})
	require.NoError(t, err)
	content, _ = h.File("/etc/netplan/50-cloud-init.yaml")
	assert.NotContains(t, content, "eth0:mgmt")
	assert.Equal(t, []string{"10.0.0.20/24"}, h.CIDRs("eth0"))
}

func TestRemoveLastAddressClears(t *testing.T) {
	h := genericHost()
	a := netcfg.NewIPRoute(h, hostID)

	left, err := a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.9/24"})
	require.NoError(t, err)
	assert.Empty(t, staticCIDRs(left, "eth0"))
	assert.Equal(t, []string{"192.168.1.50/24"}, h.CIDRs("eth0"))
}

func TestInterfacesRemoveKeepsOtherStanzas(t *testing.T) {
	h := debianHost().AddLink("eth1", "172.16.0.2/24")
	content, _ := h.File("/etc/network/interfaces")
	h.WriteFile("/etc/network/interfaces", content+"\nauto eth1\niface eth1 inet static\n    address 172.16.0.2/24\n")
	a := netcfg.NewInterfaces(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20", "10.0.0.21", "10.0.0.22"))
	require.NoError(t, err)
	_, err = a.RemoveIPs(context.Background(), "eth0", []string{"10.0.0.20"})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.21/24", "10.0.0.22/24"}, h.CIDRs("eth0"))
	assert.Equal(t, []string{"172.16.0.2/24"}, h.CIDRs("eth1"))

	content, _ = h.File("/etc/network/interfaces")
	assert.Contains(t, content, "source /etc/network/interfaces.d/*")
	assert.Contains(t, content, "iface eth1 inet static\n    address 172.16.0.2/24")
	assert.Contains(t, content, "iface eth0:0 inet static")
	assert.NotContains(t, content, "eth0:1")
	assert.NotContains(t, content, "10.0.0.20")
}

func TestNetplanPreservesOtherKeys(t *testing.T) {
	h := ubuntuHost().AddLink("eth1")
	h.WriteFile("/etc/netplan/50-cloud-init.yaml", `network:
  version: 2
  renderer: NetworkManager
  ethernets:
    eth0:
      dhcp4: true
      mtu: 9000
    eth1:
      dhcp4: false
      addresses:
        - 172.16.0.2/24
`)
	a := netcfg.NewNetplan(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)

	content, ok := h.File("/etc/netplan/50-cloud-init.yaml")
	require.True(t, ok)
	assert.Contains(t, content, "renderer: NetworkManager")
	assert.Contains(t, content, "mtu: 9000")
	assert.Contains(t, content, "172.16.0.2/24")
	assert.Less(t, strings.Index(content, "eth0:"), strings.Index(content, "eth1:"))
	assert.Equal(t, []string{"172.16.0.2/24"}, h.CIDRs("eth1"))
}

func TestNetplanCreatesDefaultFile(t *testing.T) {
	h := genericHost()
	a := netcfg.NewNetplan(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	content, ok := h.File("/etc/netplan/01-netcfg.yaml")
	require.True(t, ok)
	assert.Contains(t, content, "renderer: networkd")
	assert.Contains(t, content, "- 10.0.0.20/24")
}

func TestNetworkManagerFallsBackToInterfaceName(t *testing.T) {
	h := genericHost().AddProfile("eth0", "eth0", false)
	a := netcfg.NewNetworkManager(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.20/24"}, h.CIDRs("eth0"))
}

func TestRemoteCommandErrorCarriesStderr(t *testing.T) {
	h := ubuntuHost().FailCommand("netplan apply", 78, "Error in network definition: bad address\n")
	a := netcfg.NewNetplan(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	var cmdErr *netcfg.RemoteCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 78, cmdErr.ExitCode)
	assert.Equal(t, "Error in network definition: bad address\n", cmdErr.Stderr)
	assert.Equal(t, "ubuntu apply failed with exit code 78: Error in network definition: bad address", err.Error())
}

func TestClearWarnsInsteadOfFailing(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := centosHost().FailCommand("nmcli con up", 4, "Error: Connection activation failed\n")
	a := netcfg.NewNetworkManager(h, hostID, netcfg.WithLogger(logger))

	_, err := a.ClearIPs(context.Background(), "eth0")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "clear finished with errors")
	assert.Contains(t, logs.String(), "exit_code=4")
}

func TestNonRootUsesSudo(t *testing.T) {
	h := genericHost().SetUID(1000)
	a := netcfg.NewIPRoute(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)

	history := h.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "id -u", history[0])
	assert.True(t, strings.HasPrefix(history[len(history)-1], "sudo -n sh -c '"), history[len(history)-1])
}

func TestRootSkipsSudo(t *testing.T) {
	h := genericHost()
	a := netcfg.NewIPRoute(h, hostID)

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	for _, cmd := range h.History() {
		assert.False(t, strings.HasPrefix(cmd, "sudo"), cmd)
	}
}

func TestAdapterMetrics(t *testing.T) {
	m := metrics.New()
	h := genericHost()
	a := netcfg.NewIPRoute(h, hostID, netcfg.WithMetrics(m))

	_, err := a.Apply(context.Background(), request("10.0.0.20"))
	require.NoError(t, err)
	h.FailCommand("ip addr flush", 2, "RTNETLINK answers: Operation not permitted\n")
	_, err = a.Apply(context.Background(), request("10.0.0.21"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterOpsTotal.WithLabelValues("generic", "apply", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterOpsTotal.WithLabelValues("generic", "apply", "error")))
}

func TestApplyRejectsInvalidRequest(t *testing.T) {
	a := netcfg.NewIPRoute(genericHost(), hostID)

	_, err := a.Apply(context.Background(), netcfg.Request{Interface: "eth0", Prefix: 24})
	assert.ErrorIs(t, err, netcfg.ErrNoAddresses)
	_, err = a.Apply(context.Background(), netcfg.Request{Interface: "eth0", Addresses: []string{"10.0.0.2"}})
	assert.ErrorIs(t, err, netcfg.ErrMissingPrefix)
	_, err = a.Apply(context.Background(), netcfg.Request{Interface: "eth0; reboot", Addresses: []string{"10.0.0.2"}, Prefix: 24})
	assert.Error(t, err)
}
