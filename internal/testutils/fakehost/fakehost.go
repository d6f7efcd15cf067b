// Package fakehost simulates a Linux host for adapter tests. It interprets
// the small shell subset the network adapters generate and keeps link,
// address, route, file and NetworkManager profile state in memory.
package fakehost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/server"
	"github.com/tpodg/ipsettle/internal/session"
)

type Host struct {
	mu sync.Mutex

	uid      int
	links    []*link
	files    map[string]string
	profiles []*profile
	leases   map[string]string
	routes   map[string]string
	binaries map[string]bool
	failures []failure
	history  []string
}

type link struct {
	name  string
	up    bool
	addrs []address
}

type address struct {
	cidr    string
	dynamic bool
	label   string
}

type profile struct {
	name        string
	device      string
	active      bool
	addresses   []string
	gateway     string
	dns         string
	method      string
	autoconnect string
}

type failure struct {
	prefix string
	code   int
	stderr string
}

// New returns a host with a loopback link, running as root.
func New() *Host {
	h := &Host{
		files:  make(map[string]string),
		leases: make(map[string]string),
		routes: make(map[string]string),
		binaries: map[string]bool{
			"ip": true, "nmcli": true, "ifup": true, "ifdown": true,
			"netplan": true, "dhclient": true, "cat": true, "printf": true,
		},
	}
	h.AddLink("lo", "127.0.0.1/8")
	return h
}

// AddLink adds an up link with static addresses.
func (h *Host) AddLink(name string, cidrs ...string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &link{name: name, up: true}
	for _, c := range cidrs {
		l.addrs = append(l.addrs, address{cidr: c, label: name})
	}
	h.links = append(h.links, l)
	return h
}

// SetLease makes DHCP on iface hand out cidr.
func (h *Host) SetLease(iface, cidr string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leases[iface] = cidr
	return h
}

func (h *Host) SetUID(uid int) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uid = uid
	return h
}

func (h *Host) WriteFile(path, content string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
	return h
}

func (h *Host) RemoveBinary(name string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.binaries, name)
	return h
}

// AddProfile adds a NetworkManager profile bound to device. Active profiles
// show their device in `nmcli con show`.
func (h *Host) AddProfile(name, device string, active bool, cidrs ...string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	method := "auto"
	if len(cidrs) > 0 {
		method = "manual"
	}
	h.profiles = append(h.profiles, &profile{
		name:        name,
		device:      device,
		active:      active,
		addresses:   append([]string(nil), cidrs...),
		method:      method,
		autoconnect: "yes",
	})
	return h
}

// FailCommand makes every command line starting with prefix exit with code.
func (h *Host) FailCommand(prefix string, code int, stderr string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, failure{prefix: prefix, code: code, stderr: stderr})
	return h
}

func (h *Host) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[path]
	return content, ok
}

// Gateway returns the default gateway routed through iface.
func (h *Host) Gateway(iface string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routes[iface]
}

// History returns every top-level command run so far.
func (h *Host) History() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.history...)
}

// Addresses parses the host's own `ip -o addr show` rendering.
func (h *Host) Addresses() []netinfo.Address {
	h.mu.Lock()
	out := h.renderAddrs()
	h.mu.Unlock()
	addrs, _ := netinfo.ParseAddresses(out)
	return addrs
}

// CIDRs returns the sorted addresses of iface.
func (h *Host) CIDRs(iface string) []string {
	var out []string
	for _, a := range netinfo.FilterInterface(h.Addresses(), iface, netinfo.FamilyIPv4) {
		out = append(out, a.Address)
	}
	sort.Strings(out)
	return out
}

// RunScript runs src as a shell script and returns its outputs and exit code.
func (h *Host) RunScript(src string) (string, string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runScript(src, "")
}

// Run executes command the way an exec channel would.
func (h *Host) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	h.mu.Lock()
	h.history = append(h.history, command)
	out, errOut, code := h.runScript(command, "")
	h.mu.Unlock()

	if out != "" {
		_, _ = io.WriteString(stdout, out)
	}
	if errOut != "" {
		_, _ = io.WriteString(stderr, errOut)
	}
	return code, nil
}

func (h *Host) OpenShell(server.ShellOptions) (server.Shell, error) {
	return nil, errors.New("fakehost: interactive shells are not supported")
}

// Exec runs command directly, standing in for a session manager.
func (h *Host) Exec(ctx context.Context, hostID, command string, echo bool) (session.Result, error) {
	var stdout, stderr strings.Builder
	code, err := h.Run(ctx, command, &stdout, &stderr)
	if err != nil {
		return session.Result{}, err
	}
	return session.Result{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (h *Host) CurrentAddresses(ctx context.Context, hostID string) ([]netinfo.Address, error) {
	return h.Addresses(), nil
}

// Dialer returns a dialer that connects to h under id.
func (h *Host) Dialer(id string) server.Dialer {
	return dialer{id: id, host: h}
}

type dialer struct {
	id   string
	host *Host
}

func (d dialer) ID() string      { return d.id }
func (d dialer) Address() string { return d.id }
func (d dialer) Dial(ctx context.Context) (server.Transport, error) {
	return &transport{Host: d.host, done: make(chan struct{})}, nil
}

// transport gives each dial its own lifecycle over shared host state.
type transport struct {
	*Host
	once sync.Once
	done chan struct{}
}

func (t *transport) Wait() error {
	<-t.done
	return nil
}

func (t *transport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (h *Host) link(name string) *link {
	for _, l := range h.links {
		if l.name == name {
			return l
		}
	}
	return nil
}

func (h *Host) profile(name string) *profile {
	for _, p := range h.profiles {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (h *Host) failureFor(line string) (failure, bool) {
	for _, f := range h.failures {
		if strings.HasPrefix(line, f.prefix) {
			return f, true
		}
	}
	return failure{}, false
}

func (h *Host) renderAddrs() string {
	var b strings.Builder
	for i, l := range h.links {
		for _, a := range l.addrs {
			family := netinfo.FamilyIPv4
			if strings.Contains(a.cidr, ":") {
				family = netinfo.FamilyIPv6
			}
			scope := "global"
			if l.name == "lo" {
				scope = "host"
			}
			dynamic := ""
			if a.dynamic {
				dynamic = " dynamic"
			}
			fmt.Fprintf(&b, "%d: %s    %s %s scope %s%s %s\\       valid_lft forever preferred_lft forever\n",
				i+1, l.name, family, a.cidr, scope, dynamic, a.label)
		}
	}
	return b.String()
}

func (h *Host) renderLinks() string {
	var b strings.Builder
	for i, l := range h.links {
		state := "DOWN"
		flags := "<BROADCAST,MULTICAST>"
		if l.up {
			state = "UP"
			flags = "<BROADCAST,MULTICAST,UP,LOWER_UP>"
		}
		fmt.Fprintf(&b, "%d: %s: %s mtu 1500 qdisc fq_codel state %s mode DEFAULT\n", i+1, l.name, flags, state)
	}
	return b.String()
}

func (h *Host) renderRoutes() string {
	var b strings.Builder
	for _, l := range h.links {
		if gw, ok := h.routes[l.name]; ok {
			fmt.Fprintf(&b, "default via %s dev %s proto static\n", gw, l.name)
		}
	}
	return b.String()
}
