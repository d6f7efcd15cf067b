// Package netcfg renders and applies static IP configuration through one of
// several OS specific mechanisms. Every mutation is a single batched shell
// script so its steps run in order on the remote host.
package netcfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tpodg/ipsettle/internal/metrics"
	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/session"
	"github.com/tpodg/ipsettle/internal/strutil"
)

// Remote is the part of the session manager adapters depend on.
type Remote interface {
	Exec(ctx context.Context, hostID, command string, echo bool) (session.Result, error)
	CurrentAddresses(ctx context.Context, hostID string) ([]netinfo.Address, error)
}

// Adapter realizes static addressing for one OS family.
type Adapter interface {
	Name() string
	Host() string
	// Apply configures req. With req.DryRun set it returns the script it would run.
	Apply(ctx context.Context, req Request) (Result, error)
	// RemoveIPs removes the given addresses from iface, clearing it when none remain.
	RemoveIPs(ctx context.Context, iface string, addresses []string) ([]netinfo.Address, error)
	// ClearIPs resets iface to automatic addressing. Remote failures are logged, not returned.
	ClearIPs(ctx context.Context, iface string) ([]netinfo.Address, error)
	// ClearScript renders the script ClearIPs would run.
	ClearScript(ctx context.Context, iface string) (string, error)
	CurrentIPs(ctx context.Context) ([]netinfo.Address, error)
}

// Result is the outcome of Apply: the rendered script for a dry run, or the
// addresses present on the host afterwards.
type Result struct {
	DryRun    bool              `json:"dry_run"`
	Adapter   string            `json:"adapter"`
	Script    string            `json:"script,omitempty"`
	Addresses []netinfo.Address `json:"addresses,omitempty"`
}

type Option func(*base)

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *base) {
		b.metrics = m
	}
}

// Echo mirrors mutating scripts to the host's terminal sink.
func Echo(enabled bool) Option {
	return func(b *base) {
		b.echo = enabled
	}
}

const (
	opApply  = "apply"
	opRemove = "remove"
	opClear  = "clear"
)

// base holds what every variant shares: the bound host and the cached sudo prefix.
type base struct {
	name    string
	remote  Remote
	host    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	echo    bool

	sudoMu    sync.Mutex
	sudo      string
	sudoKnown bool
}

func (b *base) init(name string, remote Remote, host string, opts []Option) {
	b.name = name
	b.remote = remote
	b.host = host
	b.logger = slog.Default()
	b.echo = true
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "netcfg", "adapter", name, "host", host)
}

func (b *base) Name() string { return b.name }
func (b *base) Host() string { return b.host }

func (b *base) bound() bool {
	return b.remote != nil && b.host != ""
}

func (b *base) CurrentIPs(ctx context.Context) ([]netinfo.Address, error) {
	if !b.bound() {
		return nil, ErrUnbound
	}
	return b.remote.CurrentAddresses(ctx, b.host)
}

// sudoPrefix returns "sudo -n " unless the remote user is root.
func (b *base) sudoPrefix(ctx context.Context) (string, error) {
	if !b.bound() {
		return "", nil
	}
	b.sudoMu.Lock()
	defer b.sudoMu.Unlock()
	if b.sudoKnown {
		return b.sudo, nil
	}
	res, err := b.remote.Exec(ctx, b.host, "id -u", false)
	if err != nil {
		return "", fmt.Errorf("check for root user: %w", err)
	}
	if strings.TrimSpace(res.Stdout) != "0" {
		b.sudo = "sudo -n "
	}
	b.sudoKnown = true
	return b.sudo, nil
}

// command wraps script into the single remote invocation that runs it.
func (b *base) command(ctx context.Context, script string) (string, error) {
	prefix, err := b.sudoPrefix(ctx)
	if err != nil {
		return "", err
	}
	return prefix + "sh -c " + strutil.ShellEscape(script), nil
}

// runScript executes a mutating script and converts a non-zero exit into a
// RemoteCommandError.
func (b *base) runScript(ctx context.Context, op, script string) error {
	if !b.bound() {
		return ErrUnbound
	}
	cmd, err := b.command(ctx, script)
	if err != nil {
		return err
	}
	b.logger.Debug("running script", "op", op)
	res, err := b.remote.Exec(ctx, b.host, cmd, b.echo)
	if err != nil {
		b.metrics.RecordAdapterOp(b.name, op, err)
		return fmt.Errorf("%s %s: %w", b.name, op, err)
	}
	if res.ExitCode != 0 {
		cmdErr := &RemoteCommandError{Adapter: b.name, Op: op, ExitCode: res.ExitCode, Stderr: res.Stderr}
		b.metrics.RecordAdapterOp(b.name, op, cmdErr)
		return cmdErr
	}
	b.metrics.RecordAdapterOp(b.name, op, nil)
	return nil
}

// finishClear runs a clear script best effort and returns the addresses left.
func (b *base) finishClear(ctx context.Context, iface, script string) ([]netinfo.Address, error) {
	if err := b.runScript(ctx, opClear, script); err != nil {
		var cmdErr *RemoteCommandError
		if !errors.As(err, &cmdErr) {
			return nil, err
		}
		b.logger.Warn("clear finished with errors", "iface", iface, "exit_code", cmdErr.ExitCode, "stderr", strings.TrimSpace(cmdErr.Stderr))
	}
	return b.CurrentIPs(ctx)
}

// applied returns the post-apply result.
func (b *base) applied(ctx context.Context) (Result, error) {
	addrs, err := b.CurrentIPs(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Adapter: b.name, Addresses: addrs}, nil
}

func (b *base) dryRun(script string) Result {
	b.metrics.RecordAdapterOp(b.name, opApply+"_dry_run", nil)
	return Result{DryRun: true, Adapter: b.name, Script: script}
}

// read runs a non-mutating command without echo.
func (b *base) read(ctx context.Context, command string) (session.Result, error) {
	if !b.bound() {
		return session.Result{}, ErrUnbound
	}
	return b.remote.Exec(ctx, b.host, command, false)
}

const missingFileSentinel = "__IPSETTLE_MISSING__"

// readFileIfExists reads path with the sudo prefix. A missing file is not an error.
func (b *base) readFileIfExists(ctx context.Context, path string) (string, bool, error) {
	if !b.bound() {
		return "", true, nil
	}
	marker := missingFileSentinel + ":" + path
	pathEsc := strutil.ShellEscape(path)
	script := fmt.Sprintf("[ -f %s ] && cat %s || printf '%%s' %s", pathEsc, pathEsc, strutil.ShellEscape(marker))
	cmd, err := b.command(ctx, script)
	if err != nil {
		return "", false, err
	}
	res, err := b.remote.Exec(ctx, b.host, cmd, false)
	if err != nil {
		return "", false, fmt.Errorf("read file %q: %w", path, err)
	}
	if strings.TrimSpace(res.Stdout) == marker {
		return "", true, nil
	}
	if res.ExitCode != 0 {
		return "", false, fmt.Errorf("read file %q: exit code %d: %s", path, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, false, nil
}

// ifaceCIDRs returns the IPv4 addresses currently on iface.
func (b *base) ifaceCIDRs(ctx context.Context, iface string) ([]string, error) {
	addrs, err := b.CurrentIPs(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range netinfo.FilterInterface(addrs, iface, netinfo.FamilyIPv4) {
		out = append(out, a.Address)
	}
	return out, nil
}
