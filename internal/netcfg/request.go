package netcfg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tpodg/ipsettle/internal/netinfo"
	"github.com/tpodg/ipsettle/internal/strutil"
)

// Request is a fully resolved static configuration for one interface.
type Request struct {
	Interface string
	// Address is the primary address. It is also the first entry of Addresses.
	Address   string
	Addresses []string
	// Prefix is the IPv4 prefix length, 1 to 32. Zero means unset: a /0
	// block is a default route, never an interface address.
	Prefix    int
	Gateway   string
	DNS       []string
	DryRun    bool
}

var (
	ErrMissingInterface = errors.New("interface is required")
	ErrNoAddresses      = errors.New("at least one address is required")
	ErrMissingPrefix    = errors.New("prefix length is required")
	ErrInvalidPrefix    = errors.New("prefix length must be between 1 and 32")
)

// Validate normalizes the address list and checks the preconditions of apply.
func (r *Request) Validate() error {
	r.Interface = strings.TrimSpace(r.Interface)
	if r.Interface == "" {
		return ErrMissingInterface
	}
	if err := validateInterfaceName(r.Interface); err != nil {
		return err
	}

	addrs := make([]string, 0, len(r.Addresses)+1)
	if r.Address != "" {
		addrs = append(addrs, netinfo.StripPrefix(r.Address))
	}
	for _, a := range r.Addresses {
		addrs = append(addrs, netinfo.StripPrefix(a))
	}
	r.Addresses = strutil.CleanList(addrs)
	if len(r.Addresses) == 0 {
		return ErrNoAddresses
	}
	r.Address = r.Addresses[0]

	if r.Prefix == 0 {
		return ErrMissingPrefix
	}
	if r.Prefix < 0 || r.Prefix > 32 {
		return fmt.Errorf("%w: got %d", ErrInvalidPrefix, r.Prefix)
	}
	r.Gateway = strings.TrimSpace(r.Gateway)
	r.DNS = strutil.CleanList(r.DNS)
	return nil
}

// CIDRs returns the addresses with the request prefix appended.
func (r Request) CIDRs() []string {
	out := make([]string, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		out = append(out, withPrefix(a, r.Prefix))
	}
	return out
}

func withPrefix(addr string, prefix int) string {
	return netinfo.StripPrefix(addr) + "/" + strconv.Itoa(prefix)
}

// matchesAny reports whether cidr is selected by one of targets. A target
// without a prefix selects any entry with the same IP.
func matchesAny(cidr string, targets []string) bool {
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, "/") {
			if t == cidr {
				return true
			}
			continue
		}
		if t == netinfo.StripPrefix(cidr) {
			return true
		}
	}
	return false
}

// subtract returns the entries of existing not selected by targets.
func subtract(existing, targets []string) []string {
	var out []string
	for _, e := range existing {
		if !matchesAny(e, targets) {
			out = append(out, e)
		}
	}
	return out
}

// prefixOf returns the prefix length of a CIDR string, or 0.
func prefixOf(cidr string) int {
	_, bits, ok := strings.Cut(cidr, "/")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(bits)
	if err != nil {
		return 0
	}
	return n
}

func validateInterfaceName(name string) error {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == '.' || r == '@') {
			return fmt.Errorf("interface name %q contains invalid character %q", name, r)
		}
	}
	return nil
}
