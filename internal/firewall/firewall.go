// Package firewall implements the admission predicate a server applies
// to every accepted peer before any handler runs.
//
// Rules are CIDR allow and deny lists.  A deny match always wins; if
// the allow list is non-empty the peer must also match one of its
// entries.  Empty rules admit everyone.
package firewall

import (
	"fmt"
	"net/netip"
	"strings"

	"gotcp/internal/errors"
)

// Rules is an immutable allow/deny predicate.  It satisfies
// tcp.Firewall.
type Rules struct {
	allow []netip.Prefix
	deny  []netip.Prefix
}

// New parses allow and deny entries.  Each entry is a CIDR block
// ("10.0.0.0/8") or a single IPv4 address ("10.0.0.9").
func New(allow, deny []string) (*Rules, error) {
	a, err := parseList("allow", allow)
	if err != nil {
		return nil, err
	}
	d, err := parseList("deny", deny)
	if err != nil {
		return nil, err
	}
	return &Rules{allow: a, deny: d}, nil
}

func parseList(field string, entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		p, err := parseEntry(e)
		if err != nil {
			return nil, &errors.ConfigError{
				Field:   field,
				Value:   e,
				Message: err.Error(),
				Hint:    "use an IPv4 address or CIDR block, e.g. 10.0.0.0/8",
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func parseEntry(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, errors.ErrNotIPv4
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !a.Is4() {
		return netip.Prefix{}, errors.ErrNotIPv4
	}
	return netip.PrefixFrom(a, 32), nil
}

// Allow reports whether remote (a dotted-decimal address) may connect.
// Unparseable addresses are refused unless the rules are empty.
func (r *Rules) Allow(remote string) bool {
	if r == nil || (len(r.allow) == 0 && len(r.deny) == 0) {
		return true
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return false
	}
	for _, p := range r.deny {
		if p.Contains(addr) {
			return false
		}
	}
	if len(r.allow) == 0 {
		return true
	}
	for _, p := range r.allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Empty reports whether the rules admit everyone.
func (r *Rules) Empty() bool {
	return r == nil || (len(r.allow) == 0 && len(r.deny) == 0)
}

func (r *Rules) String() string {
	if r.Empty() {
		return "allow all"
	}
	return fmt.Sprintf("allow %v deny %v", r.allow, r.deny)
}
