// Package router compiles the address-to-mailbox routing rules declared in
// the configuration into an ordered list of checkers, and evaluates them for
// each recipient of an accepted message.
package router

import (
	"fmt"
	"regexp"
)

// DefaultMatchAll is the reserved match name that is implicitly defined to
// accept every address.
const DefaultMatchAll = "default_match_all"

// DefaultNullMbox is the reserved mailbox name meaning "match, but do not
// deliver".
const DefaultNullMbox = "default_null_mbox"

// MatchConfig is the declarative form of a named address predicate, as
// decoded from configuration. Exactly one of Addrs or AddrRexs must be
// non-empty.
type MatchConfig struct {
	Name     string   `json:"name"`
	Addrs    []string `json:"addrs,omitempty"`
	AddrRexs []string `json:"addr_rexs,omitempty"`
}

// RuleConfig references a named match, optionally negated, optionally
// short-circuiting evaluation of the mailbox's remaining rules.
type RuleConfig struct {
	MatchName string `json:"match_name"`
	Negate    bool   `json:"negate,omitempty"`
	StopCheck bool   `json:"stop_check,omitempty"`
}

// MailboxConfig is a named ordered list of rules.
type MailboxConfig struct {
	Name  string       `json:"name"`
	Rules []RuleConfig `json:"rules"`
}

// predicate reports whether an address is accepted by a match.
type predicate func(addr string) bool

// checker is one compiled (mailbox, predicate, stop) tuple.
type checker struct {
	mbox      string
	match     predicate
	stopCheck bool
}

// Table is a compiled, immutable set of checkers ready for evaluation. It is
// safe for concurrent use by multiple goroutines since it is never mutated
// after Compile returns.
type Table struct {
	checkers []checker
}

// Compile builds a Table from the declared matches and mailboxes. Compile
// returns an error if a Match declares both or neither of Addrs/AddrRexs, an
// AddrRexs entry fails to compile, or a Rule references an unknown match
// name.
func Compile(matches []MatchConfig, boxes []MailboxConfig) (*Table, error) {
	predicates := make(map[string]predicate, len(matches)+1)

	for _, m := range matches {
		p, err := compileMatch(m)
		if err != nil {
			return nil, fmt.Errorf("router: match %q: %w", m.Name, err)
		}
		predicates[m.Name] = p
	}
	predicates[DefaultMatchAll] = func(string) bool { return true }

	var checkers []checker
	for _, box := range boxes {
		for _, rule := range box.Rules {
			p, ok := predicates[rule.MatchName]
			if !ok {
				return nil, fmt.Errorf("router: mailbox %q: unknown match %q", box.Name, rule.MatchName)
			}
			if rule.Negate {
				inner := p
				p = func(addr string) bool { return !inner(addr) }
			}
			checkers = append(checkers, checker{mbox: box.Name, match: p, stopCheck: rule.StopCheck})
		}
	}

	return &Table{checkers: checkers}, nil
}

func compileMatch(m MatchConfig) (predicate, error) {
	switch {
	case len(m.Addrs) > 0 && len(m.AddrRexs) > 0:
		return nil, fmt.Errorf("both addrs and addr_rexs set")
	case len(m.Addrs) > 0:
		set := make(map[string]struct{}, len(m.Addrs))
		for _, a := range m.Addrs {
			set[a] = struct{}{}
		}
		return func(addr string) bool {
			_, ok := set[addr]
			return ok
		}, nil
	case len(m.AddrRexs) > 0:
		res := make([]*regexp.Regexp, len(m.AddrRexs))
		for i, pattern := range m.AddrRexs {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling addr_rex %q: %w", pattern, err)
			}
			res[i] = re
		}
		return func(addr string) bool {
			for _, re := range res {
				if loc := re.FindStringIndex(addr); loc != nil && loc[0] == 0 {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("neither addrs nor addr_rexs set")
	}
}

// GetMboxes evaluates the compiled checkers against addr in declaration
// order, short-circuiting on the first matched checker with StopCheck set.
// The returned slice preserves checker order and may contain duplicates; an
// address with no matching rule yields an empty (nil) slice and its mail is
// dropped — there is no implicit default mailbox.
func (t *Table) GetMboxes(addr string) []string {
	var out []string
	for _, c := range t.checkers {
		if !c.match(addr) {
			continue
		}
		if c.mbox != DefaultNullMbox {
			out = append(out, c.mbox)
		}
		if c.stopCheck {
			break
		}
	}
	return out
}
