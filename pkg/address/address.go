// Package address validates CLASP addresses and matches them against
// subscription patterns.
//
// Addresses are "/"-delimited paths such as "/mixer/ch/1/fader". Patterns
// use the same syntax with two wildcards:
//
//	*    exactly one non-empty segment
//	**   zero or more whole segments
//
// A pattern ending in "/**" therefore also matches its own prefix:
// "/cmd/**" matches "/cmd", "/cmd/reset" and "/cmd/a/b". A pattern without
// wildcards matches only the identical address.
package address

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard segments.
const (
	SingleWildcard = "*"
	MultiWildcard  = "**"
)

var (
	ErrEmpty         = errors.New("empty address")
	ErrNoLeadingSep  = errors.New("address must start with /")
	ErrEmptySegment  = errors.New("empty segment")
	ErrWildcardInAdr = errors.New("wildcard in address")
	ErrBadWildcard   = errors.New("wildcard must be a whole segment")
)

// Validate checks that addr is a concrete address: it starts with "/", has
// no empty segments and contains no wildcards. A trailing "/" is allowed only
// for the root address "/".
func Validate(addr string) error {
	segs, err := split(addr)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if strings.Contains(s, SingleWildcard) {
			return fmt.Errorf("%w: %q", ErrWildcardInAdr, addr)
		}
	}
	return nil
}

// Pattern is a compiled subscription pattern.
type Pattern struct {
	raw  string
	segs []string

	// literal is set when the pattern has no wildcards.
	literal bool
}

// Compile parses and validates a pattern.
func Compile(pattern string) (*Pattern, error) {
	segs, err := split(pattern)
	if err != nil {
		return nil, err
	}
	literal := true
	for _, s := range segs {
		switch s {
		case SingleWildcard, MultiWildcard:
			literal = false
		default:
			if strings.Contains(s, SingleWildcard) {
				return nil, fmt.Errorf("%w: %q", ErrBadWildcard, pattern)
			}
		}
	}
	return &Pattern{raw: pattern, segs: segs, literal: literal}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// IsLiteral reports whether the pattern has no wildcards.
func (p *Pattern) IsLiteral() bool {
	return p.literal
}

// Match reports whether addr matches the pattern.
func (p *Pattern) Match(addr string) bool {
	if p.literal {
		return addr == p.raw
	}
	segs, err := split(addr)
	if err != nil {
		return false
	}
	return matchSegments(p.segs, segs)
}

// Match reports whether addr matches pattern. Malformed patterns match
// nothing except an identical address.
func Match(pattern, addr string) bool {
	if pattern == addr {
		return true
	}
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(addr)
}

// matchSegments walks pattern and address segments, backtracking on "**".
func matchSegments(pat, addr []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case MultiWildcard:
			// Collapse runs of "**".
			rest := pat[1:]
			for len(rest) > 0 && rest[0] == MultiWildcard {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(addr); i++ {
				if matchSegments(rest, addr[i:]) {
					return true
				}
			}
			return false

		case SingleWildcard:
			if len(addr) == 0 {
				return false
			}

		default:
			if len(addr) == 0 || addr[0] != pat[0] {
				return false
			}
		}
		pat = pat[1:]
		addr = addr[1:]
	}
	return len(addr) == 0
}

// split returns the segments after the leading "/". The root address "/"
// has no segments.
func split(s string) ([]string, error) {
	if s == "" {
		return nil, ErrEmpty
	}
	if s[0] != '/' {
		return nil, fmt.Errorf("%w: %q", ErrNoLeadingSep, s)
	}
	if s == "/" {
		return nil, nil
	}
	segs := strings.Split(s[1:], "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrEmptySegment, s)
		}
	}
	return segs, nil
}
