// Package pathmap rewrites source path prefixes between the paths recorded at
// build time (remote) and the paths the user sees (display).
package pathmap

import (
	"fmt"
	"sort"
	"strings"
)

// Rule maps the build time prefix From to the user visible prefix To.
type Rule struct {
	From string
	To   string
}

// ParseRule parses a rule written as from:to.
func ParseRule(s string) (Rule, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return Rule{}, fmt.Errorf("invalid path mapping: %s, must be from:to", s)
	}
	return Rule{From: clean(s[:idx]), To: clean(s[idx+1:])}, nil
}

// Mapper applies a set of rules, longest matching prefix first. Paths matching
// no rule pass through unchanged.
type Mapper struct {
	toRemote  []Rule // sorted by len(To) desc
	toDisplay []Rule // sorted by len(From) desc
}

// New builds a Mapper. A nil *Mapper is valid and maps nothing.
func New(rules ...Rule) *Mapper {
	m := &Mapper{}
	for _, r := range rules {
		r = Rule{From: clean(r.From), To: clean(r.To)}
		m.toRemote = append(m.toRemote, r)
		m.toDisplay = append(m.toDisplay, r)
	}
	sort.SliceStable(m.toRemote, func(i, j int) bool {
		return len(m.toRemote[i].To) > len(m.toRemote[j].To)
	})
	sort.SliceStable(m.toDisplay, func(i, j int) bool {
		return len(m.toDisplay[i].From) > len(m.toDisplay[j].From)
	})
	return m
}

// ParseRules is a convenience wrapper over ParseRule and New.
func ParseRules(specs []string) (*Mapper, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return New(rules...), nil
}

// Rules returns the configured rules as a from->to map.
func (m *Mapper) Rules() map[string]string {
	if m == nil {
		return nil
	}
	rules := make(map[string]string, len(m.toDisplay))
	for _, r := range m.toDisplay {
		rules[r.From] = r.To
	}
	return rules
}

// ToRemote rewrites a user supplied path into the build time path.
func (m *Mapper) ToRemote(path string) string {
	if m == nil {
		return path
	}
	for _, r := range m.toRemote {
		if rest, ok := trimPrefix(path, r.To); ok {
			return join(r.From, rest)
		}
	}
	return path
}

// ToDisplay rewrites a build time path into the path shown to the user.
func (m *Mapper) ToDisplay(path string) string {
	if m == nil {
		return path
	}
	for _, r := range m.toDisplay {
		if rest, ok := trimPrefix(path, r.From); ok {
			return join(r.To, rest)
		}
	}
	return path
}

// trimPrefix only matches on a path component boundary, /src must not match
// /srcfoo/a.sv.
func trimPrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	switch {
	case rest == "" || strings.HasPrefix(rest, "/"):
		return rest, true
	case strings.HasSuffix(prefix, "/"):
		return "/" + rest, true
	}
	return "", false
}

func join(prefix, rest string) string {
	p := strings.TrimSuffix(prefix, "/") + rest
	if p == "" {
		return "/"
	}
	return p
}

func clean(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
