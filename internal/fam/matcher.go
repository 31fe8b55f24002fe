package fam

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// matcher picks the most specific Rule covering a normalized path. Rules
// whose Prefix contains glob metacharacters are compiled with gobwas/glob;
// plain prefixes take a strings.HasPrefix fast path. Ties are broken by
// literal prefix length, longest (most specific) first, so a narrow rule
// scoped to a subdirectory always overrides a broader rule covering its
// parent.
type matcher struct {
	entries []entry
}

type entry struct {
	rule    *Rule
	literal bool
	g       glob.Glob
}

func newMatcher(rules []Rule) *matcher {
	m := &matcher{entries: make([]entry, 0, len(rules))}
	for i := range rules {
		r := &rules[i]
		e := entry{rule: r}
		if containsGlobMeta(r.Prefix) {
			g, err := glob.Compile(r.Prefix, '/')
			if err == nil {
				e.g = g
			} else {
				e.literal = true // fall back to literal prefix match on bad pattern
			}
		} else {
			e.literal = true
		}
		m.entries = append(m.entries, e)
	}

	// Most specific first: longer literal prefixes win ties; glob entries
	// are ordered after same-length literals since a literal is a more
	// precise claim than a wildcard over the same prefix string.
	sort.SliceStable(m.entries, func(i, j int) bool {
		pi, pj := m.entries[i].rule.Prefix, m.entries[j].rule.Prefix
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return m.entries[i].literal && !m.entries[j].literal
	})
	return m
}

func (m *matcher) match(path string) *Rule {
	for _, e := range m.entries {
		if e.literal {
			if strings.HasPrefix(path, e.rule.Prefix) {
				return e.rule
			}
			continue
		}
		if e.g != nil && e.g.Match(path) {
			return e.rule
		}
	}
	return nil
}

func containsGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
