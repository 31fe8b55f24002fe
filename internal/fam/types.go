// Package fam decodes and matches against the File Access Manifest: the
// process-wide, load-once, read-only policy tree that tells the Observer
// runtime (package observer) what each intercepted call is allowed to do.
package fam

import "fmt"

// Decision is the outcome of checking one facet of an access against the
// manifest. The zero value is Allow so an unmatched, zero-initialized Rule
// is permissive rather than silently denying.
type Decision uint8

const (
	Allow Decision = iota
	Warn
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Combine applies the monotonic rule across two facets of one access: deny
// beats warn beats allow, so a read that's fine but a write that's denied
// comes out denied overall rather than silently dropping the stricter half.
func Combine(a, b Decision) Decision {
	if a > b {
		return a
	}
	return b
}

// Access identifies which facet of a Rule governs a given Event.kind.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessCreate
	AccessEnumerate
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessCreate:
		return "create"
	case AccessEnumerate:
		return "enumerate"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Rule is one path-prefix-scoped policy entry. A File holds a flat slice of
// these; Matcher picks the most specific one that applies to a given path.
type Rule struct {
	ID        string // stable identity, attributed on the Event by the Access Checker
	Prefix    string // glob pattern or literal path prefix
	Read      Decision
	Write     Decision
	Create    Decision
	Enumerate Decision
	Breakaway bool // subprocesses rooted here may opt out of instrumentation
}

func (r *Rule) decisionFor(a Access) Decision {
	switch a {
	case AccessRead:
		return r.Read
	case AccessWrite:
		return r.Write
	case AccessCreate:
		return r.Create
	case AccessEnumerate:
		return r.Enumerate
	default:
		return Allow
	}
}

// EnvInject is one environment variable the Lifecycle Tracker must ensure is
// present (injecting it if missing) when crossing an exec boundary into a
// non-breakaway target.
type EnvInject struct {
	Key   string
	Value string
}

// File is the decoded, queryable form of a File Access Manifest: the policy
// artifact produced by the build engine's policy compiler (a separate
// component this package never constructs) and consumed read-only for the
// lifetime of the process.
type File struct {
	RootPID         uint32
	ChannelPath     string
	DefaultDecision Decision
	ExecAllowlist   []string // exec names that bypass reporting entirely
	EnvStrip        []string // env vars removed before a breakaway exec
	EnvInject       []EnvInject

	Rules   []Rule
	matcher *matcher
}

// Empty returns a permissive, rule-less FAM: every access is allowed, no
// reporting channel is configured. Used when __BUILDXL_OBSERVER_FAM is unset
// so the Observer degrades gracefully rather than refusing to run (see
// config.Config.Validate's warning).
func Empty() *File {
	f := &File{DefaultDecision: Allow}
	f.compile()
	return f
}

// compile builds the matcher from Rules. Must be called after Rules is
// populated and before Lookup is used; Decode, LoadYAML, and Empty all call
// it so callers never observe an uncompiled File.
func (f *File) compile() {
	f.matcher = newMatcher(f.Rules)
}

// Lookup finds the most specific rule covering path and returns the
// decision for the given access facet plus the identity of the rule that
// produced it (empty string if no rule matched and the FAM-wide default
// applied).
func (f *File) Lookup(path string, access Access) (Decision, string) {
	if f.matcher == nil {
		f.compile()
	}
	rule := f.matcher.match(path)
	if rule == nil {
		return f.DefaultDecision, ""
	}
	return rule.decisionFor(access), rule.ID
}

// IsBreakaway reports whether path falls under a rule marked breakaway.
func (f *File) IsBreakaway(execPath string) bool {
	if f.matcher == nil {
		f.compile()
	}
	rule := f.matcher.match(execPath)
	return rule != nil && rule.Breakaway
}

// BypassesReporting reports whether execName (the basename of an exec
// target) is on the FAM's reporting allow-list.
func (f *File) BypassesReporting(execName string) bool {
	for _, n := range f.ExecAllowlist {
		if n == execName {
			return true
		}
	}
	return false
}
