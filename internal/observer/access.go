package observer

import "github.com/ShikeChen-MS/BuildXL/internal/fam"

// AccessChecker computes, given an Event and the FAM, the combined
// decision across the source and destination facets.
type AccessChecker struct {
	manifest *fam.File
}

// NewAccessChecker binds a checker to the active manifest.
func NewAccessChecker(manifest *fam.File) *AccessChecker {
	return &AccessChecker{manifest: manifest}
}

// accessFor maps an Event's kind to the FAM facet that governs it.
func accessFor(k Kind) fam.Access {
	switch k {
	case KindCreate:
		return fam.AccessCreate
	case KindGenericWrite, KindLink, KindUnlink:
		return fam.AccessWrite
	case KindGenericProbe:
		return fam.AccessRead
	default:
		return fam.AccessRead
	}
}

// Check stamps ev.Access with the combined decision from the source and
// (if present) destination facets, per the monotonic rule deny > warn >
// allow, and returns the same Event by value for convenience chaining.
func (c *AccessChecker) Check(ev Event) Event {
	srcAccess := accessFor(ev.Kind)
	srcDecision, srcRule := c.manifest.Lookup(ev.SrcPath, srcAccess)

	if ev.DstPath == "" {
		ev.Access = AccessCheck{Decision: srcDecision, RuleID: srcRule}
		return ev
	}

	dstAccess := fam.AccessCreate
	if srcAccess == fam.AccessEnumerate {
		dstAccess = fam.AccessEnumerate
	}
	dstDecision, dstRule := c.manifest.Lookup(ev.DstPath, dstAccess)

	combined := fam.Combine(srcDecision, dstDecision)
	rule := srcRule
	if dstDecision > srcDecision {
		rule = dstRule
	}
	ev.Access = AccessCheck{Decision: combined, RuleID: rule}
	return ev
}

// RenameEntry is one source/destination pair produced by expanding a
// directory rename into its descendants.
type RenameEntry struct {
	Src string
	Dst string
}

// CheckRename evaluates every entry of a directory rename expansion,
// short-circuiting at the first deny. It returns the combined decision
// across all entries examined and the events built for each, stopping at
// (and including) the first denied entry.
func (c *AccessChecker) CheckRename(entries []RenameEntry, pid, ppid uint32) (fam.Decision, []Event) {
	combined := fam.Allow
	var events []Event

	for _, e := range entries {
		unlinkEv := c.Check(NewAbsolutePathEvent("renameat", KindUnlink, pid, ppid, e.Src))
		createEv := Event{
			Syscall: "renameat", Kind: KindCreate, PID: pid, PPID: ppid,
			SrcPath: e.Dst, SrcFD: -1,
		}
		createEv = c.Check(createEv)

		pairDecision := fam.Combine(unlinkEv.Access.Decision, createEv.Access.Decision)
		combined = fam.Combine(combined, pairDecision)

		events = append(events, unlinkEv, createEv)
		if pairDecision == fam.Deny {
			break
		}
	}
	return combined, events
}
