package observer

import (
	"testing"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
)

func sampleManifest() *fam.File {
	f := &fam.File{
		DefaultDecision: fam.Warn,
		Rules: []fam.Rule{
			{ID: "src-read", Prefix: "/src", Read: fam.Allow, Write: fam.Deny, Create: fam.Deny},
			{ID: "out-write", Prefix: "/out", Read: fam.Allow, Write: fam.Allow, Create: fam.Allow},
			{ID: "deny-tmp", Prefix: "/tmp/denied", Read: fam.Deny, Write: fam.Deny, Create: fam.Deny},
		},
	}
	return f
}

func TestCheckAllowsReadUnderSrc(t *testing.T) {
	c := NewAccessChecker(sampleManifest())
	ev := c.Check(NewAbsolutePathEvent("openat", KindOpen, 1, 0, "/src/a.txt"))
	if ev.Access.Decision != fam.Allow {
		t.Errorf("decision = %v, want allow", ev.Access.Decision)
	}
	if ev.Access.RuleID != "src-read" {
		t.Errorf("rule = %q, want src-read", ev.Access.RuleID)
	}
}

func TestCheckDeniesWriteUnderSrc(t *testing.T) {
	c := NewAccessChecker(sampleManifest())
	ev := c.Check(NewAbsolutePathEvent("openat", KindGenericWrite, 1, 0, "/src/a.txt"))
	if ev.Access.Decision != fam.Deny {
		t.Errorf("decision = %v, want deny", ev.Access.Decision)
	}
}

func TestCheckUsesDefaultDecisionOutsideRules(t *testing.T) {
	c := NewAccessChecker(sampleManifest())
	ev := c.Check(NewAbsolutePathEvent("openat", KindOpen, 1, 0, "/unrelated/x"))
	if ev.Access.Decision != fam.Warn {
		t.Errorf("decision = %v, want warn (manifest default)", ev.Access.Decision)
	}
}

// TestRenameMonotonicity verifies that a directory rename with a denied
// descendant combines to deny and stops at the first denied pair.
func TestRenameMonotonicity(t *testing.T) {
	c := NewAccessChecker(sampleManifest())
	entries := []RenameEntry{
		{Src: "/out/a", Dst: "/out/a2"},
		{Src: "/out/b", Dst: "/tmp/denied/b"},
		{Src: "/out/b/c", Dst: "/tmp/denied/b/c"}, // must never be examined
	}

	decision, events := c.CheckRename(entries, 1, 0)
	if decision != fam.Deny {
		t.Fatalf("combined decision = %v, want deny", decision)
	}

	// 2 events per examined pair (unlink+create); the third entry must be
	// short-circuited away entirely.
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4 (short-circuited before third pair)", len(events))
	}
}

func TestRenameAllAllowedProducesAllowDecision(t *testing.T) {
	c := NewAccessChecker(sampleManifest())
	entries := []RenameEntry{
		{Src: "/out/a", Dst: "/out/a2"},
		{Src: "/out/b", Dst: "/out/b2"},
	}
	decision, events := c.CheckRename(entries, 1, 0)
	if decision != fam.Allow {
		t.Fatalf("combined decision = %v, want allow", decision)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
}
