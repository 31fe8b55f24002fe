package observer

import "testing"

func newTestNormalizer() (*Normalizer, *FDTable) {
	tbl := NewFDTable()
	n := &Normalizer{
		fdTable:   tbl,
		readlink:  func(string) (string, error) { return "", errNotSymlink },
		isSymlink: func(string) (bool, error) { return false, nil },
		cwd:       func() (string, error) { return "/work", nil },
	}
	return n, tbl
}

var errNotSymlink = errNotSymlinkType{}

type errNotSymlinkType struct{}

func (errNotSymlinkType) Error() string { return "not a symlink" }

func TestJoinAbsoluteIgnoresDir(t *testing.T) {
	if got := Join("/somewhere", "/abs/path"); got != "/abs/path" {
		t.Errorf("Join = %q, want /abs/path", got)
	}
}

func TestJoinRelativeUsesDir(t *testing.T) {
	if got := Join("/src", "a.txt"); got != "/src/a.txt" {
		t.Errorf("Join = %q, want /src/a.txt", got)
	}
}

func TestResolveAbsoluteIgnoresDirfd(t *testing.T) {
	n, _ := newTestNormalizer()
	path, events, err := n.Resolve(99, "/abs/x", ResolveFully, "openat", 1, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != "/abs/x" {
		t.Errorf("path = %q, want /abs/x", path)
	}
	if len(events) != 0 {
		t.Errorf("expected no symlink events, got %d", len(events))
	}
}

func TestResolveRelativeUsesCwdForATFDCWD(t *testing.T) {
	n, _ := newTestNormalizer()
	path, _, err := n.Resolve(ATFDCWD, "rel/x", ResolveFully, "openat", 1, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != "/work/rel/x" {
		t.Errorf("path = %q, want /work/rel/x", path)
	}
}

func TestResolveRelativeUsesDirfdTable(t *testing.T) {
	n, tbl := newTestNormalizer()
	tbl.Set(4, "/src/subdir")

	path, _, err := n.Resolve(4, "x.txt", ResolveFully, "openat", 1, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != "/src/subdir/x.txt" {
		t.Errorf("path = %q, want /src/subdir/x.txt", path)
	}
}

func TestResolveUnknownDirfdFails(t *testing.T) {
	n, tbl := newTestNormalizer()
	tbl.resolveFromKernel = func(int) (string, bool) { return "", false }
	_, _, err := n.Resolve(4, "x.txt", ResolveFully, "openat", 1, 0)
	if err == nil {
		t.Fatal("expected error for unresolved dirfd")
	}
}

func TestResolveNoFollowLastSkipsSymlinkWalk(t *testing.T) {
	n, _ := newTestNormalizer()
	n.isSymlink = func(string) (bool, error) {
		t.Fatal("isSymlink should not be consulted under ResolveNoFollowLast")
		return false, nil
	}
	_, _, err := n.Resolve(ATFDCWD, "a", ResolveNoFollowLast, "lstat", 1, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

// TestRealpathIntermediateReadlinks verifies that the number of readlink
// events equals the number of actually-symlinked intermediate components,
// zero when input == output.
func TestRealpathIntermediateReadlinks(t *testing.T) {
	n, _ := newTestNormalizer()
	links := map[string]string{
		"/work/a": "/work/b",
		"/work/b": "/work/c",
	}
	n.isSymlink = func(p string) (bool, error) {
		_, ok := links[p]
		return ok, nil
	}
	n.readlink = func(p string) (string, error) {
		target, ok := links[p]
		if !ok {
			return "", errNotSymlink
		}
		return target, nil
	}

	resolved, events, err := n.Realpath("/work/a", 1, 0)
	if err != nil {
		t.Fatalf("Realpath: %v", err)
	}
	if resolved != "/work/c" {
		t.Fatalf("resolved = %q, want /work/c", resolved)
	}

	var readlinkCount, probeCount int
	for _, ev := range events {
		switch ev.Kind {
		case KindReadlink:
			readlinkCount++
		case KindGenericProbe:
			probeCount++
		}
	}
	if readlinkCount != 2 {
		t.Errorf("readlink events = %d, want 2", readlinkCount)
	}
	if probeCount != 2 { // input probe + output probe (differs from input)
		t.Errorf("probe events = %d, want 2", probeCount)
	}
}

func TestRealpathNoSymlinksNoReadlinkEvents(t *testing.T) {
	n, _ := newTestNormalizer()
	resolved, events, err := n.Realpath("/work/plain", 1, 0)
	if err != nil {
		t.Fatalf("Realpath: %v", err)
	}
	if resolved != "/work/plain" {
		t.Fatalf("resolved = %q", resolved)
	}
	for _, ev := range events {
		if ev.Kind == KindReadlink {
			t.Errorf("unexpected readlink event for non-symlinked path")
		}
	}
	// input == output: only the input probe, no output probe
	probes := 0
	for _, ev := range events {
		if ev.Kind == KindGenericProbe {
			probes++
		}
	}
	if probes != 1 {
		t.Errorf("probe events = %d, want 1 when input == output", probes)
	}
}

func TestResolveSymlinkChainDetectsCycle(t *testing.T) {
	n, _ := newTestNormalizer()
	n.isSymlink = func(string) (bool, error) { return true, nil }
	n.readlink = func(p string) (string, error) { return p, nil } // self-loop

	_, _, err := n.resolveSymlinkChain("/work/loop", "openat", 1, 0)
	if err == nil {
		t.Fatal("expected error for symlink cycle")
	}
}
