package observer

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
)

// memChannel is a minimal in-memory io.WriteCloser, mirroring the fake
// channel package report uses in its own reporter_test.go.
type memChannel struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *memChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *memChannel) Close() error { return nil }

func (c *memChannel) records() []report.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []report.Record
	sc := bufio.NewScanner(strings.NewReader(c.buf.String()))
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		rec, err := report.ParseRecord(sc.Text())
		if err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func newTestObserver(manifest *fam.File) (*Observer, *memChannel) {
	ch := &memChannel{}
	rep := report.NewWithWriter(ch, report.Options{})
	tbl := NewFDTable()
	o := &Observer{
		PID: 10, PPID: 1,
		Manifest:    manifest,
		FDTable:     tbl,
		Checker:     NewAccessChecker(manifest),
		Paths:       NewNormalizer(tbl),
		Reporter:    rep,
		neverReport: map[string]struct{}{},
	}
	return o, ch
}

func openManifest() *fam.File {
	return &fam.File{
		DefaultDecision: fam.Allow,
		Rules: []fam.Rule{
			{ID: "src", Prefix: "/src", Read: fam.Allow, Write: fam.Deny, Create: fam.Deny},
		},
	}
}

// TestScenarioS1 exercises an allowed read followed by a denied write to
// the same path.
func TestScenarioS1(t *testing.T) {
	o, ch := newTestObserver(openManifest())

	var fd int
	calls := 0
	openFn := func() (int, error) { calls++; fd = 3; return fd, nil }

	got, err := o.OpenAt(ATFDCWD, "/src/a.txt", 0 /*O_RDONLY*/, 0, o.PID, o.PPID, true, openFn)
	if err != nil || got != 3 || calls != 1 {
		t.Fatalf("read open: got=%d err=%v calls=%d", got, err, calls)
	}

	writeFn := func() (int, error) {
		t.Fatal("write primitive must not run on a denied call")
		return -1, nil
	}
	const oWronly = 0x1
	_, err = o.OpenAt(ATFDCWD, "/src/a.txt", oWronly, 0, o.PID, o.PPID, true, writeFn)
	if err != ErrPolicyDenied {
		t.Fatalf("write open err = %v, want ErrPolicyDenied", err)
	}

	recs := ch.records()
	if len(recs) < 2 {
		t.Fatalf("got %d records, want at least 2", len(recs))
	}
	last := recs[len(recs)-1]
	if last.Decision != report.DecisionDeny {
		t.Errorf("last record decision = %v, want deny", last.Decision)
	}
}

// TestScenarioS3 exercises the rename-over-directory expansion with a
// denied descendant.
func TestScenarioS3(t *testing.T) {
	manifest := &fam.File{
		DefaultDecision: fam.Allow,
		Rules: []fam.Rule{
			{ID: "dir2-b-deny", Prefix: "/dir2/b", Write: fam.Deny, Create: fam.Deny},
		},
	}
	o, ch := newTestObserver(manifest)

	entries := []RenameEntry{
		{Src: "/dir/a", Dst: "/dir2/a"},
		{Src: "/dir/b", Dst: "/dir2/b"},
		{Src: "/dir/b/c", Dst: "/dir2/b/c"},
	}
	renamed := false
	_, err := o.Rename(entries, o.PID, o.PPID, func() (int, error) { renamed = true; return 0, nil })

	if err != ErrPolicyDenied {
		t.Fatalf("err = %v, want ErrPolicyDenied", err)
	}
	if renamed {
		t.Fatal("rename primitive must not run when combined decision is deny")
	}

	recs := ch.records()
	if len(recs) != 1 {
		t.Fatalf("got %d report records, want exactly 1 witness", len(recs))
	}
}

// TestScenarioS4 exercises the self-probe short-circuit for a known
// allocator-config readlink.
func TestScenarioS4(t *testing.T) {
	o, ch := newTestObserver(openManifest())

	selfProbe := func(p string) bool { return p == "/etc/malloc.conf" }
	_, err := o.Readlink(ATFDCWD, "/etc/malloc.conf", o.PID, o.PPID, selfProbe, func() (int, error) {
		t.Fatal("self-probe path must never reach the primitive")
		return -1, nil
	})

	if err == nil {
		t.Fatal("expected ENOENT-shaped error")
	}
	if len(ch.records()) != 0 {
		t.Fatalf("expected no report records for self-probe, got %d", len(ch.records()))
	}
}

// TestScenarioS6 exercises FD Table invalidation after dup2.
func TestScenarioS6(t *testing.T) {
	o, _ := newTestObserver(openManifest())

	o.FDTable.Set(1, "/old")
	_, _ = o.OpenAt(ATFDCWD, "/src/p", 0, 0, o.PID, o.PPID, true, func() (int, error) { return 9, nil })
	o.FDTable.Set(9, "/src/p")

	// simulate dup2(9, 2): observer must reset fd 2 then rebind
	o.FDTable.Reset(2)
	o.FDTable.Set(2, "/src/p")

	got, ok := o.FDTable.Lookup(2)
	if !ok || got != "/src/p" {
		t.Fatalf("Lookup(2) = %q, %v; want /src/p, true", got, ok)
	}
}

// TestCopyFileRangeAllowedResolvesBothEndpointsFromFDTable verifies that a
// copy_file_range call resolves both descriptors through the FD Table
// rather than the Path Normalizer, checks the source for read and the
// destination for write, and forwards to the primitive when both allow.
func TestCopyFileRangeAllowedResolvesBothEndpointsFromFDTable(t *testing.T) {
	o, ch := newTestObserver(openManifest())
	o.FDTable.Set(4, "/src/a.txt")
	o.FDTable.Set(5, "/src/b.txt")

	ran := false
	got, err := o.CopyFileRange(4, 0, 5, 0, 1024, 0, o.PID, o.PPID, func() (int, error) {
		ran = true
		return 1024, nil
	})
	if err != nil || got != 1024 || !ran {
		t.Fatalf("CopyFileRange: got=%d err=%v ran=%v", got, err, ran)
	}
	if len(ch.records()) != 2 {
		t.Fatalf("got %d records, want 2 (one per endpoint)", len(ch.records()))
	}
}

// TestCopyFileRangeDeniedDestinationSkipsPrimitive verifies that a denied
// destination stops the copy before the primitive runs and reports only
// the denying endpoint as witness.
func TestCopyFileRangeDeniedDestinationSkipsPrimitive(t *testing.T) {
	manifest := &fam.File{
		DefaultDecision: fam.Allow,
		Rules: []fam.Rule{
			{ID: "dst-deny", Prefix: "/out", Create: fam.Deny, Write: fam.Deny},
		},
	}
	o, ch := newTestObserver(manifest)
	o.FDTable.Set(4, "/src/a.txt")
	o.FDTable.Set(5, "/out/b.txt")

	_, err := o.CopyFileRange(4, 0, 5, 0, 1024, 0, o.PID, o.PPID, func() (int, error) {
		t.Fatal("copy primitive must not run when the destination is denied")
		return -1, nil
	})
	if err != ErrPolicyDenied {
		t.Fatalf("err = %v, want ErrPolicyDenied", err)
	}
	if len(ch.records()) != 1 {
		t.Fatalf("got %d records, want exactly 1 witness", len(ch.records()))
	}
}

// TestCopyFileRangeRejectsInvalidArguments verifies that a negative offset
// or length, or a nonzero flags value, is rejected before either
// descriptor is even looked up.
func TestCopyFileRangeRejectsInvalidArguments(t *testing.T) {
	o, _ := newTestObserver(openManifest())

	if _, err := o.CopyFileRange(4, -1, 5, 0, 1024, 0, o.PID, o.PPID, nil); err != syscall.EINVAL {
		t.Fatalf("negative offIn: err = %v, want EINVAL", err)
	}
	if _, err := o.CopyFileRange(4, 0, 5, 0, 1024, 1, o.PID, o.PPID, nil); err != syscall.EINVAL {
		t.Fatalf("nonzero flags: err = %v, want EINVAL", err)
	}
}

func TestReportPerCallDedup(t *testing.T) {
	o, ch := newTestObserver(openManifest())
	openFn := func() (int, error) { return 3, nil }

	for i := 0; i < 3; i++ {
		if _, err := o.OpenAt(ATFDCWD, "/src/a.txt", 0, 0, o.PID, o.PPID, true, openFn); err != nil {
			t.Fatalf("OpenAt: %v", err)
		}
	}

	if got := len(ch.records()); got != 1 {
		t.Fatalf("got %d records, want 1 (identical calls dedup)", got)
	}
}

func TestMkdirBypassesDedup(t *testing.T) {
	o, ch := newTestObserver(openManifest())
	mkdirFn := func() (int, error) { return 0, nil }

	for i := 0; i < 2; i++ {
		if _, err := o.Mkdir(ATFDCWD, "/work/newdir", 0755, o.PID, o.PPID, mkdirFn); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
	}

	if got := len(ch.records()); got != 2 {
		t.Fatalf("got %d records, want 2 (mkdir bypasses dedup)", got)
	}
}

var _ io.WriteCloser = (*memChannel)(nil)
