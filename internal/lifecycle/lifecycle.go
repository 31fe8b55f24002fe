package lifecycle

import "github.com/ShikeChen-MS/BuildXL/internal/report"

// CloneKind distinguishes a real process creation from a thread-only clone;
// a thread-only clone shares the parent's address space and file
// descriptor table and so has no independent identity worth reporting.
type CloneKind uint8

const (
	CloneProcess CloneKind = iota
	CloneThread
)

// Reporter is the subset of report.Reporter the Tracker needs, so tests
// can substitute a fake without pulling in a real channel.
type Reporter interface {
	Emit(rec report.Record, dedupDisabled bool) error
}

// Tracker implements the fork/clone double-report policy: after a real
// fork/clone returns, exactly one report is emitted by the parent
// (carrying the child's pid) and one by the child (carrying its own pid),
// never by a thread-only clone.
type Tracker struct {
	reporter Reporter
}

// NewTracker binds a Tracker to rep.
func NewTracker(rep Reporter) *Tracker {
	return &Tracker{reporter: rep}
}

// OnParentSideClone is called in the branch of a fork/clone/vfork return
// where the primitive reported the caller as parent (pid > 0). It emits
// the parent-side report carrying the child's pid. kind == CloneThread
// suppresses the report entirely.
func (t *Tracker) OnParentSideClone(kind CloneKind, childPID, selfPID uint32) error {
	if kind == CloneThread {
		return nil
	}
	return t.emitClone(childPID, selfPID)
}

// OnChildSideClone is called in the branch where the primitive returned 0
// (this process is the child). It resets the FD Table, since a freshly
// forked child's descriptor table no longer matches anything cached from
// before, and emits the child-side report carrying its own pid.
func (t *Tracker) OnChildSideClone(kind CloneKind, selfPID, parentPID uint32, fdTable interface{ ResetAll() }) error {
	if kind == CloneThread {
		return nil
	}
	if fdTable != nil {
		fdTable.ResetAll()
	}
	return t.emitClone(selfPID, parentPID)
}

func (t *Tracker) emitClone(pid, ppid uint32) error {
	rec := report.Record{
		PID: pid, PPID: ppid,
		Syscall:  "clone",
		Kind:     report.KindClone,
		Decision: report.DecisionAllow,
	}
	// The double-report policy exists to prevent two races: a
	// child-emitted report overtaking the parent's fork-child report, and
	// the parent exiting before the child's own start report lands. Both
	// sides call Emit with dedup disabled — these records legitimately
	// repeat the same (pid, ppid) shape across many siblings and must
	// never be suppressed by the Reporter's cache.
	return t.reporter.Emit(rec, true)
}

// OnExit is called from the atexit/terminal-exit hook to emit the process
// exit sentinel.
func (t *Tracker) OnExit(pid, ppid uint32) error {
	rec := report.Record{PID: pid, PPID: ppid, Syscall: "_exit", Kind: report.KindExit, Decision: report.DecisionAllow}
	return t.reporter.Emit(rec, true)
}
