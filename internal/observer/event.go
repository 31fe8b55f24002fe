// Package observer is the CORE runtime: it normalizes intercepted
// (dirfd, path) pairs, classifies syscall intent, checks the result against
// a File Access Manifest, and reports the outcome to the build engine. It
// is the component every per-entry-point shim (package observer's Contract
// helpers, or a generated wrapper) delegates to.
package observer

import (
	"fmt"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
)

// Kind mirrors report.Kind; Event uses the observer-local alias so callers
// in this package don't need to import report just to build an Event.
type Kind = report.Kind

const (
	KindOpen         = report.KindOpen
	KindGenericRead  = report.KindGenericRead
	KindGenericWrite = report.KindGenericWrite
	KindGenericProbe = report.KindGenericProbe
	KindCreate       = report.KindCreate
	KindUnlink       = report.KindUnlink
	KindLink         = report.KindLink
	KindReadlink     = report.KindReadlink
	KindExec         = report.KindExec
	KindClone        = report.KindClone
	KindExit         = report.KindExit
)

// ResolutionPolicy controls how the Path Normalizer treats the final
// path component.
type ResolutionPolicy uint8

const (
	ResolveFully ResolutionPolicy = iota
	ResolveNoFollowLast
)

// AccessCheck is the Access Checker's verdict stamped onto an Event.
type AccessCheck struct {
	Decision fam.Decision
	RuleID   string
}

// Event is the tagged record for one intercepted call. It is
// built by one of four logical constructors (NewAbsolutePathEvent,
// NewRelativePathEvent, NewFDEvent, NewLifecycleEvent), which determine the
// resolution policy default and which Path Normalizer mode applies.
type Event struct {
	Syscall          string
	Kind             Kind
	PID              uint32
	PPID             uint32
	SrcPath          string
	SrcFD            int // -1 when not fd-based
	DstPath          string
	Mode             uint32
	Errno            int
	ResolutionPolicy ResolutionPolicy
	CommandLine      []string // exec-family only
	LogDisabled      bool     // suppress forwarding-call logging for high-volume sites
	DedupDisabled    bool     // bypass the Reporter's dedup cache (rmdir, mkdir, lifecycle)
	Access           AccessCheck
}

// NewAbsolutePathEvent builds an Event for a call whose path is already
// absolute (dirfd is ignored in this case).
func NewAbsolutePathEvent(syscall string, kind Kind, pid, ppid uint32, path string) Event {
	return Event{
		Syscall: syscall, Kind: kind, PID: pid, PPID: ppid,
		SrcPath: path, SrcFD: -1, ResolutionPolicy: ResolveFully,
	}
}

// NewRelativePathEvent builds an Event for a dirfd+name pair; path must
// already be the Path Normalizer's resolved absolute form.
func NewRelativePathEvent(syscall string, kind Kind, pid, ppid uint32, path string) Event {
	return Event{
		Syscall: syscall, Kind: kind, PID: pid, PPID: ppid,
		SrcPath: path, SrcFD: -1, ResolutionPolicy: ResolveFully,
	}
}

// NewFDEvent builds an Event for an fd-only operation (e.g. fstat); path is
// the FD Table's resolution of fd, if any.
func NewFDEvent(syscall string, kind Kind, pid, ppid uint32, fd int, path string) Event {
	return Event{
		Syscall: syscall, Kind: kind, PID: pid, PPID: ppid,
		SrcFD: fd, SrcPath: path, ResolutionPolicy: ResolveFully,
	}
}

// NewLifecycleEvent builds a clone/exec/exit Event, which carries no path
// identity — a well-formed Event either has a path, an fd, or is a
// lifecycle event.
func NewLifecycleEvent(syscall string, kind Kind, pid, ppid uint32) Event {
	return Event{Syscall: syscall, Kind: kind, PID: pid, PPID: ppid, SrcFD: -1}
}

// Validate enforces that an Event carries a well-formed identity: a
// syscall name, and either a path, an fd, or a lifecycle kind.
func (e Event) Validate() error {
	if e.Syscall == "" {
		return fmt.Errorf("observer: event missing syscall name")
	}
	isLifecycle := e.Kind == KindClone || e.Kind == KindExec || e.Kind == KindExit
	if e.SrcPath == "" && e.SrcFD < 0 && !isLifecycle {
		return fmt.Errorf("observer: event %s has no path, fd, or lifecycle kind", e.Syscall)
	}
	return nil
}

// ToRecord projects the Event onto the wire-protocol Record (package
// report never imports observer, so this conversion lives here).
func (e Event) ToRecord(ts int64) report.Record {
	return report.Record{
		Timestamp: ts,
		PID:       e.PID,
		PPID:      e.PPID,
		Syscall:   e.Syscall,
		Kind:      e.Kind,
		Decision:  toReportDecision(e.Access.Decision),
		Errno:     e.Errno,
		SrcPath:   e.SrcPath,
		DstPath:   e.DstPath,
		Mode:      e.Mode,
		RuleID:    e.Access.RuleID,
	}
}

func toReportDecision(d fam.Decision) report.Decision {
	switch d {
	case fam.Deny:
		return report.DecisionDeny
	case fam.Warn:
		return report.DecisionWarn
	default:
		return report.DecisionAllow
	}
}
