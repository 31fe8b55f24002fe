// Package tracer implements the Tracer Fallback: when a target cannot be
// preloaded into (statically linked, or handed off by the Lifecycle
// Tracker), this package launches it under the platform's debug-control
// interface, decodes the syscalls the interposition layer would otherwise
// have intercepted, and drives the same Event→Check→Report flow from
// outside the traced process.
package tracer

import (
	"context"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/observer"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
)

// Checker is the subset of observer.AccessChecker the tracer needs,
// narrowed to an interface so tests can substitute a fake manifest without
// constructing a full fam.File.
type Checker interface {
	Check(ev observer.Event) observer.Event
}

// Reporter is the subset of report.Reporter the tracer needs.
type Reporter interface {
	Emit(rec report.Record, dedupDisabled bool) error
}

// Config binds a Tracer run to the same policy and reporting state the
// preload path would have used: decoded syscalls are translated into the
// same Event model, checked against the same FAM, and reported through the
// same channel, so the two mechanisms are observationally equivalent to
// the build engine on the other end of the channel.
type Config struct {
	Manifest *fam.File
	Checker  Checker
	Reporter Reporter
	RootPID  uint32
	RootPPID uint32
}

// Tracer launches and drives a traced child process.
type Tracer interface {
	// Run starts path with argv/envp under the debug-control interface and
	// blocks until the child exits, decoding and checking the
	// path-mutating syscalls a statically linked target would otherwise
	// bypass. It returns the child's exit code or an error if the child
	// could not be launched.
	Run(ctx context.Context, path string, argv, envp []string) (exitCode int, err error)
}

