package observer

import (
	"syscall"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
)

// Primitive is the real, un-interposed operation a shim forwards to after
// the Access Checker allows the call. It returns whatever the underlying
// syscall would (an fd, a byte count, ...) as an opaque result plus an
// error. A syscall.Errno error is reported as that errno; any other
// non-nil error is reported as errno -1.
type Primitive func() (result int, err error)

// CheckAndReport runs the interposition contract for a single Event:
// consult the Access Checker; on deny, report the witness and return
// ErrPolicyDenied without running fn; on allow/warn, run fn, stamp the
// Event with its errno, and report it.
//
// Calls that return fds must call o.FDTable.Set themselves after this
// returns allow — CheckAndReport does not know which result value (if
// any) is a new descriptor.
func (o *Observer) CheckAndReport(ev Event, fn Primitive) (result int, err error) {
	if o.IsNeverReport(ev.SrcPath) {
		if fn == nil {
			return 0, nil
		}
		return fn()
	}

	ev = o.Checker.Check(ev)

	if ev.Access.Decision == fam.Deny {
		log.Decision("deny", "denied %s on %s (rule %s)", ev.Syscall, ev.SrcPath, ev.Access.RuleID)
		o.report(ev)
		return -1, ErrPolicyDenied
	}

	if fn != nil {
		result, err = fn()
		ev.Errno = errnoOf(err)
	}
	o.report(ev)
	return result, err
}

// CheckAndReportEvents runs CheckAndReport for each of a batch of
// Normalizer-produced events, used by the symlink-chain and realpath
// reporting: each readlink or probe Event is checked and reported like
// any other call. The rename expansion reports through CheckRename instead.
func (o *Observer) CheckAndReportEvents(events []Event) {
	for _, ev := range events {
		if o.IsNeverReport(ev.SrcPath) {
			continue
		}
		checked := o.Checker.Check(ev)
		o.report(checked)
	}
}

// report emits ev through the Reporter. Observer doesn't own a clock; the
// record is built with a zero Timestamp and report.Reporter.Emit stamps it
// with its own now().
func (o *Observer) report(ev Event) {
	rec := ev.ToRecord(0)
	dedupDisabled := ev.DedupDisabled || ev.Kind == KindClone || ev.Kind == KindExit
	if err := o.Reporter.Emit(rec, dedupDisabled); err != nil {
		log.Warn("failed to emit report for %s %s: %v", ev.Syscall, ev.SrcPath, err)
	}
}

func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return int(errno)
	}
	return -1
}

// OpenAt is the representative shim for open/openat: it classifies create
// vs write vs plain open from the flags and whether the target exists.
func (o *Observer) OpenAt(dirfd int, name string, flags int, mode uint32, pid, ppid uint32, exists bool, fn Primitive) (int, error) {
	path, symEvents, err := o.Paths.Resolve(dirfd, name, resolvePolicyFor(flags), "openat", pid, ppid)
	if err != nil {
		return -1, err
	}
	o.CheckAndReportEvents(symEvents)

	kind := classifyOpen(flags, exists)
	ev := NewAbsolutePathEvent("openat", kind, pid, ppid, path)
	ev.Mode = mode

	fd, err := o.CheckAndReport(ev, fn)
	if err == nil {
		o.FDTable.Set(fd, path)
	}
	return fd, err
}

// classifyOpen and resolvePolicyFor use the numeric O_* bit values of
// x86-64 Linux directly rather than importing golang.org/x/sys/unix, so
// contract.go stays buildable and testable on every GOOS the rest of this
// package supports. Some Linux architectures number these flags
// differently (arm64 uses 0x8000 for O_NOFOLLOW); those values are not
// recognized here.
func classifyOpen(flags int, exists bool) Kind {
	const oCreat = 0x40
	const oTrunc = 0x200
	const oWronly = 0x1
	const oRdwr = 0x2

	if !exists && flags&oCreat != 0 {
		return KindCreate
	}
	if flags&(oWronly|oRdwr) != 0 {
		return KindGenericWrite
	}
	return KindOpen
}

func resolvePolicyFor(flags int) ResolutionPolicy {
	const oNofollow = 0x20000
	if flags&oNofollow != 0 {
		return ResolveNoFollowLast
	}
	return ResolveFully
}

// Stat is the representative shim for stat/lstat/fstatat: a probe access,
// no path mutation, honoring AT_SYMLINK_NOFOLLOW-equivalent flags.
func (o *Observer) Stat(dirfd int, name string, noFollow bool, pid, ppid uint32, fn Primitive) (int, error) {
	policy := ResolveFully
	if noFollow {
		policy = ResolveNoFollowLast
	}
	path, symEvents, err := o.Paths.Resolve(dirfd, name, policy, "fstatat", pid, ppid)
	if err != nil {
		return -1, err
	}
	o.CheckAndReportEvents(symEvents)

	ev := NewAbsolutePathEvent("fstatat", KindGenericProbe, pid, ppid, path)
	return o.CheckAndReport(ev, fn)
}

// Unlink is the representative shim for unlink/unlinkat/rmdir. isRmdir
// marks the rmdir variant, which must bypass the dedup cache: a build step
// that repeatedly removes and recreates the same directory needs every
// rmdir to show up on its own, not collapsed into the first occurrence.
func (o *Observer) Unlink(dirfd int, name string, pid, ppid uint32, isRmdir bool, fn Primitive) (int, error) {
	path, symEvents, err := o.Paths.Resolve(dirfd, name, ResolveNoFollowLast, "unlinkat", pid, ppid)
	if err != nil {
		return -1, err
	}
	o.CheckAndReportEvents(symEvents)

	ev := NewAbsolutePathEvent("unlinkat", KindUnlink, pid, ppid, path)
	if isRmdir {
		ev.DedupDisabled = true // rmdir must be seen individually, not collapsed by the dedup cache
	}
	return o.CheckAndReport(ev, fn)
}

// Mkdir is the representative shim for mkdir/mkdirat, which must bypass
// the dedup cache for the same reason rmdir does.
func (o *Observer) Mkdir(dirfd int, name string, mode uint32, pid, ppid uint32, fn Primitive) (int, error) {
	path, symEvents, err := o.Paths.Resolve(dirfd, name, ResolveNoFollowLast, "mkdirat", pid, ppid)
	if err != nil {
		return -1, err
	}
	o.CheckAndReportEvents(symEvents)

	ev := NewAbsolutePathEvent("mkdirat", KindCreate, pid, ppid, path)
	ev.Mode = mode
	ev.DedupDisabled = true
	return o.CheckAndReport(ev, fn)
}

// Rename is the representative shim for rename/renameat/renameat2: expands
// a directory source into per-descendant unlink/create pairs via the
// Access Checker's CheckRename, and only invokes fn if the combined
// decision allows it.
func (o *Observer) Rename(entries []RenameEntry, pid, ppid uint32, fn Primitive) (int, error) {
	decision, events := o.Checker.CheckRename(entries, pid, ppid)

	if decision == fam.Deny {
		// Only the witness for the terminal (denying) pair is reported,
		// not every earlier allowed pair.
		if len(events) > 0 {
			o.report(events[len(events)-1])
		}
		return -1, ErrPolicyDenied
	}

	for _, ev := range events {
		o.report(ev)
	}
	return fn()
}

// Readlink is the self-probe-aware shim for readlink/readlinkat. When name
// matches the Observer's self-probe set it returns "not found" without any
// forwarding or reporting.
func (o *Observer) Readlink(dirfd int, name string, pid, ppid uint32, selfProbe func(string) bool, fn Primitive) (int, error) {
	path, symEvents, err := o.Paths.Resolve(dirfd, name, ResolveNoFollowLast, "readlinkat", pid, ppid)
	if err != nil {
		return -1, err
	}
	if selfProbe != nil && selfProbe(path) {
		return -1, syscall.ENOENT
	}
	o.CheckAndReportEvents(symEvents)

	ev := NewAbsolutePathEvent("readlinkat", KindReadlink, pid, ppid, path)
	return o.CheckAndReport(ev, fn)
}

// Realpath is the shim driving Normalizer.Realpath's intermediate-symlink
// reporting shape: every symlink dereferenced on the way to the resolved
// path is reported as its own readlink event, alongside the input and
// output probes.
func (o *Observer) Realpath(input string, pid, ppid uint32, fn func(resolved string) (int, error)) (string, int, error) {
	resolved, events, err := o.Paths.Realpath(input, pid, ppid)
	o.CheckAndReportEvents(events)
	if err != nil {
		return "", -1, err
	}

	res, ferr := fn(resolved)
	return resolved, res, ferr
}

// CopyFileRange is the shim for copy_file_range. Unlike every other
// file-mutating call here, both endpoints arrive as already-open
// descriptors rather than a dirfd+name pair, so each side is resolved from
// the FD Table instead of the Path Normalizer before the source is checked
// for read access and the destination for write access, the same
// source/destination split Rename uses for its unlink/create pair. The
// byte range and flags are validated before the primitive runs, since the
// kernel call itself is a two-stage pipe-mediated splice that silently
// accepts garbage ranges on some filesystems.
func (o *Observer) CopyFileRange(fdIn int, offIn int64, fdOut int, offOut int64, length int, flags uint32, pid, ppid uint32, fn Primitive) (int, error) {
	if offIn < 0 || offOut < 0 || length < 0 {
		return -1, syscall.EINVAL
	}
	if flags != 0 {
		return -1, syscall.EINVAL
	}

	srcPath, srcOK := o.FDTable.Lookup(fdIn)
	dstPath, dstOK := o.FDTable.Lookup(fdOut)
	if !srcOK || !dstOK {
		return -1, ErrResolutionFailed
	}

	srcEv := o.Checker.Check(NewFDEvent("copy_file_range", KindGenericRead, pid, ppid, fdIn, srcPath))
	dstEv := o.Checker.Check(NewFDEvent("copy_file_range", KindGenericWrite, pid, ppid, fdOut, dstPath))

	decision := fam.Combine(srcEv.Access.Decision, dstEv.Access.Decision)
	if decision == fam.Deny {
		witness := dstEv
		if srcEv.Access.Decision == fam.Deny {
			witness = srcEv
		}
		o.report(witness)
		return -1, ErrPolicyDenied
	}

	o.report(srcEv)
	o.report(dstEv)
	return fn()
}
