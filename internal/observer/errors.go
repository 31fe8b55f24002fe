package observer

import (
	"errors"
	"fmt"
)

// Error taxonomy: a closed set of sentinel causes rather than ad hoc
// fmt.Errorf strings, so callers branch on errors.Is instead of string
// matching.
var (
	// ErrPolicyDenied means the Access Checker returned deny. The caller
	// must return the documented permission-denied value without invoking
	// the kernel.
	ErrPolicyDenied = errors.New("observer: access denied by policy")

	// ErrResolutionFailed means path normalization could not produce a
	// canonical path (e.g. execvp exhausted PATH). The caller falls back
	// to the user-supplied name rather than inventing one.
	ErrResolutionFailed = errors.New("observer: path resolution failed")

	// ErrReentrant means this call arrived while the Observer's own init
	// is still running in this process. The caller must forward to the
	// real primitive without reporting.
	ErrReentrant = errors.New("observer: reentrant call during init")

	// ErrChannelUnavailable means the Reporter could not deliver. The
	// call's visible behavior must not change; the record is buffered.
	ErrChannelUnavailable = errors.New("observer: reporting channel unavailable")
)

// KernelError wraps a real primitive's failure (errno) so callers can
// distinguish "the kernel said no" from an Observer-synthesized denial
// while still satisfying errors.Is(err, ErrKernelFailed).
type KernelError struct {
	Syscall string
	Errno   int
}

// ErrKernelFailed is the sentinel KernelError values compare against via
// errors.Is; KernelError.Is implements the match.
var ErrKernelFailed = errors.New("observer: kernel call failed")

func (e *KernelError) Error() string {
	return fmt.Sprintf("observer: %s failed: errno %d", e.Syscall, e.Errno)
}

func (e *KernelError) Is(target error) bool {
	return target == ErrKernelFailed
}

func (e *KernelError) Unwrap() error {
	return ErrKernelFailed
}
