package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrResolutionFailed mirrors observer.ErrResolutionFailed without
// importing package observer, keeping lifecycle's only dependency on the
// runtime a narrow Reporter interface (lifecycle.go) rather than the whole
// package.
var ErrResolutionFailed = fmt.Errorf("lifecycle: executable resolution failed")

// StatFunc reports whether path exists and is executable; swappable for
// tests. Production code binds this to a real os.Stat-based check.
type StatFunc func(path string) bool

// ResolveExecutable searches $PATH the way glibc's execvp does for a bare
// name (no slash): split on ':', treat an empty entry as ".", try each
// candidate, and only report exhaustion as ErrResolutionFailed after every
// candidate fails. A name containing a slash is used as-is.
func ResolveExecutable(name, pathEnv string, exists StatFunc) (string, error) {
	if strings.ContainsRune(name, '/') {
		if exists(name) {
			return name, nil
		}
		return "", fmt.Errorf("lifecycle: %w: %s", ErrResolutionFailed, name)
	}

	entries := strings.Split(pathEnv, ":")
	if pathEnv == "" {
		entries = []string{""}
	}

	for _, dir := range entries {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("lifecycle: %w: %s not found in PATH", ErrResolutionFailed, name)
}

// osExists is the production StatFunc: true when path exists and has any
// execute bit set.
func osExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0o111 != 0
}

// BreakawayDecision carries what the Tracker decided for one exec call.
type BreakawayDecision struct {
	ResolvedPath string
	Breakaway    bool
	NeedsTracer  bool // statically linked, preloading impossible
	FinalEnv     []string
}

// Manifest is the subset of *fam.File the exec decision needs, narrowed to
// an interface so lifecycle doesn't import package fam just for one method
// call (keeps the dependency direction: fam and report are both leaves;
// observer and lifecycle each depend on fam directly in production wiring,
// but this package's unit tests can supply a fake).
type Manifest interface {
	IsBreakaway(execPath string) bool
}

// StaticLinkDetector reports whether the binary at path cannot be
// preloaded into, forcing a handoff to the ptrace-based tracer fallback
// instead. Production code inspects the ELF dynamic section; tests
// substitute a fixed answer.
type StaticLinkDetector func(path string) bool

// PlanExec resolves name to a canonical path, decides breakaway vs
// instrumented vs tracer-fallback, and computes the final environment. The
// actual exec syscall is the caller's responsibility — PlanExec never
// invokes it.
func PlanExec(name, pathEnv string, exists StatFunc, manifest Manifest, isStaticallyLinked StaticLinkDetector, env []string, sanitizer *EnvSanitizer, preloadPath, famPath string) (BreakawayDecision, error) {
	resolved, err := ResolveExecutable(name, pathEnv, exists)
	if err != nil {
		// Fall back to the caller-supplied name rather than inventing one;
		// the exec will fail downstream with its own ENOENT either way.
		return BreakawayDecision{ResolvedPath: name, FinalEnv: env}, err
	}

	if manifest != nil && manifest.IsBreakaway(resolved) {
		return BreakawayDecision{
			ResolvedPath: resolved,
			Breakaway:    true,
			FinalEnv:     sanitizer.StripInstrumentation(env),
		}, nil
	}

	instrumented := sanitizer.EnsureInstrumented(env, preloadPath, famPath)

	if isStaticallyLinked != nil && isStaticallyLinked(resolved) {
		// Tracer fallback needs the FAM location but not the preload hook:
		// a statically linked target has no dynamic loader to preload into.
		return BreakawayDecision{
			ResolvedPath: resolved,
			NeedsTracer:  true,
			FinalEnv:     sanitizer.StripPreloadOnly(instrumented),
		}, nil
	}

	return BreakawayDecision{ResolvedPath: resolved, FinalEnv: instrumented}, nil
}
