// Package lifecycle implements the Lifecycle Tracker: fork/clone
// double-reporting, PATH search and breakaway detection across exec, and
// environment sanitization across exec boundaries.
package lifecycle

import (
	"strings"

	"github.com/ShikeChen-MS/BuildXL/internal/config"
)

// EnvSanitizer ensures or strips the two Observer-owned environment
// variables across an exec boundary. It never touches any variable but its
// own two — redacting or rewriting the rest of the build environment is a
// build-engine policy decision this package has no visibility into, so it
// only adds or removes exactly those two entries and leaves everything
// else passed through untouched.
type EnvSanitizer struct {
	preloadVar string
	famVar     string
}

// NewEnvSanitizer builds a sanitizer for the two variables named by
// config.EnvPreloadVar and config.EnvFAMPathVar.
func NewEnvSanitizer() *EnvSanitizer {
	return &EnvSanitizer{preloadVar: config.EnvPreloadVar, famVar: config.EnvFAMPathVar}
}

// EnsureInstrumented returns env with the preload and FAM-path variables
// present, injecting them (with preloadPath/famPath) if missing, for a
// non-breakaway exec target.
func (s *EnvSanitizer) EnsureInstrumented(env []string, preloadPath, famPath string) []string {
	out := make([]string, 0, len(env)+2)
	hasPreload, hasFAM := false, false

	for _, kv := range env {
		switch envKey(kv) {
		case s.preloadVar:
			hasPreload = true
		case s.famVar:
			hasFAM = true
		}
		out = append(out, kv)
	}

	if !hasPreload {
		out = append(out, s.preloadVar+"="+preloadPath)
	}
	if !hasFAM {
		out = append(out, s.famVar+"="+famPath)
	}
	return out
}

// StripInstrumentation removes both Observer-owned variables, for a
// breakaway exec target, so the opted-out subprocess and its descendants
// run uninstrumented.
func (s *EnvSanitizer) StripInstrumentation(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		switch envKey(kv) {
		case s.preloadVar, s.famVar:
			continue
		}
		out = append(out, kv)
	}
	return out
}

// StripPreloadOnly removes just the preload-injection variable, keeping
// the FAM-path variable intact. Used when handing off to the tracer
// fallback, which attaches via ptrace rather than a preloaded shared
// object and so has no use for the preload hook, but still needs to find
// the manifest.
func (s *EnvSanitizer) StripPreloadOnly(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if envKey(kv) == s.preloadVar {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func envKey(kv string) string {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i]
	}
	return kv
}
