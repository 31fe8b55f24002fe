package lifecycle

import "testing"

func hasKV(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}

// TestExecEnvironmentShape verifies that after an exec to a non-breakaway
// target the child's environment contains both Observer-owned variables;
// after a breakaway exec, it contains neither.
func TestExecEnvironmentShape(t *testing.T) {
	s := NewEnvSanitizer()
	base := []string{"PATH=/usr/bin", "HOME=/root"}

	instrumented := s.EnsureInstrumented(base, "/lib/observer.so", "/tmp/fam.bin")
	if !hasKV(instrumented, s.preloadVar+"=/lib/observer.so") {
		t.Errorf("missing preload var: %v", instrumented)
	}
	if !hasKV(instrumented, s.famVar+"=/tmp/fam.bin") {
		t.Errorf("missing FAM var: %v", instrumented)
	}
	if len(instrumented) != len(base)+2 {
		t.Errorf("got %d entries, want %d", len(instrumented), len(base)+2)
	}

	stripped := s.StripInstrumentation(instrumented)
	for _, kv := range stripped {
		key := envKey(kv)
		if key == s.preloadVar || key == s.famVar {
			t.Errorf("breakaway env still contains %s", key)
		}
	}
	if len(stripped) != len(base) {
		t.Errorf("stripped env = %v, want back to base length %d", stripped, len(base))
	}
}

func TestEnsureInstrumentedIsIdempotent(t *testing.T) {
	s := NewEnvSanitizer()
	env := []string{s.preloadVar + "=/existing.so", s.famVar + "=/existing.bin"}

	got := s.EnsureInstrumented(env, "/new.so", "/new.bin")
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (no duplicate injection)", len(got))
	}
	if !hasKV(got, s.preloadVar+"=/existing.so") {
		t.Errorf("existing preload value should not be overwritten: %v", got)
	}
}

func TestStripInstrumentationLeavesOtherVarsIntact(t *testing.T) {
	s := NewEnvSanitizer()
	env := []string{"PATH=/usr/bin", s.preloadVar + "=/x.so", "SHELL=/bin/sh", s.famVar + "=/x.bin"}

	got := s.StripInstrumentation(env)
	if !hasKV(got, "PATH=/usr/bin") || !hasKV(got, "SHELL=/bin/sh") {
		t.Errorf("unrelated vars dropped: %v", got)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}
