//go:build !linux

package tracer

import (
	"context"
	"fmt"
	"runtime"
)

// otherTracer reports that the tracer fallback has no implementation on
// this platform. The Lifecycle Tracker should not route statically linked
// execs here outside Linux; if it does, the error makes that obvious
// rather than silently skipping instrumentation.
type otherTracer struct{}

// New constructs the platform Tracer.
func New(cfg Config) Tracer {
	return &otherTracer{}
}

func (t *otherTracer) Run(ctx context.Context, path string, argv, envp []string) (int, error) {
	return -1, fmt.Errorf("tracer: fallback not implemented on %s", runtime.GOOS)
}
