//go:build !windows

package report

import (
	"fmt"
	"io"
	"os"
	"time"
)

// dialChannel opens the build-engine-owned named pipe at path for writing.
// On Unix the engine creates the FIFO ahead of time with mkfifo; opening for
// O_WRONLY blocks until the engine's reader has opened its end, so this
// honors timeout by racing the open against a timer goroutine.
func dialChannel(path string, timeout time.Duration) (io.WriteCloser, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("report: open channel %s: %w", path, r.err)
		}
		return r.f, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("report: open channel %s: timed out after %s", path, timeout)
	}
}
