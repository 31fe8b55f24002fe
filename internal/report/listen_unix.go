//go:build !windows

package report

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// Listen is the build-engine side of the reporting channel: it creates the
// named pipe at path if it does not already exist and opens it for
// reading. Opening blocks until a Reporter dials in, mirroring the FIFO
// handshake dialChannel performs from the instrumented side.
//
// This is exercised by cmd/observectl standing in for the build engine
// during local testing; a real engine owns the channel's lifetime itself,
// creating it before any instrumented process starts and tearing it down
// after the build completes.
func Listen(path string) (io.ReadCloser, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := syscall.Mkfifo(path, 0600); err != nil {
			return nil, fmt.Errorf("report: mkfifo %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("report: listen on channel %s: %w", path, err)
	}
	return f, nil
}
