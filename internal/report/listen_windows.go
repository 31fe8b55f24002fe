//go:build windows

package report

import (
	"fmt"
	"io"

	"github.com/Microsoft/go-winio"
)

// Listen is the build-engine side of the reporting channel on Windows: it
// creates the named pipe server and accepts a single connection from a
// Reporter dialing in via go-winio.
func Listen(path string) (io.ReadCloser, error) {
	l, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("report: listen on channel %s: %w", path, err)
	}
	conn, err := l.Accept()
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("report: accept on channel %s: %w", path, err)
	}
	return conn, nil
}
