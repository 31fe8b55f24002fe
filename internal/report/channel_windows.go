//go:build windows

package report

import (
	"fmt"
	"io"
	"time"

	"github.com/Microsoft/go-winio"
)

// dialChannel opens the build-engine-owned named pipe at path for writing.
// Windows has no FIFO equivalent; the engine listens on a named pipe and
// go-winio's DialPipeContext performs the connect-with-timeout dance the
// raw CreateFile/ConnectNamedPipe APIs would otherwise require by hand.
func dialChannel(path string, timeout time.Duration) (io.WriteCloser, error) {
	conn, err := winio.DialPipe(path, &timeout)
	if err != nil {
		return nil, fmt.Errorf("report: dial channel %s: %w", path, err)
	}
	return conn, nil
}
