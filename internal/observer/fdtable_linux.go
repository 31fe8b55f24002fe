//go:build linux

package observer

import (
	"fmt"
	"os"
)

// resolveFDFromKernel reads the /proc/self/fd/<n> symlink, Linux's
// equivalent of asking the kernel what path backs a descriptor.
func resolveFDFromKernel(fd int) (string, bool) {
	link := fmt.Sprintf("/proc/self/fd/%d", fd)
	target, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	return target, true
}
