//go:build linux

package fam

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Load memory-maps path read-only and decodes it as a FAM blob rather than
// copying it into a heap buffer: the manifest can run into the megabytes on
// a large build graph, and every instrumented child process maps the same
// pages, so the kernel shares them instead of each process paying its own
// copy. The mapping is kept resident for the process lifetime; Decode
// copies the strings it returns, so the decoded File does not point into it.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fam: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fam: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("fam: %s is empty", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fam: mmap %s: %w", path, err)
	}

	file, err := Decode(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return file, nil
}
