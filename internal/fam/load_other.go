//go:build !linux

package fam

import (
	"fmt"
	"os"
)

// Load reads and decodes path as a FAM blob. Non-Linux targets (the tracer
// fallback and exec hooks themselves are Linux-only today, see
// internal/tracer) read the file directly rather than mmap it.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fam: read %s: %w", path, err)
	}
	return Decode(data)
}
