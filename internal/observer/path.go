package observer

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ATFDCWD is the dirfd sentinel meaning "resolve relative to the process's
// current working directory", matching the POSIX/Linux AT_FDCWD value so
// callers can pass it straight through from the real syscall arguments.
const ATFDCWD = -100

// maxSymlinkDepth bounds symlink-chain resolution, mirroring the kernel's
// own ELOOP limit so a cyclic chain can't hang the normalizer.
const maxSymlinkDepth = 40

// Normalizer is the Path Normalizer: it turns a (dirfd, name, flags)
// triple into a canonical absolute path, consulting the FD Table for
// dirfd resolution and optionally walking symlinks.
type Normalizer struct {
	fdTable *FDTable

	// readlink and isSymlink are swapped out in tests; in production they
	// wrap the real syscalls (see path_os.go).
	readlink  func(path string) (string, error)
	isSymlink func(path string) (bool, error)
	cwd       func() (string, error)
}

// NewNormalizer builds a Normalizer bound to fdTable, using the platform's
// real symlink primitives.
func NewNormalizer(fdTable *FDTable) *Normalizer {
	return &Normalizer{
		fdTable:   fdTable,
		readlink:  osReadlink,
		isSymlink: osIsSymlink,
		cwd:       osGetwd,
	}
}

// Join is a pure, allocation-light helper combining a directory's resolved
// path with a (possibly relative) name: absolute names ignore dirPath
// entirely, matching the kernel's own openat semantics for an absolute
// pathname argument.
func Join(dirPath, name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	if dirPath == "" {
		return path.Clean(name)
	}
	return path.Join(dirPath, name)
}

// dirPath resolves dirfd to a directory path: ATFDCWD means the process's
// cwd, anything else is looked up through the FD Table.
func (n *Normalizer) dirPath(dirfd int) (string, error) {
	if dirfd == ATFDCWD {
		if n.cwd == nil {
			return "", fmt.Errorf("observer: no cwd resolver configured")
		}
		return n.cwd()
	}
	p, ok := n.fdTable.Lookup(dirfd)
	if !ok {
		return "", fmt.Errorf("observer: %w: dirfd %d has no cached path", ErrResolutionFailed, dirfd)
	}
	return p, nil
}

// Resolve collapses dirfd+name into an absolute path, then walks symlinks
// unless policy is ResolveNoFollowLast. Returns the canonical path plus
// one synthetic readlink Event per symlink actually traversed, attributed
// to syscall so the caller can check/report each the same way as the
// primary call.
func (n *Normalizer) Resolve(dirfd int, name string, policy ResolutionPolicy, syscall string, pid, ppid uint32) (string, []Event, error) {
	base := ""
	if !path.IsAbs(name) {
		var err error
		base, err = n.dirPath(dirfd)
		if err != nil {
			return "", nil, err
		}
	}
	joined := Join(base, name)

	if policy == ResolveNoFollowLast {
		return normalizeText(joined), nil, nil
	}

	resolved, events, err := n.resolveSymlinkChain(joined, syscall, pid, ppid)
	if err != nil {
		return "", events, err
	}
	return normalizeText(resolved), events, nil
}

// resolveSymlinkChain follows the symlink chain of the whole path: while
// the path itself is a symlink, it is replaced by its target (a relative
// target is joined to the link's directory), emitting a readlink Event per
// link actually traversed. Only the final component is tested; symlinks in
// earlier components are neither reported nor rewritten in the result.
func (n *Normalizer) resolveSymlinkChain(p, syscall string, pid, ppid uint32) (string, []Event, error) {
	var events []Event
	current := p

	for depth := 0; depth < maxSymlinkDepth; depth++ {
		isLink, err := n.isSymlink(current)
		if err != nil || !isLink {
			return current, events, nil
		}

		target, err := n.readlink(current)
		if err != nil {
			return current, events, nil
		}

		events = append(events, Event{
			Syscall: syscall, Kind: KindReadlink, PID: pid, PPID: ppid,
			SrcPath: current, SrcFD: -1, ResolutionPolicy: ResolveNoFollowLast,
		})

		if path.IsAbs(target) {
			current = path.Clean(target)
		} else {
			current = path.Join(path.Dir(current), target)
		}
	}
	return "", events, fmt.Errorf("observer: %w: symlink depth exceeded %d for %s", ErrResolutionFailed, maxSymlinkDepth, p)
}

// Realpath implements the realpath-specific reporting shape: a probe event
// for the input path, a probe for the output when it differs, and one
// readlink event per symlink followed by resolveSymlinkChain — never for a
// path that is not a symlink. Symlinks in non-final components of the
// input are not walked, so they produce no readlink event.
func (n *Normalizer) Realpath(input string, pid, ppid uint32) (resolved string, events []Event, err error) {
	probeIn := Event{Syscall: "realpath", Kind: KindGenericProbe, PID: pid, PPID: ppid, SrcPath: input, SrcFD: -1}

	base := input
	if !path.IsAbs(input) {
		cwd, cerr := n.cwd()
		if cerr != nil {
			return "", []Event{probeIn}, fmt.Errorf("observer: %w: %v", ErrResolutionFailed, cerr)
		}
		base = Join(cwd, input)
	}

	out, linkEvents, rerr := n.resolveSymlinkChain(base, "realpath", pid, ppid)
	events = append(events, probeIn)
	if rerr != nil {
		return "", events, rerr
	}
	events = append(events, linkEvents...)

	out = normalizeText(out)
	if out != normalizeText(input) {
		events = append(events, Event{Syscall: "realpath", Kind: KindGenericProbe, PID: pid, PPID: ppid, SrcPath: out, SrcFD: -1})
	}
	return out, events, nil
}

// normalizeText applies Unicode NFC folding so a precomposed-vs-decomposed
// filename (e.g. HFS+'s NFD output) compares equal against an NFC-authored
// FAM prefix.
func normalizeText(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// isSelfReferential reports whether name, once joined, is exactly "." or
// "..", used by callers that must special-case those before resolution.
func isSelfReferential(name string) bool {
	trimmed := strings.TrimRight(name, "/")
	return trimmed == "." || trimmed == ".."
}
