//go:build linux

package tracer

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/ShikeChen-MS/BuildXL/internal/observer"
	"golang.org/x/sys/unix"
)

var log = logger.New("tracer")

// tracedSyscalls maps the syscall numbers the tracer decodes to the Kind
// the resulting Event should carry, covering the path-mutating entry
// points a statically linked binary would otherwise bypass entirely since
// it never runs the preloaded interposition layer.
var tracedSyscalls = map[uint64]observer.Kind{
	unix.SYS_OPEN:     observer.KindOpen,
	unix.SYS_OPENAT:   observer.KindOpen,
	unix.SYS_UNLINK:   observer.KindUnlink,
	unix.SYS_UNLINKAT: observer.KindUnlink,
	unix.SYS_RENAME:   observer.KindCreate,
	unix.SYS_RENAMEAT: observer.KindCreate,
	unix.SYS_MKDIR:    observer.KindCreate,
	unix.SYS_MKDIRAT:  observer.KindCreate,
	unix.SYS_READLINK: observer.KindReadlink,
}

// linuxTracer is the ptrace-based Tracer Fallback.
type linuxTracer struct {
	cfg Config
}

// New constructs the platform Tracer.
func New(cfg Config) Tracer {
	return &linuxTracer{cfg: cfg}
}

// Run implements Tracer. It starts the child with PTRACE_TRACEME armed via
// os/exec's SysProcAttr, then alternates PTRACE_SYSCALL stops for syscall
// entry and exit, decoding the path argument at entry and consulting the
// Access Checker before the kernel executes the call, enforcing a denial
// by rewriting the syscall number to an invalid one so the kernel itself
// fails the call with ENOSYS rather than performing the operation. The
// return value is not rewritten at syscall exit, so the traced process
// sees ENOSYS, not EPERM.
func (t *linuxTracer) Run(ctx context.Context, path string, argv, envp []string) (int, error) {
	cmd := exec.CommandContext(ctx, path, argv...)
	cmd.Env = envp
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("tracer: start %s: %w", path, err)
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return -1, fmt.Errorf("tracer: initial wait on %d: %w", pid, err)
	}
	// Mark syscall-stops with SIGTRAP|0x80. The loop below does not inspect
	// the stop signal; it treats every stop as alternating entry/exit.
	_ = unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD)

	inSyscallEntry := true
	for {
		if err := unix.PtraceSyscall(pid, 0); err != nil {
			return -1, fmt.Errorf("tracer: PTRACE_SYSCALL: %w", err)
		}
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return -1, fmt.Errorf("tracer: wait: %w", err)
		}

		if ws.Exited() {
			return ws.ExitStatus(), nil
		}
		if ws.Signaled() {
			return -1, fmt.Errorf("tracer: %s killed by signal %v", path, ws.Signal())
		}

		if inSyscallEntry {
			t.onSyscallEntry(pid)
		}
		inSyscallEntry = !inSyscallEntry
	}
}

func (t *linuxTracer) onSyscallEntry(pid int) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		log.Warn("PTRACE_GETREGS failed for pid %d: %v", pid, err)
		return
	}

	kind, ok := tracedSyscalls[regs.Orig_rax]
	if !ok {
		return
	}

	pathArg, err := readCString(pid, firstPathArgRegister(regs))
	if err != nil {
		log.Warn("failed to read path argument for pid %d: %v", pid, err)
		return
	}

	ev := observer.NewAbsolutePathEvent(syscallName(regs.Orig_rax), kind, uint32(pid), t.cfg.RootPPID, pathArg)
	ev = checkEvent(t.cfg.Checker, ev)

	rec := ev.ToRecord(0)
	if err := t.cfg.Reporter.Emit(rec, false); err != nil {
		log.Warn("tracer report emit failed: %v", err)
	}

	if ev.Access.Decision == fam.Deny {
		log.Decision("deny", "denied %s on %s for traced pid %d (rule %s)", ev.Syscall, ev.SrcPath, pid, ev.Access.RuleID)
		denyCurrentSyscall(pid, &regs)
	}
}

func checkEvent(c Checker, ev observer.Event) observer.Event {
	if c == nil {
		return ev
	}
	return c.Check(ev)
}

// firstPathArgRegister picks the register holding the path argument for
// the syscalls this tracer decodes: openat/unlinkat/mkdirat/renameat take
// the path in the second argument (rsi) since the first is the dirfd;
// open/unlink/mkdir/readlink/rename take it in the first (rdi).
func firstPathArgRegister(regs unix.PtraceRegs) uint64 {
	switch regs.Orig_rax {
	case unix.SYS_OPENAT, unix.SYS_UNLINKAT, unix.SYS_MKDIRAT, unix.SYS_RENAMEAT:
		return regs.Rsi
	default:
		return regs.Rdi
	}
}

// readCString reads a NUL-terminated string from the traced process's
// address space at addr, one word at a time via PTRACE_PEEKDATA, since the
// tracer has no direct memory access to the child and no dirfd table of
// its own to consult — every path argument must be read out of the
// traced process this way.
func readCString(pid int, addr uint64) (string, error) {
	const maxLen = 4096
	var out []byte
	buf := make([]byte, 8)

	for len(out) < maxLen {
		n, err := unix.PtracePeekData(pid, uintptr(addr)+uintptr(len(out)), buf)
		if err != nil || n == 0 {
			return "", fmt.Errorf("tracer: PTRACE_PEEKDATA at %#x: %w", addr, err)
		}
		for _, b := range buf[:n] {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
	}
	return "", fmt.Errorf("tracer: string at %#x exceeds %d bytes", addr, maxLen)
}

// denyCurrentSyscall rewrites the traced process's pending syscall to one
// guaranteed to fail (an invalid syscall number), so the kernel skips the
// operation and the call returns ENOSYS to the traced process.
func denyCurrentSyscall(pid int, regs *unix.PtraceRegs) {
	const invalidSyscallNo = ^uint64(0)
	regs.Orig_rax = invalidSyscallNo
	if err := unix.PtraceSetRegs(pid, regs); err != nil {
		log.Warn("failed to rewrite syscall for denial on pid %d: %v", pid, err)
	}
}

func syscallName(nr uint64) string {
	switch nr {
	case unix.SYS_OPEN:
		return "open"
	case unix.SYS_OPENAT:
		return "openat"
	case unix.SYS_UNLINK:
		return "unlink"
	case unix.SYS_UNLINKAT:
		return "unlinkat"
	case unix.SYS_RENAME:
		return "rename"
	case unix.SYS_RENAMEAT:
		return "renameat"
	case unix.SYS_MKDIR:
		return "mkdir"
	case unix.SYS_MKDIRAT:
		return "mkdirat"
	case unix.SYS_READLINK:
		return "readlink"
	default:
		return fmt.Sprintf("syscall(%d)", nr)
	}
}
