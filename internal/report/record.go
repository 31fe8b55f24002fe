// Package report implements the Reporter: serializing intercepted-call
// events as text records and pushing them to the build engine over a
// shared, engine-owned channel.
package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind mirrors observer.Kind without importing package observer, so report
// has no dependency on the runtime that uses it (observer depends on
// report, never the reverse).
type Kind string

const (
	KindOpen         Kind = "open"
	KindGenericRead  Kind = "generic-read"
	KindGenericWrite Kind = "generic-write"
	KindGenericProbe Kind = "generic-probe"
	KindCreate       Kind = "create"
	KindUnlink       Kind = "unlink"
	KindLink         Kind = "link"
	KindReadlink     Kind = "readlink"
	KindExec         Kind = "exec"
	KindClone        Kind = "clone"
	KindExit         Kind = "exit"
)

// Decision mirrors fam.Decision as a wire-safe string so report doesn't
// depend on package fam either.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionDeny  Decision = "deny"
)

// Record is one line of the reporting-channel wire protocol: timestamp,
// pid, ppid, syscall, kind, decision, errno, source path, destination
// path, mode, rule-id.
type Record struct {
	Timestamp int64
	PID       uint32
	PPID      uint32
	Syscall   string
	Kind      Kind
	Decision  Decision
	Errno     int
	SrcPath   string
	DstPath   string
	Mode      uint32
	RuleID    string
}

const fieldSep = "\t"

// String serializes the record as one tab-separated line, without a
// trailing newline. Paths are not allowed to contain tabs or newlines;
// Reporter.Emit replaces any that slip through before calling String so the
// wire format stays one-record-per-line.
func (r Record) String() string {
	fields := []string{
		strconv.FormatInt(r.Timestamp, 10),
		strconv.FormatUint(uint64(r.PID), 10),
		strconv.FormatUint(uint64(r.PPID), 10),
		r.Syscall,
		string(r.Kind),
		string(r.Decision),
		strconv.Itoa(r.Errno),
		r.SrcPath,
		r.DstPath,
		strconv.FormatUint(uint64(r.Mode), 8),
		r.RuleID,
	}
	return strings.Join(fields, fieldSep)
}

// recordFieldCount is len(fields) in String, kept in lockstep with ParseRecord.
const recordFieldCount = 11

// ParseRecord parses one wire line back into a Record. Used by tests and by
// any engine-side or diagnostic tooling reading the channel back.
func ParseRecord(line string) (Record, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != recordFieldCount {
		return Record{}, fmt.Errorf("report: expected %d fields, got %d", recordFieldCount, len(fields))
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("report: bad timestamp: %w", err)
	}
	pid, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("report: bad pid: %w", err)
	}
	ppid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("report: bad ppid: %w", err)
	}
	errno, err := strconv.Atoi(fields[6])
	if err != nil {
		return Record{}, fmt.Errorf("report: bad errno: %w", err)
	}
	mode, err := strconv.ParseUint(fields[9], 8, 32)
	if err != nil {
		return Record{}, fmt.Errorf("report: bad mode: %w", err)
	}

	return Record{
		Timestamp: ts,
		PID:       uint32(pid),
		PPID:      uint32(ppid),
		Syscall:   fields[3],
		Kind:      Kind(fields[4]),
		Decision:  Decision(fields[5]),
		Errno:     errno,
		SrcPath:   fields[7],
		DstPath:   fields[8],
		Mode:      uint32(mode),
		RuleID:    fields[10],
	}, nil
}

// dedupKey is the (kind, source path, destination path, decision) tuple the
// Reporter's suppression cache keys on.
func dedupKey(r Record) string {
	return string(r.Kind) + "\x00" + r.SrcPath + "\x00" + r.DstPath + "\x00" + string(r.Decision)
}

func sanitizeLine(s string) string {
	if !strings.ContainsAny(s, "\t\n\r") {
		return s
	}
	replacer := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")
	return replacer.Replace(s)
}
