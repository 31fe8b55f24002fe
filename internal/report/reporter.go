package report

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/klauspost/compress/zstd"
)

var log = logger.New("reporter")

// noDedupKinds lists the record kinds that must be seen individually even
// if identical to a prior report: process-lifecycle records, since the
// engine correlates them one-to-one with actual fork/exit events rather
// than collapsing repeats.
var noDedupKinds = map[Kind]bool{
	KindClone: true,
	KindExit:  true,
}

// Options configures a Reporter.
type Options struct {
	DialTimeout time.Duration
	// Compress routes every record through a zstd encoder before it reaches
	// the channel. Off by default. When on, the channel carries a zstd
	// stream whose decompressed content is one record per line; when off,
	// it carries the plain-text lines directly.
	Compress bool
}

// Reporter serializes Events (via their Record projection) and pushes them
// to the build-engine-owned channel. It never blocks the syscall it is
// reporting on longer than the channel's natural write cost; callers that
// can't tolerate any wait should check Reporter.ChannelOK() first and fall
// back to buffering.
type Reporter struct {
	mu      sync.Mutex
	w       io.WriteCloser
	bw      *bufio.Writer
	zw      *zstd.Encoder
	compress bool

	dedupMu sync.Mutex
	seen    map[string]struct{}

	bufMu    sync.Mutex
	pending  [][]byte // records buffered while the channel was unavailable
	channelDown bool

	stats Stats
}

// Stats exposes delivery counters, read through Reporter.Stats.
type Stats struct {
	Sent      uint64
	Deduped   uint64
	Buffered  uint64
	BytesSent uint64
}

// Dial opens the reporting channel at channelPath and returns a ready
// Reporter. If the channel can't be opened within opts.DialTimeout, Dial
// still returns a Reporter in "channel unavailable" state rather than an
// error, so a build whose engine hasn't started listening yet doesn't
// crash every child process.
func Dial(channelPath string, opts Options) *Reporter {
	r := &Reporter{
		seen:     make(map[string]struct{}),
		compress: opts.Compress,
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	w, err := dialChannel(channelPath, timeout)
	if err != nil {
		log.Warn("reporting channel unavailable: %v", err)
		r.channelDown = true
		return r
	}
	r.attach(w)
	return r
}

// NewWithWriter builds a Reporter around an already-open writer, skipping
// the channel dial entirely. Used by tests (in this package and callers
// like package observer) that want a Reporter backed by an in-memory
// channel instead of a real named pipe.
func NewWithWriter(w io.WriteCloser, opts Options) *Reporter {
	r := &Reporter{seen: make(map[string]struct{}), compress: opts.Compress}
	r.attach(w)
	return r
}

func (r *Reporter) attach(w io.WriteCloser) {
	r.w = w
	r.bw = bufio.NewWriter(w)
	if r.compress {
		zw, err := zstd.NewWriter(r.bw)
		if err == nil {
			r.zw = zw
		} else {
			log.Warn("zstd encoder init failed, falling back to uncompressed: %v", err)
			r.compress = false
		}
	}
}

// ChannelOK reports whether the channel is currently writable.
func (r *Reporter) ChannelOK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.channelDown
}

// Emit serializes rec and writes it to the channel, applying the dedup
// rule. dedupDisabled forces the record through even if an identical one
// was already sent (used for rmdir/mkdir/lifecycle records). A record with
// a zero Timestamp is stamped with the current time.
func (r *Reporter) Emit(rec Record, dedupDisabled bool) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = now()
	}
	rec.SrcPath = sanitizeLine(rec.SrcPath)
	rec.DstPath = sanitizeLine(rec.DstPath)

	if !dedupDisabled && !noDedupKinds[rec.Kind] {
		key := dedupKey(rec)
		r.dedupMu.Lock()
		_, dup := r.seen[key]
		if !dup {
			r.seen[key] = struct{}{}
		}
		r.dedupMu.Unlock()
		if dup {
			r.mu.Lock()
			r.stats.Deduped++
			r.mu.Unlock()
			return nil
		}
	}

	line := append([]byte(rec.String()), '\n')
	return r.write(line)
}

func (r *Reporter) write(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channelDown {
		r.buffer(line)
		return nil
	}

	dst := io.Writer(r.bw)
	if r.compress {
		dst = r.zw
	}
	if _, err := dst.Write(line); err != nil {
		log.Warn("reporting channel write failed, buffering: %v", err)
		r.channelDown = true
		r.buffer(line)
		return nil
	}
	if err := flushWriter(dst); err != nil {
		log.Warn("reporting channel flush failed, buffering: %v", err)
		r.channelDown = true
		r.buffer(line)
		return nil
	}
	r.stats.Sent++
	r.stats.BytesSent += uint64(len(line))
	return nil
}

func flushWriter(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (r *Reporter) buffer(line []byte) {
	r.bufMu.Lock()
	r.pending = append(r.pending, append([]byte(nil), line...))
	r.bufMu.Unlock()
	r.stats.Buffered++
}

// Reconnect retries opening the channel and, on success, flushes anything
// buffered while it was down.
func (r *Reporter) Reconnect(channelPath string, timeout time.Duration) error {
	w, err := dialChannel(channelPath, timeout)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.attach(w)
	r.channelDown = false
	r.mu.Unlock()

	r.bufMu.Lock()
	pending := r.pending
	r.pending = nil
	r.bufMu.Unlock()

	for _, line := range pending {
		if err := r.write(line); err != nil {
			return err
		}
	}
	return nil
}

// EmitRootClone and EmitRootExec are sent once at Observer init so the
// build engine can pair the first real report with a known pid before any
// real event arrives.
func (r *Reporter) EmitRootClone(pid, ppid uint32) error {
	return r.Emit(Record{Timestamp: now(), PID: pid, PPID: ppid, Syscall: "clone", Kind: KindClone, Decision: DecisionAllow}, true)
}

func (r *Reporter) EmitRootExec(pid, ppid uint32, path string) error {
	return r.Emit(Record{Timestamp: now(), PID: pid, PPID: ppid, Syscall: "exec", Kind: KindExec, Decision: DecisionAllow, SrcPath: path}, true)
}

// EmitExit sends the process-exit sentinel.
func (r *Reporter) EmitExit(pid, ppid uint32) error {
	return r.Emit(Record{Timestamp: now(), PID: pid, PPID: ppid, Syscall: "_exit", Kind: KindExit, Decision: DecisionAllow}, true)
}

// Stats returns a snapshot of delivery counters.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes and closes the channel. Safe to call on a Reporter whose
// channel was never successfully dialed.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.zw != nil {
		if err := r.zw.Close(); err != nil {
			return fmt.Errorf("report: close zstd encoder: %w", err)
		}
	}
	if r.bw != nil {
		if err := r.bw.Flush(); err != nil {
			return fmt.Errorf("report: flush channel: %w", err)
		}
	}
	if r.w != nil {
		return r.w.Close()
	}
	return nil
}

var nowFunc = time.Now

func now() int64 { return nowFunc().UnixNano() }
