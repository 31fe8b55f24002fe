package observer

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/ShikeChen-MS/BuildXL/internal/config"
	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
)

var log = logger.New("observer")

// initInProgress guards against reentrancy during construction: building
// the Observer may allocate, which may call a hooked allocator routine,
// which must short-circuit rather than recurse into an Observer that isn't
// constructed yet. Go has no stable "current OS thread" handle cheaper than
// a process-wide flag, so this is coarser than a true per-thread guard
// would be — see DESIGN.md's open question on this tradeoff.
var initInProgress int32

// Observer is the process-wide singleton: constructed once by New, its
// mutable state (FD Table, Reporter dedup cache/buffer) is independently
// synchronized and no lock is held across a forwarded kernel call.
type Observer struct {
	mu sync.RWMutex

	PID  uint32
	PPID uint32

	Manifest *fam.File
	FDTable  *FDTable
	Checker  *AccessChecker
	Paths    *Normalizer
	Reporter *report.Reporter

	neverReport map[string]struct{}
}

var (
	singleton   *Observer
	singletonMu sync.Mutex
)

// New constructs the Observer: reads the FAM, opens the reporting channel,
// emits the root clone/exec pair, and pre-seeds the self-probe "never
// report" set with the FAM's own path, since the Observer must not recurse
// into reporting while mmap-ing its own policy file.
func New(cfg *config.Config) (*Observer, error) {
	atomic.StoreInt32(&initInProgress, 1)
	defer atomic.StoreInt32(&initInProgress, 0)

	manifest, err := loadManifest(cfg.FAMPath)
	if err != nil {
		log.Warn("failed to load FAM from %q, degrading to permissive default: %v", cfg.FAMPath, err)
		manifest = fam.Empty()
	}

	pid := uint32(os.Getpid())
	ppid := uint32(os.Getppid())

	reporter := report.Dial(resolveChannelPath(cfg, manifest), report.Options{
		DialTimeout: cfg.DialTimeout,
		Compress:    cfg.CompressReports,
	})

	o := &Observer{
		PID:      pid,
		PPID:     ppid,
		Manifest: manifest,
		FDTable:  NewFDTable(),
		Checker:  NewAccessChecker(manifest),
		Reporter: reporter,
		neverReport: map[string]struct{}{
			cfg.FAMPath: {},
		},
	}
	o.Paths = NewNormalizer(o.FDTable)

	if err := reporter.EmitRootClone(pid, ppid); err != nil {
		log.Warn("failed to emit root clone sentinel: %v", err)
	}
	if exe, err := os.Executable(); err == nil {
		o.neverReport[exe] = struct{}{}
		if err := reporter.EmitRootExec(pid, ppid, exe); err != nil {
			log.Warn("failed to emit root exec sentinel: %v", err)
		}
	}

	return o, nil
}

func resolveChannelPath(cfg *config.Config, manifest *fam.File) string {
	if cfg.ChannelPath != "" {
		return cfg.ChannelPath
	}
	return manifest.ChannelPath
}

func loadManifest(path string) (*fam.File, error) {
	if path == "" {
		return fam.Empty(), nil
	}
	return fam.Load(path)
}

// Set installs o as the process-wide singleton. Called once from the
// library-load hook during process startup.
func Set(o *Observer) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = o
}

// Instance returns the process-wide singleton, or nil if New/Set have not
// run yet (e.g. a hook fired before the constructor, which must forward to
// the real primitive per ErrReentrant).
func Instance() *Observer {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singleton
}

// InInit reports whether Observer construction is still running on this
// process, so a hook that fires mid-construction knows to forward to the
// real primitive instead of recursing into an unfinished Observer.
func InInit() bool {
	return atomic.LoadInt32(&initInProgress) == 1
}

// IsNeverReport reports whether path is on the self-probe exclusion set
// (the Observer's own binary, the FAM's own path) that must never be
// forwarded through Check+Report to avoid recursing into the Observer
// from within its own initialization path.
func (o *Observer) IsNeverReport(path string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.neverReport[path]
	return ok
}

// Shutdown emits the exit sentinel and flushes the Reporter. Called from
// the process's exit hook.
func (o *Observer) Shutdown() error {
	if err := o.Reporter.EmitExit(o.PID, o.PPID); err != nil {
		log.Warn("failed to emit exit sentinel: %v", err)
	}
	return o.Reporter.Close()
}
