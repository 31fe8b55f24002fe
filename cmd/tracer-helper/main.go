// Command tracer-helper runs a target under the Tracer Fallback: the path
// for a statically linked child that the preload mechanism cannot reach,
// which lifecycle.PlanExec marks with NeedsTracer (package lifecycle does
// not launch this binary itself). It reads the same FAM-path environment
// variable the preload path relies on, starts the target with
// PTRACE_TRACEME rather than needing root, and drives the target's
// syscalls through the same Event -> Check -> Report pipeline as the
// in-process Observer.
//
// Usage:
//
//	tracer-helper [-config path.yaml] -- /path/to/static-binary [args...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ShikeChen-MS/BuildXL/internal/config"
	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/ShikeChen-MS/BuildXL/internal/observer"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
	"github.com/ShikeChen-MS/BuildXL/internal/tracer"
)

var log = logger.New("tracer-helper")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tracer-helper", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config sidecar")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target := fs.Args()
	if len(target) == 0 {
		fmt.Fprintln(os.Stderr, "tracer-helper: missing target executable")
		return 2
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracer-helper: %v\n", err)
		return 1
	}
	if *configPath != "" {
		if err := config.LoadYAML(cfg, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "tracer-helper: %v\n", err)
			return 1
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tracer-helper: %v\n", err)
		return 1
	}

	manifest, err := fam.Load(cfg.FAMPath)
	if err != nil {
		log.Warn("failed to load FAM from %s, falling back to empty policy: %v", cfg.FAMPath, err)
		manifest = fam.Empty()
	}

	rep := report.Dial(cfg.ChannelPath, report.Options{
		DialTimeout: cfg.DialTimeout,
		Compress:    cfg.CompressReports,
	})
	defer rep.Close()

	checker := observer.NewAccessChecker(manifest)

	selfPID := uint32(os.Getpid())
	ppid := uint32(os.Getppid())

	pidFile := cfg.FAMPath + ".tracer.pid"
	if err := writePIDFile(pidFile, selfPID); err != nil {
		log.Warn("failed to write PID file %s: %v", pidFile, err)
	} else {
		defer os.Remove(pidFile)
	}

	tcfg := tracer.Config{
		Manifest: manifest,
		Checker:  checker,
		Reporter: rep,
		RootPID:  selfPID,
		RootPPID: ppid,
	}
	t := tracer.New(tcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("received %v, cancelling traced run", sig)
		cancel()
	}()

	exitCode, err := t.Run(ctx, target[0], target[1:], os.Environ())
	if err != nil {
		log.Error("tracer run failed: %v", err)
		if exitCode < 0 {
			return 1
		}
	}
	return exitCode
}

// writePIDFile records this process's PID next to the FAM it is tracing
// against, owner-only, so a supervising build engine can confirm a tracer
// is live for a given manifest without parsing process listings.
func writePIDFile(path string, pid uint32) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(uint64(pid), 10)), 0o600)
}
