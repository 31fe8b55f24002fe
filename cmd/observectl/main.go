// Command observectl is a thin stand-in for the build engine, used for
// local testing of a File Access Manifest against a real command: it loads
// a FAM (binary or YAML), stands up the reporting channel, launches the
// target command instrumented for interception, and prints every record it
// receives to stdout as it arrives.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ShikeChen-MS/BuildXL/internal/fam"
	"github.com/ShikeChen-MS/BuildXL/internal/lifecycle"
	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/ShikeChen-MS/BuildXL/internal/report"
)

var log = logger.New("observectl")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("observectl", flag.ContinueOnError)
	famPath := fs.String("fam", "", "path to a FAM file (binary, or .yaml/.yml for the YAML form)")
	channelPath := fs.String("channel", "", "reporting channel path; defaults to <fam>.channel")
	preloadPath := fs.String("preload", "", "path to the interposition shared object to inject")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target := fs.Args()
	if len(target) == 0 {
		fmt.Fprintln(os.Stderr, "observectl: missing target command")
		return 2
	}
	if *famPath == "" {
		fmt.Fprintln(os.Stderr, "observectl: -fam is required")
		return 2
	}

	manifest, err := loadManifest(*famPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observectl: %v\n", err)
		return 1
	}

	chPath := *channelPath
	if chPath == "" {
		chPath = manifest.ChannelPath
	}
	if chPath == "" {
		chPath = *famPath + ".channel"
	}

	ch, err := report.Listen(chPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observectl: %v\n", err)
		return 1
	}

	done := make(chan struct{})
	go streamRecords(ch, done)

	sanitizer := lifecycle.NewEnvSanitizer()
	env := sanitizer.EnsureInstrumented(os.Environ(), *preloadPath, *famPath)

	cmd := exec.Command(target[0], target[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	runErr := cmd.Run()
	ch.Close()
	<-done

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "observectl: %v\n", runErr)
		return 1
	}
	return 0
}

func loadManifest(path string) (*fam.File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return fam.LoadYAML(path)
	default:
		return fam.Load(path)
	}
}

// streamRecords reads the channel line by line and prints each parsed
// record, closing done once the channel is drained (the writer closed its
// end, or Listen's file was closed by the caller after the child exits).
func streamRecords(r io.Reader, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := report.ParseRecord(line)
		if err != nil {
			log.Warn("malformed record: %v", err)
			continue
		}
		fmt.Printf("%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.Kind, rec.PID, rec.PPID, rec.Decision, rec.Syscall, rec.SrcPath, rec.DstPath, rec.RuleID)
	}
}
