package fam

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleFile() *File {
	f := &File{
		ChannelPath:     "/tmp/build.channel",
		DefaultDecision: Warn,
		ExecAllowlist:   []string{"true", "env"},
		EnvStrip:        []string{"__BUILDXL_OBSERVER_PRELOAD"},
		EnvInject:       []EnvInject{{Key: "__BUILDXL_OBSERVER_FAM", Value: "/tmp/fam.bin"}},
		Rules: []Rule{
			{ID: "r-src", Prefix: "/src", Read: Allow, Write: Deny, Create: Deny, Enumerate: Allow},
			{ID: "r-src-out", Prefix: "/src/out", Read: Allow, Write: Allow, Create: Allow, Enumerate: Allow},
			{ID: "r-tmp", Prefix: "**/.env", Read: Deny, Write: Deny, Create: Deny, Enumerate: Deny},
		},
	}
	f.compile()
	return f
}

func TestLookupMostSpecificWins(t *testing.T) {
	f := sampleFile()

	if d, id := f.Lookup("/src/a.txt", AccessWrite); d != Deny || id != "r-src" {
		t.Errorf("/src/a.txt write = %v/%s, want deny/r-src", d, id)
	}
	if d, id := f.Lookup("/src/out/a.o", AccessWrite); d != Allow || id != "r-src-out" {
		t.Errorf("/src/out/a.o write = %v/%s, want allow/r-src-out", d, id)
	}
}

func TestLookupGlobPattern(t *testing.T) {
	f := sampleFile()
	if d, _ := f.Lookup("/home/user/.env", AccessRead); d != Deny {
		t.Errorf(".env read = %v, want deny", d)
	}
}

func TestLookupDefaultDecision(t *testing.T) {
	f := sampleFile()
	if d, id := f.Lookup("/etc/hostname", AccessRead); d != Warn || id != "" {
		t.Errorf("unmatched path = %v/%q, want warn/\"\"", d, id)
	}
}

func TestCombineMonotonic(t *testing.T) {
	cases := []struct {
		a, b, want Decision
	}{
		{Allow, Allow, Allow},
		{Allow, Warn, Warn},
		{Warn, Deny, Deny},
		{Deny, Allow, Deny},
		{Deny, Deny, Deny},
	}
	for _, c := range cases {
		if got := Combine(c.a, c.b); got != c.want {
			t.Errorf("Combine(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestBreakawayAndAllowlist(t *testing.T) {
	f := &File{Rules: []Rule{{Prefix: "/opt/breakaway", Breakaway: true}}}
	f.compile()
	if !f.IsBreakaway("/opt/breakaway/tool") {
		t.Error("expected breakaway match")
	}
	if f.IsBreakaway("/opt/other/tool") {
		t.Error("unexpected breakaway match")
	}

	f2 := sampleFile()
	if !f2.BypassesReporting("true") {
		t.Error("expected 'true' on allowlist")
	}
	if f2.BypassesReporting("bash") {
		t.Error("'bash' should not be on allowlist")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := sampleFile()
	blob, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.ChannelPath != orig.ChannelPath {
		t.Errorf("ChannelPath = %q, want %q", decoded.ChannelPath, orig.ChannelPath)
	}
	if decoded.DefaultDecision != orig.DefaultDecision {
		t.Errorf("DefaultDecision = %v, want %v", decoded.DefaultDecision, orig.DefaultDecision)
	}
	if len(decoded.Rules) != len(orig.Rules) {
		t.Fatalf("Rules count = %d, want %d", len(decoded.Rules), len(orig.Rules))
	}
	if len(decoded.ExecAllowlist) != 2 || decoded.ExecAllowlist[0] != "true" {
		t.Errorf("ExecAllowlist = %v", decoded.ExecAllowlist)
	}
	if len(decoded.EnvInject) != 1 || decoded.EnvInject[0].Key != "__BUILDXL_OBSERVER_FAM" {
		t.Errorf("EnvInject = %v", decoded.EnvInject)
	}

	if d, _ := decoded.Lookup("/src/a.txt", AccessWrite); d != Deny {
		t.Errorf("decoded lookup = %v, want deny", d)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, err := Decode([]byte("not a fam file at all")); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	orig := sampleFile()
	blob, err := Encode(orig)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(blob[:len(blob)/2]); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fam.yaml")
	content := `
channel_path: /tmp/build.channel
default_decision: warn
exec_allowlist: [true, env]
rules:
  - prefix: /src
    read: allow
    write: deny
    create: deny
    enumerate: allow
  - prefix: /src/out
    read: allow
    write: allow
    create: allow
    enumerate: allow
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if d, _ := f.Lookup("/src/a.txt", AccessWrite); d != Deny {
		t.Errorf("write = %v, want deny", d)
	}
	if d, _ := f.Lookup("/src/out/a.o", AccessWrite); d != Allow {
		t.Errorf("write under out = %v, want allow", d)
	}
}

func TestLoadYAMLRejectsMissingChannelPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fam.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadYAML(path); err == nil {
		t.Fatal("expected validation error for missing channel_path")
	}
}
