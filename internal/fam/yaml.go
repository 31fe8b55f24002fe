package fam

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// yamlRule is the developer-authored form of a Rule, used by cmd/observectl
// so a human can hand-write a FAM for local testing instead of producing the
// binary blob a real policy compiler would emit.
type yamlRule struct {
	Prefix    string `yaml:"prefix" validate:"required"`
	Read      string `yaml:"read" validate:"omitempty,oneof=allow warn deny"`
	Write     string `yaml:"write" validate:"omitempty,oneof=allow warn deny"`
	Create    string `yaml:"create" validate:"omitempty,oneof=allow warn deny"`
	Enumerate string `yaml:"enumerate" validate:"omitempty,oneof=allow warn deny"`
	Breakaway bool   `yaml:"breakaway"`
}

type yamlEnvInject struct {
	Key   string `yaml:"key" validate:"required"`
	Value string `yaml:"value"`
}

type yamlFile struct {
	RootPID         uint32          `yaml:"root_pid"`
	ChannelPath     string          `yaml:"channel_path" validate:"required"`
	DefaultDecision string          `yaml:"default_decision" validate:"omitempty,oneof=allow warn deny"`
	ExecAllowlist   []string        `yaml:"exec_allowlist"`
	EnvStrip        []string        `yaml:"env_strip"`
	EnvInject       []yamlEnvInject `yaml:"env_inject" validate:"dive"`
	Rules           []yamlRule      `yaml:"rules" validate:"dive"`
}

var yamlValidate = validator.New()

func parseDecision(s string, fallback Decision) Decision {
	switch s {
	case "allow":
		return Allow
	case "warn":
		return Warn
	case "deny":
		return Deny
	default:
		return fallback
	}
}

// LoadYAML reads a developer-authored FAM from path. Intended for
// cmd/observectl and tests; production processes always load the binary
// blob via Load.
func LoadYAML(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fam: read %s: %w", path, err)
	}

	var y yamlFile
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("fam: parse %s: %w", path, err)
	}
	if err := yamlValidate.Struct(&y); err != nil {
		return nil, fmt.Errorf("fam: invalid %s: %w", path, err)
	}

	f := &File{
		RootPID:         y.RootPID,
		ChannelPath:     y.ChannelPath,
		DefaultDecision: parseDecision(y.DefaultDecision, Allow),
		ExecAllowlist:   y.ExecAllowlist,
		EnvStrip:        y.EnvStrip,
	}
	for _, e := range y.EnvInject {
		f.EnvInject = append(f.EnvInject, EnvInject{Key: e.Key, Value: e.Value})
	}
	for i, r := range y.Rules {
		f.Rules = append(f.Rules, Rule{
			ID:        fmt.Sprintf("%s:%d", path, i),
			Prefix:    r.Prefix,
			Read:      parseDecision(r.Read, Allow),
			Write:     parseDecision(r.Write, Allow),
			Create:    parseDecision(r.Create, Allow),
			Enumerate: parseDecision(r.Enumerate, Allow),
			Breakaway: r.Breakaway,
		})
	}

	f.compile()
	return f, nil
}
