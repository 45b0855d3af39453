// Package config handles blockjit.toml run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"blockjit/pkg/interpreter"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up next to the program
const FileName = "blockjit.toml"

// Config represents a blockjit.toml configuration.
type Config struct {
	JIT     JIT     `toml:"jit"`
	Machine Machine `toml:"machine"`
}

// JIT configures compilation.
type JIT struct {
	Enabled       bool `toml:"enabled"`
	CollectStats  bool `toml:"collect-stats"`
	CallThreshold int  `toml:"call-threshold"`
}

// Machine configures the memory and step budget of a run.
type Machine struct {
	StackSlots int `toml:"stack-slots"`
	MaxSteps   int `toml:"max-steps"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		JIT: JIT{
			Enabled:       true,
			CallThreshold: 1,
		},
		Machine: Machine{
			StackSlots: 1024,
			MaxSteps:   1_000_000,
		},
	}
}

// Load parses the file at path on top of the defaults
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(string(data))
}

// Parse decodes a configuration document on top of the defaults.
// Unknown keys are rejected.
func Parse(data string) (Config, error) {
	c := Default()
	md, err := toml.Decode(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	return c, c.Validate()
}

// Validate checks the values are usable
func (c Config) Validate() error {
	switch {
	case c.JIT.CallThreshold < 1:
		return fmt.Errorf("%w: call-threshold must be at least 1, got %d", ErrInvalid, c.JIT.CallThreshold)
	case c.Machine.StackSlots < 1:
		return fmt.Errorf("%w: stack-slots must be positive, got %d", ErrInvalid, c.Machine.StackSlots)
	case c.Machine.MaxSteps < 0:
		return fmt.Errorf("%w: max-steps must not be negative, got %d", ErrInvalid, c.Machine.MaxSteps)
	}
	return nil
}

// Options translates the configuration into interpreter options
func (c Config) Options() []interpreter.Option {
	return []interpreter.Option{
		interpreter.WithJIT(c.JIT.Enabled),
		interpreter.WithExitStats(c.JIT.CollectStats),
		interpreter.WithCallThreshold(c.JIT.CallThreshold),
		interpreter.WithStackSlots(c.Machine.StackSlots),
		interpreter.WithMaxSteps(c.Machine.MaxSteps),
	}
}

var (
	ErrUnknownKey = errors.New("unknown configuration key")
	ErrInvalid    = errors.New("invalid configuration")
)
