// Package kconfig holds the tunables of the kernel. Values are read from a
// TOML file and may be overridden by a boot command line made of key=value
// pairs.
package kconfig

import (
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/proc"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MinUserPages is the number of frames that must be left for user programs
// once the kernel image is accounted for.
const MinUserPages = 16

// MaxRAMSize is the size of the direct-mapped kseg0 window through which the
// kernel reaches physical memory.
const MaxRAMSize = 512 * mm.Mb

// Config describes a kernel instance.
type Config struct {
	RAMSize    mm.Size
	KernelSize mm.Size
	StackPages int
	MaxProcs   int
	PathMax    int
	ArgMax     int
	LogLevel   string

	// TLBSeed seeds the random TLB replacement. Zero selects a time based
	// seed.
	TLBSeed int64

	// StepLimit is the number of instructions after which a user program
	// is killed. Zero means no limit.
	StepLimit uint64
}

// Default returns the default configuration.
func Default() Config {
	pc := proc.DefaultConfig()
	return Config{
		RAMSize:    4 * mm.Mb,
		KernelSize: 64 * mm.Kb,
		StackPages: 12,
		MaxProcs:   pc.MaxProcs,
		PathMax:    pc.PathMax,
		ArgMax:     pc.ArgMax,
		LogLevel:   "info",
	}
}

type setter func(c *Config, value interface{}) error

var keys = map[string]setter{
	"ram_size":    func(c *Config, v interface{}) (err error) { c.RAMSize, err = toSize(v); return },
	"kernel_size": func(c *Config, v interface{}) (err error) { c.KernelSize, err = toSize(v); return },
	"stack_pages": func(c *Config, v interface{}) (err error) { c.StackPages, err = toInt(v); return },
	"max_procs":   func(c *Config, v interface{}) (err error) { c.MaxProcs, err = toInt(v); return },
	"path_max":    func(c *Config, v interface{}) (err error) { c.PathMax, err = toInt(v); return },
	"arg_max":     func(c *Config, v interface{}) (err error) { c.ArgMax, err = toInt(v); return },
	"log_level":   func(c *Config, v interface{}) (err error) { c.LogLevel, err = toString(v); return },
	"tlb_seed": func(c *Config, v interface{}) error {
		seed, err := toInt(v)
		c.TLBSeed = int64(seed)
		return err
	},
	"step_limit": func(c *Config, v interface{}) error {
		limit, err := toInt(v)
		if err == nil && limit < 0 {
			err = errors.Errorf("negative value %d", limit)
		}
		c.StepLimit = uint64(limit)
		return err
	},
}

// lookup finds the setter for key. Underscores are optional so that both
// ram_size and ramsize select the same setting.
func lookup(key string) (string, setter, bool) {
	norm := strings.ReplaceAll(strings.ToLower(key), "_", "")
	for name, set := range keys {
		if strings.ReplaceAll(name, "_", "") == norm {
			return name, set, true
		}
	}
	return "", nil, false
}

// Load returns the default configuration updated with the settings in the
// TOML file at path.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err = cfg.ApplyTOML(data); err != nil {
		return cfg, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// ApplyTOML updates c with the settings in a TOML document. Unknown keys are
// rejected.
func (c *Config) ApplyTOML(data []byte) error {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return errors.Wrap(err, "parse config")
	}

	for _, key := range tree.Keys() {
		name, set, ok := lookup(key)
		if !ok {
			return errors.Errorf("unknown setting %q", key)
		}

		if err = set(c, tree.Get(key)); err != nil {
			return errors.Wrapf(err, "setting %q", name)
		}
	}

	return nil
}

// ApplyCmdline updates c with the key=value pairs of a boot command line.
// Values may be quoted following shell rules.
func (c *Config) ApplyCmdline(cmdline string) error {
	words, err := shellwords.Parse(cmdline)
	if err != nil {
		return errors.Wrap(err, "parse command line")
	}

	for _, word := range words {
		key, value, found := strings.Cut(word, "=")
		if !found {
			return errors.Errorf("command line argument %q is not a key=value pair", word)
		}

		name, set, ok := lookup(key)
		if !ok {
			return errors.Errorf("unknown setting %q", key)
		}

		if err = set(c, value); err != nil {
			return errors.Wrapf(err, "setting %q", name)
		}
	}

	return nil
}

// Validate checks that the configuration describes a kernel that can boot.
func (c Config) Validate() error {
	switch {
	case c.RAMSize < c.KernelSize+mm.Size(MinUserPages*mm.PageSize):
		return errors.Errorf("ram size %s leaves less than %d pages after a %s kernel", c.RAMSize, MinUserPages, c.KernelSize)
	case c.RAMSize > MaxRAMSize:
		return errors.Errorf("ram size %s exceeds the %s kseg0 window", c.RAMSize, MaxRAMSize)
	case c.StackPages < 1:
		return errors.New("stack_pages must be at least 1")
	case c.MaxProcs < 2:
		return errors.New("max_procs must allow at least one user process")
	case c.PathMax < 2:
		return errors.New("path_max is too small")
	case c.ArgMax < 1:
		return errors.New("arg_max must be positive")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}

// ProcConfig returns the process manager limits.
func (c Config) ProcConfig() proc.Config {
	return proc.Config{MaxProcs: c.MaxProcs, PathMax: c.PathMax, ArgMax: c.ArgMax}
}

// TOML renders the configuration as a TOML document that ApplyTOML accepts.
func (c Config) TOML() (string, error) {
	tree, err := toml.TreeFromMap(map[string]interface{}{
		"ram_size":    c.RAMSize.String(),
		"kernel_size": c.KernelSize.String(),
		"stack_pages": int64(c.StackPages),
		"max_procs":   int64(c.MaxProcs),
		"path_max":    int64(c.PathMax),
		"arg_max":     int64(c.ArgMax),
		"log_level":   c.LogLevel,
		"tlb_seed":    c.TLBSeed,
		"step_limit":  int64(c.StepLimit),
	})
	if err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return tree.ToTomlString()
}

func toInt(v interface{}) (int, error) {
	switch v := v.(type) {
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return 0, errors.Errorf("invalid number %q", v)
		}
		return int(n), nil
	}
	return 0, errors.Errorf("expected a number; got %T", v)
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.Errorf("expected a string; got %T", v)
}

// toSize accepts a byte count or a string with an optional K, M or G suffix.
func toSize(v interface{}) (mm.Size, error) {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return 0, errors.Errorf("negative size %d", v)
		}
		return mm.Size(v), nil
	case string:
		return ParseSize(v)
	}
	return 0, errors.Errorf("expected a size; got %T", v)
}

// ParseSize parses a size such as 4096, 64K or 4M.
func ParseSize(s string) (mm.Size, error) {
	unit := mm.Byte
	num := strings.TrimSpace(s)
	if num != "" {
		switch num[len(num)-1] {
		case 'k', 'K':
			unit = mm.Kb
		case 'm', 'M':
			unit = mm.Mb
		case 'g', 'G':
			unit = mm.Gb
		}
		if unit != mm.Byte {
			num = num[:len(num)-1]
		}
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid size %q", s)
	}
	return mm.Size(n) * unit, nil
}
