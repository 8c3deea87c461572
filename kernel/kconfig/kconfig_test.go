package kconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/proc"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid; got %v", err)
	}

	if diff := cmp.Diff(proc.DefaultConfig(), cfg.ProcConfig()); diff != "" {
		t.Fatalf("process limits mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyTOML(t *testing.T) {
	doc := `
ram_size = "1M"
kernel_size = 8192
stack_pages = 4
max_procs = 8
log_level = "debug"
tlb_seed = 42
step_limit = 100000
`

	cfg := Default()
	if err := cfg.ApplyTOML([]byte(doc)); err != nil {
		t.Fatal(err)
	}

	exp := Default()
	exp.RAMSize = mm.Mb
	exp.KernelSize = 8 * mm.Kb
	exp.StackPages = 4
	exp.MaxProcs = 8
	exp.LogLevel = "debug"
	exp.TLBSeed = 42
	exp.StepLimit = 100000

	if diff := cmp.Diff(exp, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyTOMLErrors(t *testing.T) {
	specs := []struct {
		doc    string
		expErr string
	}{
		{`ram_size = `, "parse config"},
		{`colour = "blue"`, `unknown setting "colour"`},
		{`stack_pages = "many"`, `setting "stack_pages"`},
		{`ram_size = true`, "expected a size"},
		{`log_level = 3`, "expected a string"},
		{`step_limit = -1`, "negative value"},
	}

	for _, spec := range specs {
		cfg := Default()
		err := cfg.ApplyTOML([]byte(spec.doc))
		if err == nil || !strings.Contains(err.Error(), spec.expErr) {
			t.Errorf("%q: expected error containing %q; got %v", spec.doc, spec.expErr, err)
		}
	}
}

func TestApplyCmdline(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyCmdline(`ramsize=2M stack_pages=6 LOG_LEVEL='warn' maxprocs=0x10`); err != nil {
		t.Fatal(err)
	}

	if cfg.RAMSize != 2*mm.Mb || cfg.StackPages != 6 || cfg.LogLevel != "warn" || cfg.MaxProcs != 16 {
		t.Fatalf("unexpected config after applying command line: %+v", cfg)
	}

	specs := []struct {
		cmdline string
		expErr  string
	}{
		{`ramsize`, "not a key=value pair"},
		{`volume=11`, "unknown setting"},
		{`ramsize=lots`, "invalid size"},
		{`log_level="debug`, "parse command line"},
	}

	for _, spec := range specs {
		err := cfg.ApplyCmdline(spec.cmdline)
		if err == nil || !strings.Contains(err.Error(), spec.expErr) {
			t.Errorf("%q: expected error containing %q; got %v", spec.cmdline, spec.expErr, err)
		}
	}
}

func TestValidate(t *testing.T) {
	specs := []struct {
		name   string
		modify func(*Config)
		expErr string
	}{
		{"ram too small", func(c *Config) { c.RAMSize = c.KernelSize + 15*mm.Size(mm.PageSize) }, "leaves less than 16 pages"},
		{"ram beyond kseg0", func(c *Config) { c.RAMSize = MaxRAMSize + mm.Size(mm.PageSize) }, "kseg0 window"},
		{"no stack", func(c *Config) { c.StackPages = 0 }, "stack_pages"},
		{"no user processes", func(c *Config) { c.MaxProcs = 1 }, "max_procs"},
		{"tiny path", func(c *Config) { c.PathMax = 1 }, "path_max"},
		{"no args", func(c *Config) { c.ArgMax = 0 }, "arg_max"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cfg := Default()
			spec.modify(&cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), spec.expErr) {
				t.Fatalf("expected error containing %q; got %v", spec.expErr, err)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.RAMSize = 3 * mm.Mb
	cfg.TLBSeed = 7

	doc, err := cfg.TOML()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "kernel.toml")
	if err = os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("config mismatch after round trip (-want +got):\n%s", diff)
	}

	if _, err = Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected a read error for a missing file; got %v", err)
	}
}

func TestParseSize(t *testing.T) {
	specs := []struct {
		in  string
		exp mm.Size
	}{
		{"4096", 4096},
		{"64K", 64 * mm.Kb},
		{"4m", 4 * mm.Mb},
		{"1G", mm.Gb},
	}

	for _, spec := range specs {
		got, err := ParseSize(spec.in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", spec.in, err)
			continue
		}
		if got != spec.exp {
			t.Errorf("%q: expected %d; got %d", spec.in, spec.exp, got)
		}
	}

	for _, bad := range []string{"", "K", "-1", "1T"} {
		if _, err := ParseSize(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}
