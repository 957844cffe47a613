package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/wippyai/dbgexpr/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if *cfg != *want {
		t.Errorf("Load() = %+v, want %+v", cfg, want)
	}

	opts := cfg.Options()
	if !opts.UnwindOnError || opts.IgnoreBreakpoints || opts.Debug || opts.Timeout != 0 {
		t.Errorf("Options() = %+v", opts)
	}
	if p := cfg.Process(); p.MemoryPages != 4 || p.MaxMemoryPages != 16 {
		t.Errorf("Process() = %+v", p)
	}
	if cfg.Eval.StackSize != 512*1024 {
		t.Errorf("stack size = %d", cfg.Eval.StackSize)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbgexpr.yaml")
	content := `
eval:
  timeout: 2s
  ignore_breakpoints: true
  stack_size: 4096
target:
  memory_pages: 2
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DBGEXPR_EVAL_STACK_SIZE", "8192")
	t.Setenv("DBGEXPR_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--log-level=error", "--debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file timeout", cfg.Eval.Timeout, 2 * time.Second},
		{"file ignore breakpoints", cfg.Eval.IgnoreBreakpoints, true},
		{"env over file", cfg.Eval.StackSize, uint64(8192)},
		{"flag over env", cfg.Log.Level, "error"},
		{"flag", cfg.Eval.Debug, true},
		{"default", cfg.Eval.UnwindOnError, true},
		{"file pages", cfg.Target.MemoryPages, uint32(2)},
		{"default max pages", cfg.Target.MaxMemoryPages, uint32(16)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for a missing file")
	} else if p, _ := errors.PhaseOf(err); p != errors.PhaseConfig {
		t.Errorf("phase = %q", p)
	}

	t.Setenv("DBGEXPR_TARGET_MAX_MEMORY_PAGES", "1")
	if _, err := Load("", nil); err == nil {
		t.Error("expected error for max pages below initial pages")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative timeout", func(c *Config) { c.Eval.Timeout = -time.Second }},
		{"zero stack", func(c *Config) { c.Eval.StackSize = 0 }},
		{"unaligned stack", func(c *Config) { c.Eval.StackSize = 1001 }},
		{"zero pages", func(c *Config) { c.Target.MemoryPages = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			var e *errors.Error
			if !errors.As(err, &e) || e.Kind != errors.KindInvalidInput {
				t.Errorf("err = %v", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLogger(t *testing.T) {
	c := DefaultConfig()
	c.Log.Level = "debug"
	c.Log.Development = true
	l, err := c.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Error("debug level not enabled")
	}

	c.Log.Level = "loud"
	if _, err := c.Logger(); err == nil {
		t.Error("expected error for unknown level")
	}
}
