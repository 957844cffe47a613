package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/expression"
	"github.com/wippyai/dbgexpr/target/wasmproc"
)

// EnvPrefix prefixes every environment variable Load reads, so
// eval.timeout is DBGEXPR_EVAL_TIMEOUT.
const EnvPrefix = "DBGEXPR"

// Config is what the command line tools load before evaluating.
type Config struct {
	Eval   EvalConfig   `mapstructure:"eval"`
	Target TargetConfig `mapstructure:"target"`
	Log    LogConfig    `mapstructure:"log"`
}

// EvalConfig holds the per-evaluation options.
type EvalConfig struct {
	UnwindOnError     bool          `mapstructure:"unwind_on_error"`
	IgnoreBreakpoints bool          `mapstructure:"ignore_breakpoints"`
	Debug             bool          `mapstructure:"debug"`
	Timeout           time.Duration `mapstructure:"timeout"`
	// StackSize is the stack host-side interpretation runs on.
	StackSize uint64 `mapstructure:"stack_size"`
	// Interpret prefers the IR over JIT code when both are available.
	Interpret bool `mapstructure:"interpret"`
}

// TargetConfig sizes the reference process.
type TargetConfig struct {
	MemoryPages    uint32 `mapstructure:"memory_pages"`
	MaxMemoryPages uint32 `mapstructure:"max_memory_pages"`
}

// LogConfig selects the logger the tools install.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Eval: EvalConfig{
			UnwindOnError: true,
			StackSize:     expression.DefaultStackFrameSize,
		},
		Target: TargetConfig{
			MemoryPages:    4,
			MaxMemoryPages: 16,
		},
		Log: LogConfig{Level: "info"},
	}
}

// flags maps command line flags to configuration keys.
var flags = []struct {
	name, key string
}{
	{"unwind-on-error", "eval.unwind_on_error"},
	{"ignore-breakpoints", "eval.ignore_breakpoints"},
	{"debug", "eval.debug"},
	{"timeout", "eval.timeout"},
	{"stack-size", "eval.stack_size"},
	{"interpret", "eval.interpret"},
	{"memory-pages", "target.memory_pages"},
	{"max-memory-pages", "target.max_memory_pages"},
	{"log-level", "log.level"},
	{"log-development", "log.development"},
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.Bool("unwind-on-error", d.Eval.UnwindOnError, "restore the thread when a call is interrupted")
	fs.Bool("ignore-breakpoints", d.Eval.IgnoreBreakpoints, "restore the thread when a call hits a breakpoint")
	fs.Bool("debug", d.Eval.Debug, "halt at the first instruction of the expression")
	fs.Duration("timeout", d.Eval.Timeout, "bound the call (0 waits until it stops)")
	fs.Uint64("stack-size", d.Eval.StackSize, "interpreter stack size in bytes")
	fs.Bool("interpret", d.Eval.Interpret, "interpret the IR even when JIT code is available")
	fs.Uint32("memory-pages", d.Target.MemoryPages, "initial target memory in wasm pages")
	fs.Uint32("max-memory-pages", d.Target.MaxMemoryPages, "target memory limit in wasm pages")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Bool("log-development", d.Log.Development, "human readable log output")
}

// Load reads the configuration from defaults, an optional file, DBGEXPR_*
// environment variables and fs, in increasing precedence. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("eval.unwind_on_error", d.Eval.UnwindOnError)
	v.SetDefault("eval.ignore_breakpoints", d.Eval.IgnoreBreakpoints)
	v.SetDefault("eval.debug", d.Eval.Debug)
	v.SetDefault("eval.timeout", d.Eval.Timeout)
	v.SetDefault("eval.stack_size", d.Eval.StackSize)
	v.SetDefault("eval.interpret", d.Eval.Interpret)
	v.SetDefault("target.memory_pages", d.Target.MemoryPages)
	v.SetDefault("target.max_memory_pages", d.Target.MaxMemoryPages)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
				Path(path).
				Detail("config file not found").
				Cause(err).
				Build()
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err,
				fmt.Sprintf("read config %s", path))
		}
	}

	if fs != nil {
		for _, f := range flags {
			if pf := fs.Lookup(f.name); pf != nil {
				if err := v.BindPFlag(f.key, pf); err != nil {
					return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flag "+f.name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).
			Detail(format, args...).
			Build()
	}
	if c.Eval.Timeout < 0 {
		return invalid("eval.timeout", "negative timeout %s", c.Eval.Timeout)
	}
	if c.Eval.StackSize == 0 || c.Eval.StackSize%8 != 0 {
		return invalid("eval.stack_size", "stack size %d is not a positive multiple of 8", c.Eval.StackSize)
	}
	if c.Target.MemoryPages == 0 {
		return invalid("target.memory_pages", "target needs at least one page")
	}
	if c.Target.MaxMemoryPages < c.Target.MemoryPages {
		return invalid("target.max_memory_pages", "limit %d is below the initial %d pages",
			c.Target.MaxMemoryPages, c.Target.MemoryPages)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	return nil
}

// Options returns the evaluation options.
func (c *Config) Options() dbgexpr.Options {
	return dbgexpr.Options{
		UnwindOnError:     c.Eval.UnwindOnError,
		IgnoreBreakpoints: c.Eval.IgnoreBreakpoints,
		Debug:             c.Eval.Debug,
		Timeout:           c.Eval.Timeout,
	}
}

// Process returns the reference process configuration.
func (c *Config) Process() *wasmproc.Config {
	return &wasmproc.Config{
		MemoryPages:    c.Target.MemoryPages,
		MaxMemoryPages: c.Target.MaxMemoryPages,
	}
}

// Logger builds the logger Log describes.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
