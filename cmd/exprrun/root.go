package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/dbgexpr/config"
	"github.com/wippyai/dbgexpr/expression"
	"github.com/wippyai/dbgexpr/interp"
	"github.com/wippyai/dbgexpr/materializer"
	"github.com/wippyai/dbgexpr/memmap"
	"github.com/wippyai/dbgexpr/registry"
	"github.com/wippyai/dbgexpr/remotecall"
	"github.com/wippyai/dbgexpr/target/wasmproc"
)

type app struct {
	cfg         *config.Config
	log         *zap.Logger
	cfgFile     string
	interactive bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "exprrun",
		Short: "Evaluate compiled debugger expressions against a wasm process",
		Long: `exprrun loads a compiled expression (JIT image, IR module or both) and the
variables it binds, starts a reference wasm process holding those variables,
and evaluates the expression the way a debugger would.

Configuration is read from --config, then DBGEXPR_* environment variables,
then flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.BoolVarP(&a.interactive, "interactive", "i", false, "interactive mode with TUI")
	config.RegisterFlags(pf)

	root.AddCommand(newRunCmd(a), newDemoCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	installLoggers(log)

	if a.interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	return nil
}

func installLoggers(l *zap.Logger) {
	registry.SetLogger(l.Named("registry"))
	memmap.SetLogger(l.Named("memmap"))
	materializer.SetLogger(l.Named("materializer"))
	interp.SetLogger(l.Named("interp"))
	remotecall.SetLogger(l.Named("remotecall"))
	expression.SetLogger(l.Named("expression"))
	wasmproc.SetLogger(l.Named("wasmproc"))
}
