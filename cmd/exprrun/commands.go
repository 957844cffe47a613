package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/dbgexpr/config"
	"github.com/wippyai/dbgexpr/internal/samples"
)

func newRunCmd(a *app) *cobra.Command {
	var bindingsFile, jitFile, irFile string

	cmd := &cobra.Command{
		Use:   "run --bindings FILE [--jit FILE] [--ir FILE]",
		Short: "Evaluate an expression image",
		Example: `  exprrun run --bindings vars.yaml --jit expr.wasm
  exprrun run --bindings vars.yaml --ir expr-ir.wasm --interpret
  exprrun run --bindings vars.yaml --jit expr.wasm -i`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := config.LoadBindings(bindingsFile)
			if err != nil {
				return err
			}
			unit := unitSource{label: bindingsFile}
			if jitFile != "" {
				if unit.jit, err = os.ReadFile(jitFile); err != nil {
					return fmt.Errorf("read JIT image: %w", err)
				}
				unit.label = jitFile
			}
			if irFile != "" {
				if unit.ir, err = os.ReadFile(irFile); err != nil {
					return fmt.Errorf("read IR module: %w", err)
				}
				if jitFile == "" {
					unit.label = irFile
				}
			}
			return a.evaluate(cmd, b, unit)
		},
	}

	cmd.Flags().StringVar(&bindingsFile, "bindings", "", "variable bindings (yaml)")
	cmd.Flags().StringVar(&jitFile, "jit", "", "JIT image run inside the process")
	cmd.Flags().StringVar(&irFile, "ir", "", "IR module interpreted on the host")
	_ = cmd.MarkFlagRequired("bindings")
	cmd.MarkFlagsOneRequired("jit", "ir")
	return cmd
}

// demoBindings match the layout internal/samples builds against.
const demoBindings = `
function: run
result: u32
variables:
  - name: x
    type: u32
    value: 5
  - name: y
    type: u32
    mode: reference
    value: 7
`

var demos = map[string]func() unitSource{
	"add": func() unitSource {
		return unitSource{jit: samples.AddAndBump(samples.JIT), ir: samples.AddAndBump(samples.IR)}
	},
	"breakpoint": func() unitSource { return unitSource{jit: samples.Breakpoint()} },
	"spin": func() unitSource {
		return unitSource{jit: samples.Spin(samples.JIT), ir: samples.Spin(samples.IR)}
	},
	"trap": func() unitSource {
		return unitSource{jit: samples.Trap(samples.JIT), ir: samples.Trap(samples.IR)}
	},
	"stack": func() unitSource {
		return unitSource{jit: samples.StackResult(samples.JIT), ir: samples.StackResult(samples.IR)}
	},
}

func demoNames() []string {
	return []string{"add", "breakpoint", "spin", "stack", "trap"}
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo [" + strings.Join(demoNames(), "|") + "]",
		Short: "Evaluate a built-in expression (result = x + *y; *y += 1; x *= 2)",
		Long: `demo evaluates one of the built-in expressions against x = 5 and y = 7.

  add         result = x + *y, then *y += 1 and x *= 2
  breakpoint  sets *y to 1000 and stops at a breakpoint
  spin        never returns (combine with --timeout)
  stack       returns a pointer into its own stack frame
  trap        traps immediately`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: demoNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "add"
			if len(args) == 1 {
				name = args[0]
			}
			mk, ok := demos[name]
			if !ok {
				return fmt.Errorf("unknown demo %q (want one of %s)", name, strings.Join(demoNames(), ", "))
			}
			b, err := config.ParseBindings([]byte(demoBindings), "demo")
			if err != nil {
				return err
			}
			unit := mk()
			unit.label = "demo " + name
			return a.evaluate(cmd, b, unit)
		},
	}
}

func (a *app) evaluate(cmd *cobra.Command, b *config.Bindings, unit unitSource) error {
	ctx := cmd.Context()
	s, err := newSession(ctx, a.cfg, b, unit)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if a.interactive {
		return runInteractive(ctx, s)
	}

	out := cmd.OutOrStdout()
	res := s.evaluate(ctx)
	fmt.Fprint(out, s.report(res))
	return nil
}
