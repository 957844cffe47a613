package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/config"
	"github.com/wippyai/dbgexpr/expression"
	"github.com/wippyai/dbgexpr/interp"
	"github.com/wippyai/dbgexpr/materializer"
	"github.com/wippyai/dbgexpr/target"
	"github.com/wippyai/dbgexpr/target/wasmproc"
)

// unitSource is a compiled expression before it is loaded.
type unitSource struct {
	label string
	jit   []byte
	ir    []byte
}

type sessionVar struct {
	v   *wasmproc.Variable
	typ wit.Type
}

// session is one expression bound to a fresh reference process.
type session struct {
	cfg    *config.Config
	tg     *wasmproc.Target
	interp *interp.Wazero
	expr   *expression.UserExpression
	exe    *target.Context
	vars   []sessionVar
	label  string
	mode   string
	runs   int
}

func newSession(ctx context.Context, cfg *config.Config, b *config.Bindings, unit unitSource) (_ *session, err error) {
	layout, err := b.Layout()
	if err != nil {
		return nil, err
	}

	tg, err := wasmproc.New(ctx, cfg.Process())
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, tg: tg, label: unit.label}
	defer func() {
		if err != nil {
			s.close(ctx)
		}
	}()

	proc := tg.Process()
	thread, err := proc.NewThread()
	if err != nil {
		return nil, err
	}
	frame := proc.NewFrame()
	defined, err := b.Define(frame)
	if err != nil {
		return nil, err
	}
	for i, v := range defined {
		t, _ := config.ParseType(b.Variables[i].Type)
		s.vars = append(s.vars, sessionVar{v: v, typ: t})
	}
	s.exe = &target.Context{Target: tg, Process: proc, Thread: thread, Frame: frame}

	ecfg := expression.Config{
		Layout:         layout,
		StackFrameSize: cfg.Eval.StackSize,
		Unit: expression.CompiledUnit{
			Function: b.Function,
			Entry:    dbgexpr.InvalidAddress,
		},
	}
	interpret := unit.ir != nil && (cfg.Eval.Interpret || unit.jit == nil)
	switch {
	case interpret:
		s.interp = interp.NewWazero(ctx, nil)
		ecfg.CanInterpret = true
		ecfg.Interpreter = s.interp
		ecfg.Unit.Module = &interp.Module{Name: unit.label, Binary: unit.ir}
		s.mode = "interpreted"
	case unit.jit != nil:
		id, entry, err := tg.LoadImage(ctx, unit.label, unit.jit)
		if err != nil {
			return nil, err
		}
		ecfg.Unit.Image, ecfg.Unit.Entry = id, entry
		s.mode = "jit"
	default:
		return nil, fmt.Errorf("%s: no JIT image or IR module", unit.label)
	}

	s.expr, err = expression.New(s.exe, ecfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) evaluate(ctx context.Context) *expression.Result {
	s.runs++
	return s.expr.Execute(ctx, s.exe, s.cfg.Options())
}

// set parses text as the variable's type and stores it.
func (s *session) set(i int, text string) error {
	sv := s.vars[i]
	val, err := parseValue(sv.typ, text)
	if err != nil {
		return err
	}
	data, err := materializer.Encode(sv.typ, val)
	if err != nil {
		return err
	}
	return sv.v.SetValue(data)
}

func (s *session) varValue(i int) string {
	sv := s.vars[i]
	data, err := sv.v.Value()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	val, err := materializer.Decode(sv.typ, data)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	if _, ok := sv.typ.(wit.Char); ok {
		return strconv.QuoteRune(val.(rune))
	}
	return fmt.Sprint(val)
}

func (s *session) report(res *expression.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, run %d): %s\n", s.label, s.mode, s.runs, res.Outcome)
	if res.Value != nil {
		fmt.Fprintf(&b, "  %s\n", res.Value)
	}
	if d := res.Diagnostic(); d != "" {
		for _, line := range strings.Split(d, "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	for i, sv := range s.vars {
		fmt.Fprintf(&b, "  %s = %s\n", sv.v.Name(), s.varValue(i))
	}
	if addr := s.expr.StructAddress(); addr != dbgexpr.InvalidAddress {
		fmt.Fprintf(&b, "  argument struct at 0x%x\n", addr)
	}
	if bottom, top := s.expr.StackBounds(); bottom != dbgexpr.InvalidAddress {
		fmt.Fprintf(&b, "  interpreter stack [0x%x, 0x%x) %s\n", bottom, top, humanize.IBytes(top-bottom))
	}
	if n := len(s.tg.Process().Adopted()); n > 0 {
		fmt.Fprintf(&b, "  %d unfinished %s held by the process\n", n, plural(n, "call", "calls"))
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (s *session) close(ctx context.Context) {
	if s.expr != nil {
		_ = s.expr.Teardown(ctx)
	}
	if s.interp != nil {
		_ = s.interp.Close(ctx)
	}
	_ = s.tg.Close(ctx)
}

func parseValue(t wit.Type, text string) (any, error) {
	text = strings.TrimSpace(text)
	switch t.(type) {
	case wit.Bool:
		return strconv.ParseBool(text)
	case wit.F32:
		return strconv.ParseFloat(text, 32)
	case wit.F64:
		return strconv.ParseFloat(text, 64)
	case wit.Char:
		if r := []rune(text); len(r) == 1 {
			return int64(r[0]), nil
		}
		return strconv.ParseInt(text, 0, 32)
	case wit.U8:
		return strconv.ParseUint(text, 0, 8)
	case wit.U16:
		return strconv.ParseUint(text, 0, 16)
	case wit.U32:
		return strconv.ParseUint(text, 0, 32)
	case wit.U64:
		return strconv.ParseUint(text, 0, 64)
	case wit.S8:
		return strconv.ParseInt(text, 0, 8)
	case wit.S16:
		return strconv.ParseInt(text, 0, 16)
	case wit.S32:
		return strconv.ParseInt(text, 0, 32)
	case wit.S64:
		return strconv.ParseInt(text, 0, 64)
	}
	return nil, fmt.Errorf("cannot parse %T values", t)
}
