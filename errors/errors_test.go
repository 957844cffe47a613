package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseMaterialize,
				Kind:   KindInvalidData,
				Path:   []string{"frame", "counter"},
				Detail: "size mismatch",
			},
			contains: []string{"[materialize]", "invalid_data", "frame.counter", "size mismatch"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseFinalize,
				Kind:  KindHandleConsumed,
			},
			contains: []string{"[finalize]", "handle_consumed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseAllocate,
				Kind:   KindAllocation,
				Detail: "target refused",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[allocate]", "allocation", "target refused", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseExecute,
		Kind:  KindInterrupted,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseFinalize,
		Kind:   KindHandleConsumed,
		Detail: "second call",
	}

	if !errors.Is(err, ErrHandleConsumed) {
		t.Error("Is should match sentinel with same phase and kind")
	}
	if err.Is(&Error{Phase: PhasePrepare, Kind: KindHandleConsumed}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseFinalize, Kind: KindHandleLive}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, ErrHandleConsumed) {
		t.Error("errors.Is should match through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMaterialize, KindInvalidData).
		Path("frame", "x").
		Value(42).
		Cause(cause).
		Detail("expected %d bytes, got %d", 4, 2).
		Build()

	if err.Phase != PhaseMaterialize {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMaterialize)
	}
	if err.Kind != KindInvalidData {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidData)
	}
	if len(err.Path) != 2 || err.Path[1] != "x" {
		t.Errorf("Path = %v, want [frame x]", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected 4 bytes, got 2" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(1024, 8, nil)
		if err.Kind != KindAllocation || err.Phase != PhaseAllocate {
			t.Errorf("got %v/%v", err.Phase, err.Kind)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("StaleContext", func(t *testing.T) {
		if !errors.Is(StaleContext("target changed"), ErrStaleContext) {
			t.Error("StaleContext should match ErrStaleContext")
		}
	})

	t.Run("HandleConsumed", func(t *testing.T) {
		err := HandleConsumed("dematerialize")
		if !strings.Contains(err.Error(), "dematerialize") {
			t.Errorf("message %q should name the operation", err.Error())
		}
	})

	t.Run("InvalidState", func(t *testing.T) {
		err := InvalidState(PhaseFinalize, "prepared", "finalized")
		if err.Kind != KindInvalidState {
			t.Errorf("Kind = %v", err.Kind)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseTarget, 0x10000, 4)
		if err.Value != uint64(0x10000) {
			t.Errorf("Value = %v", err.Value)
		}
	})
}

func TestPhaseOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Wrap(PhaseFinalize, KindInvalidData, nil, "bad"))
	phase, ok := PhaseOf(err)
	if !ok || phase != PhaseFinalize {
		t.Errorf("PhaseOf = %v, %v", phase, ok)
	}

	if _, ok := PhaseOf(errors.New("plain")); ok {
		t.Error("PhaseOf should fail for plain errors")
	}
}

func TestIsAs(t *testing.T) {
	err := fmt.Errorf("prepare: %w", Wrap(PhaseFinalize, KindHandleConsumed, errors.New("second use"), "dematerialize"))

	if !Is(err, ErrHandleConsumed) {
		t.Error("Is did not find the sentinel through a wrapped error")
	}
	if Is(err, ErrHandleLive) {
		t.Error("Is matched a different kind")
	}

	var e *Error
	if !As(err, &e) {
		t.Fatal("As did not find *Error")
	}
	if e.Detail != "dematerialize" {
		t.Errorf("As found %q", e.Detail)
	}
}
