package main

import (
	"testing"

	"github.com/wippyai/dbgexpr/config"
)

func testConfig(t *testing.T) (*config.Config, *config.Bindings) {
	t.Helper()
	b, err := config.ParseBindings([]byte(demoBindings), "demo")
	if err != nil {
		t.Fatalf("ParseBindings: %v", err)
	}
	return config.DefaultConfig(), b
}
