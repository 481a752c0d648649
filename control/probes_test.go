package control_test

import (
	"testing"

	"github.com/momentics/nioloop/control"
)

func TestProbeRegistryDump(t *testing.T) {
	pr := control.NewProbeRegistry()
	calls := 0
	pr.Register("sessions", func() any { calls++; return calls })
	pr.Register("bytes", func() any { return int64(42) })

	out := pr.Dump()
	if out["sessions"] != 1 || out["bytes"] != int64(42) {
		t.Fatalf("unexpected dump: %v", out)
	}

	// probes are re-evaluated on every dump
	out = pr.Dump()
	if out["sessions"] != 2 {
		t.Fatalf("probe not re-evaluated: %v", out)
	}
}

func TestProbeRegistryReplace(t *testing.T) {
	pr := control.NewProbeRegistry()
	pr.Register("x", func() any { return "old" })
	pr.Register("x", func() any { return "new" })
	out := pr.Dump()
	if len(out) != 1 || out["x"] != "new" {
		t.Fatalf("replace failed: %v", out)
	}
}
