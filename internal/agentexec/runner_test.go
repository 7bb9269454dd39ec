package agentexec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/specflow/specflow/internal/errs"
)

func TestParseEnvelope(t *testing.T) {
	out, session := parseEnvelope([]byte(`{"result": "IMPLEMENTATION COMPLETE", "session_id": "abc-123"}`))
	if out != "IMPLEMENTATION COMPLETE" {
		t.Errorf("output = %q", out)
	}
	if session != "abc-123" {
		t.Errorf("session = %q", session)
	}
}

func TestParseEnvelope_NotJSON(t *testing.T) {
	raw := "plain text output\nwith lines"
	out, session := parseEnvelope([]byte(raw))
	if out != raw {
		t.Errorf("raw output mangled: %q", out)
	}
	if session != "" {
		t.Errorf("session = %q, want empty", session)
	}
}

func TestParseEnvelope_EmptyEnvelope(t *testing.T) {
	// A JSON object without our fields falls back to raw passthrough.
	raw := `{"other": true}`
	out, _ := parseEnvelope([]byte(raw))
	if out != raw {
		t.Errorf("output = %q, want raw", out)
	}
}

func TestRun_MissingExecutable(t *testing.T) {
	r := NewCLIRunner("definitely-not-installed-agent-cli")
	res, err := r.Run(context.Background(), Request{Prompt: "hi", Timeout: time.Second})
	if !errs.Is(err, errs.KindAgentNotInstalled) {
		t.Fatalf("got %v, want agent-not-installed", err)
	}
	if res == nil || !strings.Contains(res.Output, "not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_Timeout(t *testing.T) {
	// A stub that sleeps whatever argv the runner passes it.
	script := filepath.Join(t.TempDir(), "slow-agent")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	r := NewCLIRunner(script)
	res, err := r.Run(context.Background(), Request{Prompt: "hi", Timeout: 50 * time.Millisecond})
	if !errs.Is(err, errs.KindAgentTimeout) {
		t.Fatalf("got %v, want agent timeout", err)
	}
	if !strings.Contains(res.Output, "TIMEOUT") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRun_NonzeroExitIsFailedResult(t *testing.T) {
	// `false` exits 1 with no output; that is a failed result, not an error.
	r := NewCLIRunner("false")
	res, err := r.Run(context.Background(), Request{Prompt: "x", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.OK {
		t.Error("nonzero exit reported OK")
	}
}

func TestRun_SuccessPassesThroughStdout(t *testing.T) {
	// `echo` prints its arguments; the runner treats non-JSON as raw text.
	r := NewCLIRunner("echo")
	res, err := r.Run(context.Background(), Request{Prompt: "hello", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.OK {
		t.Error("zero exit reported not OK")
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output = %q", res.Output)
	}
	if res.Duration <= 0 {
		t.Error("duration not measured")
	}
}
