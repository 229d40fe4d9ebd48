// Integration tests against a live container daemon. They skip when the
// daemon is unreachable and exercise the end-to-end scenarios the worker
// is built around.

package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"arena-worker/internal/language"
)

func newTestRuntime(t *testing.T) *DockerRuntime {
	t.Helper()
	cfg := DefaultExecutionConfig()
	cfg.Timeout = 15 * time.Second
	rt, err := NewDockerRuntime(cfg)
	if err != nil {
		t.Skipf("Docker not available, skipping: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Ping(ctx); err != nil {
		t.Skipf("Docker daemon not reachable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func newTestEngine(t *testing.T, timeout time.Duration) *Engine {
	t.Helper()
	rt := newTestRuntime(t)
	cfg := rt.cfg
	cfg.Timeout = timeout
	rt.cfg = cfg
	e := NewEngine(rt, cfg, "arena-test")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.Reap(ctx)
	})
	return e
}

func TestDockerEnginePythonEcho(t *testing.T) {
	e := newTestEngine(t, 15*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res := e.Run(ctx, language.Python, "print(int(input())*2)", "3")
	if !res.Success {
		t.Fatalf("expected success, got exit=%d stderr=%q errkind=%q", res.ExitCode, res.Stderr, res.ErrorKind)
	}
	if res.Stdout != "6" {
		t.Errorf("expected stdout %q, got %q", "6", res.Stdout)
	}
}

func TestDockerEngineStdinWithShellMetacharacters(t *testing.T) {
	// Stdin goes through the exec attach channel, so quotes and shell
	// metacharacters in test input must arrive verbatim.
	e := newTestEngine(t, 15*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	input := `it's "quoted" $(and | dangerous)`
	res := e.Run(ctx, language.Python, "import sys; print(sys.stdin.readline().rstrip())", input)
	if !res.Success {
		t.Fatalf("expected success, got exit=%d stderr=%q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != input {
		t.Errorf("stdin was corrupted in transit: want %q, got %q", input, res.Stdout)
	}
}

func TestDockerEngineTimeoutDestroysSandbox(t *testing.T) {
	e := newTestEngine(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res := e.Run(ctx, language.Python, "while True: pass", "")
	if !res.TimedOut {
		t.Fatalf("expected timeout, got exit=%d stderr=%q", res.ExitCode, res.Stderr)
	}
	if res.ErrorKind != ErrKindTimeLimit {
		t.Errorf("expected %q, got %q", ErrKindTimeLimit, res.ErrorKind)
	}

	// No sandbox with our prefix survives its result.
	rt := e.rt.(*DockerRuntime)
	ids, err := rt.ListByPrefix(ctx, "arena-test")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no leftover containers, found %d", len(ids))
	}
}

func TestDockerEngineRuntimeError(t *testing.T) {
	e := newTestEngine(t, 15*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res := e.Run(ctx, language.Python, "x=int(input())\nprint(1//x)", "0")
	if res.Success {
		t.Fatal("expected failure for division by zero")
	}
	if !strings.Contains(res.Stderr, "ZeroDivisionError") {
		t.Errorf("expected ZeroDivisionError on stderr, got %q", res.Stderr)
	}
}
