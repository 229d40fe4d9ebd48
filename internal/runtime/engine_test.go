package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-worker/internal/language"
)

// fakeRuntime records the calls the engine makes and replays scripted
// exec outputs.
type fakeRuntime struct {
	resolveErr error
	createErr  error
	startErr   error
	writeErr   error

	execOutputs []ExecOutput
	execCalls   [][]string
	execStdins  []string

	written   map[string]string
	destroyed []string
	memKB     int64
}

func newFakeRuntime(outputs ...ExecOutput) *fakeRuntime {
	return &fakeRuntime{execOutputs: outputs, written: map[string]string{}}
}

func (f *fakeRuntime) ResolveImage(_ context.Context, lang language.Language) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return lang.Config().Image, nil
}

func (f *fakeRuntime) CreateSandbox(_ context.Context, _, name string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "sandbox-" + name, nil
}

func (f *fakeRuntime) StartSandbox(_ context.Context, _ string) error { return f.startErr }

func (f *fakeRuntime) WriteFile(_ context.Context, _, path, content string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written[path] = content
	return nil
}

func (f *fakeRuntime) Exec(_ context.Context, _ string, argv []string, stdin string, _ time.Duration) ExecOutput {
	f.execCalls = append(f.execCalls, argv)
	f.execStdins = append(f.execStdins, stdin)
	i := len(f.execCalls) - 1
	if i >= len(f.execOutputs) {
		return ExecOutput{ExitCode: 0}
	}
	return f.execOutputs[i]
}

func (f *fakeRuntime) SampleMemory(_ context.Context, _ string) int64 { return f.memKB }

func (f *fakeRuntime) Destroy(id string) { f.destroyed = append(f.destroyed, id) }

func (f *fakeRuntime) ListByPrefix(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (f *fakeRuntime) RemoveByPrefix(_ context.Context, _ string) int             { return 0 }
func (f *fakeRuntime) Ping(_ context.Context) error                               { return nil }

func testConfig() ExecutionConfig {
	cfg := DefaultExecutionConfig()
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestEngineRunSuccess(t *testing.T) {
	rt := newFakeRuntime(ExecOutput{ExitCode: 0, Stdout: "6\n", Elapsed: 20 * time.Millisecond})
	rt.memKB = 2048
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.Python, "print(6)", "3")

	assert.True(t, res.Success)
	assert.Equal(t, "6", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, int64(2048), res.MemoryKB)
	assert.False(t, res.TimedOut)
	assert.Empty(t, res.ErrorKind)

	// Source was injected into the scratch dir, stdin went through the
	// exec channel, and the sandbox did not outlive the result.
	assert.Contains(t, rt.written, "/code/solution.py")
	require.Len(t, rt.execStdins, 1)
	assert.Equal(t, "3", rt.execStdins[0])
	require.Len(t, rt.destroyed, 1)
}

func TestEngineCompileStepForCompiledLanguages(t *testing.T) {
	rt := newFakeRuntime(
		ExecOutput{ExitCode: 0},               // compile
		ExecOutput{ExitCode: 0, Stdout: "ok"}, // run
	)
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.CPP, "int main(){}", "")

	assert.True(t, res.Success)
	require.Len(t, rt.execCalls, 2)
	assert.Equal(t, language.CPP.Config().CompileCmd, rt.execCalls[0])
	assert.Equal(t, language.CPP.Config().RunCmd, rt.execCalls[1])
	assert.Empty(t, rt.execStdins[0], "compile step gets no stdin")
}

func TestEngineCompilationError(t *testing.T) {
	rt := newFakeRuntime(ExecOutput{ExitCode: 1, Stderr: "error: expected ';'"})
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.CPP, "int main(){ retrn 0; }", "")

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindCompilation, res.ErrorKind)
	assert.Contains(t, res.Stderr, "expected ';'")
	require.Len(t, rt.execCalls, 1, "run step is skipped after compile failure")
	require.Len(t, rt.destroyed, 1, "sandbox destroyed on the compile-error path")
}

func TestEngineTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	rt := newFakeRuntime(ExecOutput{ExitCode: 124, Elapsed: 50 * time.Millisecond})
	// Make the run exceed the budget from the engine's clock.
	slowRT := &slowRuntime{fakeRuntime: rt, delay: 20 * time.Millisecond}
	e := NewEngine(slowRT, cfg, "arena-exec")

	res := e.Run(context.Background(), language.Python, "while True: pass", "")

	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Equal(t, ErrKindTimeLimit, res.ErrorKind)
	require.Len(t, rt.destroyed, 1, "sandbox destroyed on the timeout path")
}

// slowRuntime delays Exec so wall-clock elapsed exceeds the budget.
type slowRuntime struct {
	*fakeRuntime
	delay time.Duration
}

func (s *slowRuntime) Exec(ctx context.Context, id string, argv []string, stdin string, timeout time.Duration) ExecOutput {
	time.Sleep(s.delay)
	return s.fakeRuntime.Exec(ctx, id, argv, stdin, timeout)
}

func TestEngineResolveFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.resolveErr = errors.New("daemon unreachable")
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.Python, "print(1)", "")

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindInternal, res.ErrorKind)
	assert.Contains(t, res.Stderr, "daemon unreachable")
	assert.Empty(t, rt.destroyed, "no sandbox was created")
}

func TestEngineCreateFailureIsRuntimeError(t *testing.T) {
	rt := newFakeRuntime()
	rt.createErr = errors.New("conflict: name already in use")
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.Python, "print(1)", "")

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindRuntime, res.ErrorKind)
}

func TestEngineDestroysSandboxOnWriteFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.writeErr = errors.New("exec attach failed")
	e := NewEngine(rt, testConfig(), "arena-exec")

	res := e.Run(context.Background(), language.Python, "print(1)", "")

	assert.False(t, res.Success)
	require.Len(t, rt.destroyed, 1)
}

func TestEngineSandboxNameFormat(t *testing.T) {
	e := NewEngine(newFakeRuntime(), testConfig(), "arena-exec")
	name := e.sandboxName()
	require.True(t, strings.HasPrefix(name, "arena-exec-"))
	suffix := strings.TrimPrefix(name, "arena-exec-")
	assert.Len(t, suffix, 8)
	for _, r := range suffix {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}
