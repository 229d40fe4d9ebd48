package runtime

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arena-worker/internal/language"
	"arena-worker/internal/logging"
)

// Engine runs one (language, source, stdin) triple inside a fresh sandbox.
// Every sandbox the engine creates is destroyed before the result is
// returned, on every exit path.
type Engine struct {
	rt     ContainerRuntime
	cfg    ExecutionConfig
	prefix string
	log    *zap.Logger
}

// NewEngine builds an engine on top of a container runtime. prefix names
// sandboxes so the orphan reaper can find strays after a crash.
func NewEngine(rt ContainerRuntime, cfg ExecutionConfig, prefix string) *Engine {
	return &Engine{
		rt:     rt,
		cfg:    cfg,
		prefix: prefix,
		log:    logging.L().Named("engine"),
	}
}

// Run executes code with stdin piped in and returns the captured outcome.
func (e *Engine) Run(ctx context.Context, lang language.Language, code, stdin string) ExecutionResult {
	start := time.Now()
	lc := lang.Config()

	imageRef, err := e.rt.ResolveImage(ctx, lang)
	if err != nil {
		return e.failure(start, ErrKindInternal, err)
	}

	name := e.sandboxName()
	sandboxID, err := e.rt.CreateSandbox(ctx, imageRef, name)
	if err != nil {
		return e.failure(start, ErrKindRuntime, err)
	}
	defer e.rt.Destroy(sandboxID)

	if err := e.rt.StartSandbox(ctx, sandboxID); err != nil {
		return e.failure(start, ErrKindRuntime, err)
	}

	budgetStart := time.Now()
	path := e.cfg.ScratchDir + "/" + lc.FileName
	if err := e.rt.WriteFile(ctx, sandboxID, path, code); err != nil {
		return e.failure(start, ErrKindRuntime, err)
	}

	if len(lc.CompileCmd) > 0 {
		out := e.rt.Exec(ctx, sandboxID, lc.CompileCmd, "", e.cfg.Timeout)
		if out.ExitCode != 0 {
			e.log.Debug("compile failed",
				zap.String("language", lang.String()), zap.Int("exit", out.ExitCode))
			return ExecutionResult{
				Success:    false,
				Stdout:     strings.TrimSpace(out.Stdout),
				Stderr:     strings.TrimSpace(out.Stderr),
				ExitCode:   out.ExitCode,
				DurationMs: out.Elapsed.Milliseconds(),
				ErrorKind:  ErrKindCompilation,
			}
		}
	}

	out := e.rt.Exec(ctx, sandboxID, lc.RunCmd, stdin, e.cfg.Timeout)

	timedOut := time.Since(budgetStart) > e.cfg.Timeout
	memKB := e.rt.SampleMemory(ctx, sandboxID)

	errorKind := ""
	if timedOut {
		errorKind = ErrKindTimeLimit
	}

	return ExecutionResult{
		Success:    out.ExitCode == 0 && !timedOut,
		Stdout:     strings.TrimSpace(out.Stdout),
		Stderr:     strings.TrimSpace(out.Stderr),
		ExitCode:   out.ExitCode,
		DurationMs: out.Elapsed.Milliseconds(),
		MemoryKB:   memKB,
		TimedOut:   timedOut,
		ErrorKind:  errorKind,
	}
}

// Reap removes every container carrying the engine's name prefix.
func (e *Engine) Reap(ctx context.Context) int {
	return e.rt.RemoveByPrefix(ctx, e.prefix)
}

// Ping reports container daemon reachability.
func (e *Engine) Ping(ctx context.Context) error {
	return e.rt.Ping(ctx)
}

func (e *Engine) sandboxName() string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", e.prefix, hex.EncodeToString(id[:4]))
}

func (e *Engine) failure(start time.Time, kind string, err error) ExecutionResult {
	e.log.Error("execution failed", zap.String("kind", kind), zap.Error(err))
	return ExecutionResult{
		Success:    false,
		Stderr:     err.Error(),
		ExitCode:   1,
		DurationMs: time.Since(start).Milliseconds(),
		ErrorKind:  kind,
	}
}
