package judge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"arena-worker/internal/language"
	"arena-worker/internal/logging"
	"arena-worker/internal/runtime"
)

// Runner executes one code run against one stdin. Satisfied by
// *runtime.Engine.
type Runner interface {
	Run(ctx context.Context, lang language.Language, code, stdin string) runtime.ExecutionResult
}

// Adjudicator iterates a submission's test cases through a Runner and
// aggregates them into a final verdict.
type Adjudicator struct {
	runner Runner
	// strict disables output normalization. Off by default; reserved for
	// format-sensitive problems.
	strict bool
	log    *zap.Logger
}

// NewAdjudicator builds an adjudicator over runner.
func NewAdjudicator(runner Runner) *Adjudicator {
	return &Adjudicator{
		runner: runner,
		log:    logging.L().Named("adjudicator"),
	}
}

// Judge runs every test case in order and returns the submission result.
// Compile failures and timeouts short-circuit; runtime errors do not, so
// the user sees the full report.
func (a *Adjudicator) Judge(ctx context.Context, submissionID, langTag, code string, cases []TestCase) SubmissionResult {
	a.log.Info("starting adjudication",
		zap.String("submission", submissionID),
		zap.String("language", langTag),
		zap.Int("test_count", len(cases)))

	lang, err := language.Parse(langTag)
	if err != nil {
		// No sandbox is ever created for an unknown language.
		return SubmissionResult{
			SubmissionID: submissionID,
			Verdict:      VerdictRuntimeError,
			TestResults:  []TestCaseResult{},
			Stderr:       fmt.Sprintf("Unsupported language: %s", langTag),
			TotalCount:   len(cases),
		}
	}

	var (
		results     []TestCaseResult
		totalMs     int64
		maxMemoryKB int64
		allStdout   []string
		allStderr   []string
	)

	for _, tc := range cases {
		res := a.runner.Run(ctx, lang, code, tc.Input)

		totalMs += res.DurationMs
		if res.MemoryKB > maxMemoryKB {
			maxMemoryKB = res.MemoryKB
		}
		if res.Stdout != "" {
			allStdout = append(allStdout, res.Stdout)
		}
		if res.Stderr != "" {
			allStderr = append(allStderr, res.Stderr)
		}

		if res.ErrorKind == runtime.ErrKindCompilation {
			// Compile failure is a property of the source; re-running the
			// remaining cases cannot help.
			return SubmissionResult{
				SubmissionID: submissionID,
				Verdict:      VerdictCompilationError,
				TestResults: []TestCaseResult{{
					TestCaseID:      tc.ID,
					Passed:          false,
					Output:          res.Stdout,
					ExpectedOutput:  tc.ExpectedOutput,
					ExecutionTimeMs: res.DurationMs,
					Error:           res.Stderr,
				}},
				TotalExecutionTimeMs: totalMs,
				MaxMemoryUsedKB:      maxMemoryKB,
				Stdout:               res.Stdout,
				Stderr:               res.Stderr,
				PassedCount:          0,
				TotalCount:           len(cases),
			}
		}

		if res.TimedOut {
			// The program is hung; running further cases wastes budget.
			results = append(results, TestCaseResult{
				TestCaseID:      tc.ID,
				Passed:          false,
				Output:          res.Stdout,
				ExpectedOutput:  tc.ExpectedOutput,
				ExecutionTimeMs: res.DurationMs,
				Error:           "Time Limit Exceeded",
			})
			return a.finalize(submissionID, VerdictTimeLimitExceeded, results,
				totalMs, maxMemoryKB, allStdout, allStderr, len(cases))
		}

		if !res.Success {
			results = append(results, TestCaseResult{
				TestCaseID:      tc.ID,
				Passed:          false,
				Output:          res.Stdout,
				ExpectedOutput:  tc.ExpectedOutput,
				ExecutionTimeMs: res.DurationMs,
				Error:           runtimeErrorTag(res.Stderr),
			})
			// A runtime error on one input may coexist with correct output
			// on others; keep going.
			continue
		}

		passed := Compare(res.Stdout, tc.ExpectedOutput, a.strict)
		errTag := ""
		if !passed {
			errTag = "Wrong Answer"
		}
		results = append(results, TestCaseResult{
			TestCaseID:      tc.ID,
			Passed:          passed,
			Output:          res.Stdout,
			ExpectedOutput:  tc.ExpectedOutput,
			ExecutionTimeMs: res.DurationMs,
			Error:           errTag,
		})
	}

	verdict := VerdictWrongAnswer
	passedCount := countPassed(results)
	switch {
	case passedCount == len(cases):
		verdict = VerdictAccepted
	case hasRuntimeError(results):
		verdict = VerdictRuntimeError
	}

	final := a.finalize(submissionID, verdict, results, totalMs, maxMemoryKB, allStdout, allStderr, len(cases))
	a.log.Info("adjudication completed",
		zap.String("submission", submissionID),
		zap.String("verdict", string(final.Verdict)),
		zap.Int("passed", final.PassedCount),
		zap.Int("total", final.TotalCount),
		zap.Int64("execution_time_ms", final.TotalExecutionTimeMs))
	return final
}

func (a *Adjudicator) finalize(submissionID string, verdict Verdict, results []TestCaseResult,
	totalMs, maxMemoryKB int64, allStdout, allStderr []string, total int) SubmissionResult {
	return SubmissionResult{
		SubmissionID:         submissionID,
		Verdict:              verdict,
		TestResults:          results,
		TotalExecutionTimeMs: totalMs,
		MaxMemoryUsedKB:      maxMemoryKB,
		Stdout:               strings.Join(allStdout, "\n"),
		Stderr:               strings.Join(allStderr, "\n"),
		PassedCount:          countPassed(results),
		TotalCount:           total,
	}
}

// runtimeErrorTag tags a failing run so the final verdict rule can spot it
// regardless of what the program wrote to stderr.
func runtimeErrorTag(stderr string) string {
	if stderr == "" {
		return "Runtime Error"
	}
	return "Runtime Error: " + firstLine(stderr)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countPassed(results []TestCaseResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

func hasRuntimeError(results []TestCaseResult) bool {
	for _, r := range results {
		if strings.Contains(r.Error, "Runtime") {
			return true
		}
	}
	return false
}
