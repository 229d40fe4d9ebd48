package judge

// Verdict is the human-facing outcome of a submission. The recorder maps
// verdicts to their lowercase database forms.
type Verdict string

const (
	VerdictQueued            Verdict = "Queued"
	VerdictRunning           Verdict = "Running"
	VerdictAccepted          Verdict = "Accepted"
	VerdictWrongAnswer       Verdict = "Wrong Answer"
	VerdictTimeLimitExceeded Verdict = "Time Limit Exceeded"
	VerdictRuntimeError      Verdict = "Runtime Error"
	VerdictCompilationError  Verdict = "Compilation Error"
)

// TestCase is one input/expected-output pair. Immutable.
type TestCase struct {
	ID             int
	Input          string
	ExpectedOutput string
}

// TestCaseResult is the outcome of running one test case.
type TestCaseResult struct {
	TestCaseID      int
	Passed          bool
	Output          string
	ExpectedOutput  string
	ExecutionTimeMs int64
	// Error is empty on pass; "Wrong Answer", "Time Limit Exceeded", a
	// runtime error description, or the compiler's stderr on a compilation
	// error otherwise.
	Error string
}

// SubmissionResult aggregates all test case outcomes for one submission.
type SubmissionResult struct {
	SubmissionID         string
	Verdict              Verdict
	TestResults          []TestCaseResult
	TotalExecutionTimeMs int64
	MaxMemoryUsedKB      int64
	Stdout               string
	Stderr               string
	PassedCount          int
	TotalCount           int
}
