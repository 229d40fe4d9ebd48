// Package recorder persists submission status transitions and publishes
// realtime updates for WebSocket delivery downstream.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"arena-worker/internal/judge"
	"arena-worker/internal/logging"
)

// Channel is the pub/sub channel status updates are published on.
const Channel = "submission:updates"

// Database status vocabulary. Verdicts use the human form externally;
// the submissions row stores the lowercase canonical tag.
const (
	StatusProcessing  = "processing"
	StatusSystemError = "system_error"
)

var verdictToStatus = map[judge.Verdict]string{
	judge.VerdictAccepted:          "accepted",
	judge.VerdictWrongAnswer:       "wrong_answer",
	judge.VerdictTimeLimitExceeded: "time_limit_exceeded",
	judge.VerdictRuntimeError:      "runtime_error",
	judge.VerdictCompilationError:  "compilation_error",
}

// DBStatus maps a verdict to its database form; unknown verdicts map to
// system_error.
func DBStatus(v judge.Verdict) string {
	if s, ok := verdictToStatus[v]; ok {
		return s
	}
	return StatusSystemError
}

// TestResultMessage is the per-case shape inside a realtime update.
type TestResultMessage struct {
	TestCaseID      int    `json:"testCaseId"`
	Passed          bool   `json:"passed"`
	Output          string `json:"output"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Error           string `json:"error,omitempty"`
}

// StatusMessage is the JSON published on Channel.
type StatusMessage struct {
	SubmissionID    string              `json:"submissionId"`
	Status          string              `json:"status"`
	Timestamp       string              `json:"timestamp"`
	ExecutionTimeMs *int64              `json:"executionTimeMs,omitempty"`
	MemoryUsedKB    *int64              `json:"memoryUsedKb,omitempty"`
	TestResults     []TestResultMessage `json:"testResults,omitempty"`
	PassedCount     *int                `json:"passedCount,omitempty"`
	TotalCount      *int                `json:"totalCount,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// Recorder writes the submissions row first, then publishes the realtime
// event, for every status change.
type Recorder struct {
	db  *gorm.DB
	rdb redis.UniversalClient
	log *zap.Logger
}

// New builds a recorder over the relational store and the pub/sub client.
func New(db *gorm.DB, rdb redis.UniversalClient) *Recorder {
	return &Recorder{
		db:  db,
		rdb: rdb,
		log: logging.L().Named("recorder"),
	}
}

// MarkRunning records the transition to processing and announces Running.
func (r *Recorder) MarkRunning(ctx context.Context, submissionID string) error {
	if err := r.updateSubmission(ctx, submissionID, StatusProcessing, nil, nil, nil); err != nil {
		return err
	}
	return r.publish(ctx, StatusMessage{
		SubmissionID: submissionID,
		Status:       string(judge.VerdictRunning),
		Timestamp:    isoNow(),
	})
}

// RecordResult persists the terminal verdict and publishes the full report.
func (r *Recorder) RecordResult(ctx context.Context, res judge.SubmissionResult) error {
	var memBytes *int64
	if res.MaxMemoryUsedKB > 0 {
		v := res.MaxMemoryUsedKB * 1024
		memBytes = &v
	}
	var errMsg *string
	if res.Verdict != judge.VerdictAccepted && res.Stderr != "" {
		errMsg = &res.Stderr
	}

	execMs := res.TotalExecutionTimeMs
	if err := r.updateSubmission(ctx, res.SubmissionID, DBStatus(res.Verdict), &execMs, memBytes, errMsg); err != nil {
		return err
	}

	testResults := make([]TestResultMessage, 0, len(res.TestResults))
	for _, tr := range res.TestResults {
		testResults = append(testResults, TestResultMessage{
			TestCaseID:      tr.TestCaseID,
			Passed:          tr.Passed,
			Output:          tr.Output,
			ExecutionTimeMs: tr.ExecutionTimeMs,
			Error:           tr.Error,
		})
	}

	memKB := res.MaxMemoryUsedKB
	passed := res.PassedCount
	total := res.TotalCount
	return r.publish(ctx, StatusMessage{
		SubmissionID:    res.SubmissionID,
		Status:          string(res.Verdict),
		Timestamp:       isoNow(),
		ExecutionTimeMs: &execMs,
		MemoryUsedKB:    &memKB,
		TestResults:     testResults,
		PassedCount:     &passed,
		TotalCount:      &total,
	})
}

// RecordFailure marks a submission that died outside adjudication (bad
// payload, daemon failure, unexpected error).
func (r *Recorder) RecordFailure(ctx context.Context, submissionID string, cause error) error {
	msg := cause.Error()
	if err := r.updateSubmission(ctx, submissionID, "runtime_error", nil, nil, &msg); err != nil {
		return err
	}
	return r.publish(ctx, StatusMessage{
		SubmissionID: submissionID,
		Status:       string(judge.VerdictRuntimeError),
		Timestamp:    isoNow(),
		Error:        msg,
	})
}

// updateSubmission is a single CASE-conditional statement so timestamp
// transitions stay idempotent relative to the status argument: started_at
// is set only on processing, completed_at only on terminal states.
func (r *Recorder) updateSubmission(ctx context.Context, id, status string, execMs, memBytes *int64, errMsg *string) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE submissions
		SET status = ?,
		    execution_time = ?,
		    memory_usage = ?,
		    error_message = ?,
		    completed_at = CASE WHEN ? IN ('accepted', 'wrong_answer', 'time_limit_exceeded', 'runtime_error', 'compilation_error', 'system_error') THEN CURRENT_TIMESTAMP ELSE completed_at END,
		    started_at = CASE WHEN ? = 'processing' THEN CURRENT_TIMESTAMP ELSE started_at END
		WHERE id = ?`,
		status, execMs, memBytes, errMsg, status, status, id)
	if res.Error != nil {
		return fmt.Errorf("update submission %s: %w", id, res.Error)
	}
	r.log.Debug("updated submission",
		zap.String("submission", id), zap.String("status", status))
	return nil
}

func (r *Recorder) publish(ctx context.Context, msg StatusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	if err := r.rdb.Publish(ctx, Channel, body).Err(); err != nil {
		return fmt.Errorf("publish status update: %w", err)
	}
	r.log.Debug("published status update",
		zap.String("submission", msg.SubmissionID), zap.String("status", msg.Status))
	return nil
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
