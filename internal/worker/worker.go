// Package worker implements the claim/adjudicate/record loop.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arena-worker/internal/judge"
	"arena-worker/internal/logging"
	"arena-worker/internal/metrics"
	"arena-worker/internal/queue"
)

// Queue is the job source. Satisfied by *queue.Client.
type Queue interface {
	Claim(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, reason string) error
}

// Recorder persists status transitions. Satisfied by *recorder.Recorder.
type Recorder interface {
	MarkRunning(ctx context.Context, submissionID string) error
	RecordResult(ctx context.Context, res judge.SubmissionResult) error
	RecordFailure(ctx context.Context, submissionID string, cause error) error
}

// Judge produces a submission verdict. Satisfied by *judge.Adjudicator.
type Judge interface {
	Judge(ctx context.Context, submissionID, langTag, code string, cases []judge.TestCase) judge.SubmissionResult
}

// Options tune the polling loop.
type Options struct {
	// Concurrency is the number of claim loops. The design is correct at
	// 1; higher values rely on pooled clients and unique sandbox names.
	Concurrency int
	PollFloor   time.Duration
	PollCap     time.Duration
	// ErrorSleep is the pause after a transient infrastructure error.
	ErrorSleep time.Duration
}

// DefaultOptions matches the adaptive backoff in the rest of the platform:
// 100ms floor, 1.5x growth, 5s cap.
func DefaultOptions() Options {
	return Options{
		Concurrency: 1,
		PollFloor:   100 * time.Millisecond,
		PollCap:     5 * time.Second,
		ErrorSleep:  5 * time.Second,
	}
}

// Worker polls the queue and drives each claimed job end to end. Shutdown
// is a flag, never a preemption: in-flight adjudications finish before the
// loops exit.
type Worker struct {
	queue    Queue
	recorder Recorder
	judge    Judge
	opts     Options

	shutdown atomic.Bool
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New assembles a worker.
func New(q Queue, r Recorder, j Judge, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollFloor <= 0 {
		opts.PollFloor = 100 * time.Millisecond
	}
	if opts.PollCap < opts.PollFloor {
		opts.PollCap = 5 * time.Second
	}
	if opts.ErrorSleep <= 0 {
		opts.ErrorSleep = 5 * time.Second
	}
	return &Worker{
		queue:    q,
		recorder: r,
		judge:    j,
		opts:     opts,
		log:      logging.L().Named("worker"),
		metrics:  metrics.Get(),
	}
}

// RequestShutdown asks the loops to stop after their current job.
func (w *Worker) RequestShutdown() {
	w.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown has been requested.
func (w *Worker) ShuttingDown() bool {
	return w.shutdown.Load()
}

// Run blocks until every claim loop has drained after a shutdown request
// or context cancellation.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker ready, waiting for jobs",
		zap.Int("concurrency", w.opts.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()
	w.log.Info("worker loops drained")
}

func (w *Worker) loop(ctx context.Context, n int) {
	interval := w.opts.PollFloor
	log := w.log.With(zap.Int("loop", n))

	for !w.shutdown.Load() && ctx.Err() == nil {
		job, err := w.queue.Claim(ctx)
		if err != nil {
			// go-redis reconnects under the hood; give it room.
			log.Error("queue claim failed", zap.Error(err))
			w.sleep(ctx, w.opts.ErrorSleep)
			continue
		}

		if job == nil {
			w.metrics.PollsTotal.WithLabelValues("empty").Inc()
			interval = interval * 3 / 2
			if interval > w.opts.PollCap {
				interval = w.opts.PollCap
			}
			w.sleep(ctx, interval)
			continue
		}

		w.metrics.PollsTotal.WithLabelValues("claimed").Inc()
		w.processJob(ctx, job)
		interval = w.opts.PollFloor
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	log := w.log.With(
		zap.String("job", job.ID),
		zap.String("submission", job.Payload.SubmissionID))

	if job.Payload.SubmissionID == "" {
		log.Error("job missing submissionId")
		w.failJob(ctx, job, "missing submissionId")
		return
	}

	log.Info("processing job", zap.String("language", job.Payload.Language))
	start := time.Now()
	w.metrics.ExecutionsInFlight.Inc()
	defer w.metrics.ExecutionsInFlight.Dec()

	if err := w.recorder.MarkRunning(ctx, job.Payload.SubmissionID); err != nil {
		log.Error("failed to mark submission running", zap.Error(err))
		w.recordJobFailure(ctx, job, err)
		return
	}

	cases := make([]judge.TestCase, 0, len(job.Payload.TestCases))
	for _, tc := range job.Payload.TestCases {
		cases = append(cases, judge.TestCase{
			ID:             tc.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		})
	}

	result := w.judge.Judge(ctx, job.Payload.SubmissionID, job.Payload.Language, job.Payload.Code, cases)

	if err := w.recorder.RecordResult(ctx, result); err != nil {
		log.Error("failed to record result", zap.Error(err))
		w.recordJobFailure(ctx, job, err)
		return
	}

	if err := w.queue.Complete(ctx, job); err != nil {
		log.Error("failed to complete job", zap.Error(err))
		return
	}

	w.metrics.JobsTotal.WithLabelValues(string(result.Verdict)).Inc()
	w.metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	log.Info("job completed",
		zap.String("verdict", string(result.Verdict)),
		zap.Int("passed", result.PassedCount),
		zap.Int("total", result.TotalCount))
}

// recordJobFailure classifies an infrastructure failure: the submission is
// marked runtime_error in the store and the job is failed in the queue.
func (w *Worker) recordJobFailure(ctx context.Context, job *queue.Job, cause error) {
	if job.Payload.SubmissionID != "" {
		if err := w.recorder.RecordFailure(ctx, job.Payload.SubmissionID, cause); err != nil {
			w.log.Error("failed to record submission failure",
				zap.String("submission", job.Payload.SubmissionID), zap.Error(err))
		}
	}
	w.failJob(ctx, job, cause.Error())
}

func (w *Worker) failJob(ctx context.Context, job *queue.Job, reason string) {
	w.metrics.JobFailuresTotal.Inc()
	if err := w.queue.Fail(ctx, job, reason); err != nil {
		w.log.Error("failed to fail job", zap.String("job", job.ID), zap.Error(err))
	}
}

// sleep pauses for d, returning early only when the context is done. A
// shutdown request does not cut the pause short; the loop sees it on its
// next check.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
