// Package queue claims jobs from the bull-compatible priority queue in
// Redis and records their terminal outcome.
//
// The producer owns retry semantics: it reclaims stalled jobs by watching
// the active set's timestamps, so the worker must always add to active on
// claim and always remove on a terminal outcome. A worker crash leaves the
// job in active with a stale score, where the producer-side reaper can
// recycle it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"arena-worker/internal/logging"
)

// DefaultQueueName is the queue the web tier enqueues submissions on.
const DefaultQueueName = "execution-queue"

const (
	completedTTL = time.Hour
	failedTTL    = 24 * time.Hour
)

// TestCasePayload mirrors the producer's test case JSON.
type TestCasePayload struct {
	ID             int    `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// Payload is the job's `data` field, JSON-encoded by the producer.
type Payload struct {
	SubmissionID string            `json:"submissionId"`
	Language     string            `json:"language"`
	Code         string            `json:"code"`
	TestCases    []TestCasePayload `json:"testCases"`
}

// Job is one claimed queue entry.
type Job struct {
	ID      string
	Payload Payload
}

// Client speaks the producer's wire format against a shared Redis.
type Client struct {
	rdb   redis.UniversalClient
	queue string
	log   *zap.Logger
}

// New builds a queue client for the named queue.
func New(rdb redis.UniversalClient, queue string) *Client {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Client{
		rdb:   rdb,
		queue: queue,
		log:   logging.L().Named("queue"),
	}
}

func (c *Client) prioritizedKey() string { return fmt.Sprintf("bull:%s:prioritized", c.queue) }
func (c *Client) activeKey() string      { return fmt.Sprintf("bull:%s:active", c.queue) }
func (c *Client) jobKey(id string) string {
	return fmt.Sprintf("bull:%s:%s", c.queue, id)
}

// MarkerKey is touched by the producer to wake blocking consumers. The
// worker polls instead, but the key is part of the shared namespace.
func (c *Client) MarkerKey() string { return fmt.Sprintf("bull:%s:marker", c.queue) }

// Claim atomically pops the lowest-score job from the prioritized set and
// records it in the active set. Returns (nil, nil) when the queue is empty
// or the popped entry has no usable payload.
func (c *Client) Claim(ctx context.Context) (*Job, error) {
	popped, err := c.rdb.ZPopMin(ctx, c.prioritizedKey(), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue pop failed: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	jobID, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("queue pop returned non-string member %v", popped[0].Member)
	}

	if err := c.rdb.ZAdd(ctx, c.activeKey(), &redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: jobID,
	}).Err(); err != nil {
		return nil, fmt.Errorf("record active job %s: %w", jobID, err)
	}

	fields, err := c.rdb.HGetAll(ctx, c.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		// The producer removed the job hash out from under us.
		c.rdb.ZRem(ctx, c.activeKey(), jobID)
		return nil, nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(fields["data"]), &payload); err != nil {
		c.log.Error("failed to parse job data", zap.String("job", jobID), zap.Error(err))
		c.rdb.ZRem(ctx, c.activeKey(), jobID)
		return nil, nil
	}

	return &Job{ID: jobID, Payload: payload}, nil
}

// Complete clears the job from the active set and keeps the hash briefly
// for inspection.
func (c *Client) Complete(ctx context.Context, job *Job) error {
	if err := c.rdb.ZRem(ctx, c.activeKey(), job.ID).Err(); err != nil {
		return fmt.Errorf("remove active job %s: %w", job.ID, err)
	}
	if err := c.rdb.Expire(ctx, c.jobKey(job.ID), completedTTL).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", job.ID, err)
	}
	return nil
}

// Fail clears the job from the active set, records the failure reason on
// the hash, and keeps it around longer than a completed job.
func (c *Client) Fail(ctx context.Context, job *Job, reason string) error {
	if err := c.rdb.ZRem(ctx, c.activeKey(), job.ID).Err(); err != nil {
		return fmt.Errorf("remove active job %s: %w", job.ID, err)
	}
	if err := c.rdb.HSet(ctx, c.jobKey(job.ID), "failedReason", reason).Err(); err != nil {
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	if err := c.rdb.Expire(ctx, c.jobKey(job.ID), failedTTL).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", job.ID, err)
	}
	return nil
}

// Ping checks queue store reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
