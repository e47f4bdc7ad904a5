// Package jobs implements the async job queue and runner contract
// (C13): NATS JetStream-backed dispatch notification over the
// database-backed job rows that remain the source of truth for
// attempts/status/result, plus the periodic scheduler that enqueues
// stop_eval/meta_sync/report/notify jobs.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/abtestlab/controlplane/internal/domain"
)

// StreamName is the JetStream stream carrying job-ready notifications.
const StreamName = "JOBS"

// SubjectForType returns the JetStream subject a job type is published
// and consumed on.
func SubjectForType(t domain.JobType) string {
	return "jobs." + string(t)
}

// Queue wraps a JetStream context for publishing job-ready notifications.
// The job row itself (status, attempts, payload) always lives in
// repo.JobRepo; Queue only wakes up workers that would otherwise have to
// poll.
type Queue struct {
	js nats.JetStreamContext
}

// NewQueue constructs a Queue and ensures the JOBS stream exists.
func NewQueue(nc *nats.Conn) (*Queue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jobs: get jetstream context: %w", err)
	}
	q := &Queue{js: js}
	if err := q.setupStream(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) setupStream() error {
	cfg := &nats.StreamConfig{
		Name:        StreamName,
		Description: "Job dispatch notifications for the async job runner",
		Subjects:    []string{"jobs.>"},
		Storage:     nats.FileStorage,
		MaxAge:      24 * time.Hour,
		Retention:   nats.LimitsPolicy,
	}
	if _, err := q.js.StreamInfo(cfg.Name); err != nil {
		if err == nats.ErrStreamNotFound {
			_, err := q.js.AddStream(cfg)
			return err
		}
		return err
	}
	_, err := q.js.UpdateStream(cfg)
	return err
}

// notifyPayload is the small pointer message published to JetStream; the
// job's actual payload/state is read from the repository by the worker
// that claims it.
type notifyPayload struct {
	JobID string `json:"jobId"`
}

// Notify publishes a job-ready pointer for a freshly enqueued job.
func (q *Queue) Notify(jobID string, t domain.JobType) error {
	data, err := json.Marshal(notifyPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("jobs: marshal notify payload: %w", err)
	}
	if _, err := q.js.Publish(SubjectForType(t), data); err != nil {
		return fmt.Errorf("jobs: publish notify: %w", err)
	}
	return nil
}

// Subscribe creates a durable push subscription for a job type and
// invokes onReady with each notification's job id; each message is acked
// as soon as onReady returns (or when its payload does not decode).
func (q *Queue) Subscribe(ctx context.Context, t domain.JobType, durable string, onReady func(jobID string)) (*nats.Subscription, error) {
	sub, err := q.js.Subscribe(SubjectForType(t), func(msg *nats.Msg) {
		var p notifyPayload
		if err := json.Unmarshal(msg.Data, &p); err == nil {
			onReady(p.JobID)
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("jobs: subscribe to %s: %w", SubjectForType(t), err)
	}
	return sub, nil
}
