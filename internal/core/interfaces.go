// Package core declares the ports between the pipeline services and their
// adapters. Services accept these interfaces; adapters return concrete types.
package core

import (
	"context"
	"time"

	"github.com/imagemill/imagemill/internal/domain/model"
)

// JobRepository is the durable record store contract for the pipeline. The
// store exclusively owns persisted job state; per-record writes are atomic via
// conditional updates so duplicate result deliveries cannot race.
type JobRepository interface {
	// Create persists a new job with status queued. A reused id is a conflict.
	Create(ctx context.Context, job *model.Job) error
	// GetByID returns the job or a NotFound error.
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// MarkProcessing transitions queued -> processing. Returns false without
	// error when the job is no longer queued (late or duplicate delivery).
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// ApplyTerminal applies a terminal transition. Returns ApplyOutcome
	// describing whether the write happened, was a duplicate, or conflicted.
	ApplyTerminal(ctx context.Context, res *model.ResultMessage) (ApplyOutcome, error)
	// MarkNotified flips the notified flag, at most once per terminal record.
	// Returns false when the record was already notified or is not terminal.
	MarkNotified(ctx context.Context, id string) (bool, error)
	// Stats counts jobs per state for the given type.
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
}

// ApplyOutcome classifies the result of a terminal-transition attempt.
type ApplyOutcome int

const (
	// ApplyApplied means the status write was committed.
	ApplyApplied ApplyOutcome = iota
	// ApplyDuplicate means the record already held the same terminal state.
	ApplyDuplicate
	// ApplyConflict means the record held a different terminal state; the
	// existing state was kept (first terminal write wins).
	ApplyConflict
)

// Delivery is one at-least-once message delivery from a queue. Ack must be
// called once the handler has durably processed the message; unacked messages
// are redelivered after the broker's idle timeout.
type Delivery struct {
	// ID is the broker-assigned entry id.
	ID string
	// Body is the self-contained message record.
	Body []byte
	// Attempt counts deliveries of this entry, starting at 1.
	Attempt int
}

// Queue is the durable, at-least-once message channel contract shared by the
// work and result queues.
type Queue interface {
	// Enqueue appends a message and returns once the broker acknowledges it.
	Enqueue(ctx context.Context, body []byte) error
	// Consume invokes the handler once per delivered message until the context
	// is cancelled. The handler must call Ack on success; returning an error
	// leaves the message pending for redelivery.
	Consume(ctx context.Context, handler func(ctx context.Context, d Delivery) error) error
	// Ack marks a delivery as consumed.
	Ack(ctx context.Context, deliveryID string) error
}

// ObjectStore is the opaque storage collaborator. The pipeline does not
// interpret storage internals beyond the put/get contract.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// TerminalSummary is the notification payload sent to a job's notify target.
type TerminalSummary struct {
	JobID           string          `json:"job_id"`
	Type            model.JobType   `json:"job_type"`
	Status          model.JobStatus `json:"status"`
	OutputReference string          `json:"output_reference,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
}

// WebhookSender delivers a terminal summary to an external target. It is a
// fire-and-forget collaborator with respect to status correctness: failures
// are retried by the caller and never alter job state.
type WebhookSender interface {
	Send(ctx context.Context, target string, summary TerminalSummary) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall-clock time.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
