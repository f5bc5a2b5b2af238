// Package model defines the core data types for the imagemill job pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType identifies which transformation a worker must apply.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeReduceQuality re-encodes a JPEG at a lower quality setting.
	JobTypeReduceQuality JobType = "reduce_quality"
	// JobTypeGrayscale converts an image to grayscale.
	JobTypeGrayscale JobType = "grayscale"
	// JobTypeThumbnail downscales an image to a bounded edge length.
	JobTypeThumbnail JobType = "thumbnail"

	// JobStatusQueued indicates a job is waiting to be processed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker has picked up the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeReduceQuality || t == JobTypeGrayscale || t == JobTypeThumbnail
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal returns true if no further transitions are permitted from the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the unit of trackable asynchronous work derived from one submitted row.
type Job struct {
	ID              string          `json:"id"                         db:"id"`
	Type            JobType         `json:"job_type"                   db:"job_type"`
	Status          JobStatus       `json:"status"                     db:"status"`
	Payload         json.RawMessage `json:"payload"                    db:"payload"`
	InputReference  string          `json:"input_reference"            db:"input_reference"`
	OutputReference *string         `json:"output_reference,omitempty" db:"output_reference"`
	FailureReason   *string         `json:"failure_reason,omitempty"   db:"failure_reason"`
	NotifyTarget    string          `json:"notify_target"              db:"notify_target"`
	Notified        bool            `json:"notified"                   db:"notified"`
	CreatedAt       time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
}

// SubmitBatchRequest carries a validated batch of row payloads into the submitter.
type SubmitBatchRequest struct {
	Type           JobType           `json:"job_type"`
	Rows           []json.RawMessage `json:"rows"`
	NotifyTarget   string            `json:"webhook"`
	InputReference string            `json:"input_reference"`
}

// Validate validates the SubmitBatchRequest fields.
func (r *SubmitBatchRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Rows) == 0 {
		return errors.New("at least one row is required")
	}
	for i := range r.Rows {
		if len(r.Rows[i]) == 0 {
			return fmt.Errorf("row %d is empty", i)
		}
	}
	if strings.TrimSpace(r.NotifyTarget) == "" {
		return errors.New("webhook target is required")
	}
	return nil
}

// JobSnapshot is the read-only view returned by the status query.
type JobSnapshot struct {
	JobID           string    `json:"job_id"`
	Type            JobType   `json:"job_type"`
	Status          JobStatus `json:"status"`
	InputReference  string    `json:"input_reference"`
	OutputReference *string   `json:"output_reference,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	NotifyTarget    string    `json:"webhook"`
	Notified        bool      `json:"webhook_sent"`
}

// Snapshot projects the record fields relevant to status callers.
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		JobID:           j.ID,
		Type:            j.Type,
		Status:          j.Status,
		InputReference:  j.InputReference,
		OutputReference: j.OutputReference,
		FailureReason:   j.FailureReason,
		NotifyTarget:    j.NotifyTarget,
		Notified:        j.Notified,
	}
}

// JobStats counts jobs in each state.
type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
