package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// WorkMessage carries a job's input from the submitter to a worker.
// The schema is part of the pipeline contract and must survive the
// producer/consumer boundary unchanged.
type WorkMessage struct {
	ID      string          `json:"id"`
	Type    JobType         `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the work message invariants before enqueue or dispatch.
func (m *WorkMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("work message id is required")
	}
	if !m.Type.Valid() {
		return errors.New("work message job type is invalid")
	}
	if len(m.Payload) == 0 {
		return errors.New("work message payload is required")
	}
	return nil
}

// ResultMessage carries a job's outcome from a worker back to the reconciler.
// OutputReference is present only for completed results; ErrorReason only for
// failed ones. Attempt records how many processing attempts the worker made.
type ResultMessage struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	OutputReference string    `json:"output_reference,omitempty"`
	ErrorReason     string    `json:"error_reason,omitempty"`
	Attempt         int       `json:"attempt,omitempty"`
}

// Validate checks the result message invariants.
func (m *ResultMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("result message id is required")
	}
	if !m.Status.Valid() || m.Status == JobStatusQueued {
		return errors.New("result message status must be processing, completed, or failed")
	}
	if m.Status == JobStatusCompleted && m.OutputReference == "" {
		return errors.New("completed result requires an output reference")
	}
	if m.Status != JobStatusCompleted && m.OutputReference != "" {
		return errors.New("output reference is only valid for completed results")
	}
	return nil
}
