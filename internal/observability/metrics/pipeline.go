// Package metrics names the pipeline's lifecycle metrics in one place.
package metrics

import (
	"time"

	"github.com/imagemill/imagemill/internal/domain/model"
	"github.com/imagemill/imagemill/internal/observability/statsd"
)

// Pipeline emits counters and timings for the job pipeline. A nil *Pipeline
// is a safe no-op.
type Pipeline struct {
	client *statsd.Client
}

// NewPipeline wraps a statsd client.
func NewPipeline(client *statsd.Client) *Pipeline {
	return &Pipeline{client: client}
}

// JobSubmitted counts accepted jobs per type.
func (p *Pipeline) JobSubmitted(jobType model.JobType) {
	if p == nil {
		return
	}
	p.client.Increment("jobs.submitted." + string(jobType))
}

// JobProcessed records one worker attempt's outcome and duration.
func (p *Pipeline) JobProcessed(jobType model.JobType, d time.Duration, ok bool) {
	if p == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	p.client.Increment("worker.processed." + string(jobType) + "." + outcome)
	p.client.Timing("worker.duration."+string(jobType), d)
}

// TransitionApplied counts committed terminal transitions per status.
func (p *Pipeline) TransitionApplied(status model.JobStatus) {
	if p == nil {
		return
	}
	p.client.Increment("reconciler.applied." + string(status))
}

// DuplicateResult counts result messages dropped as duplicates.
func (p *Pipeline) DuplicateResult() {
	if p == nil {
		return
	}
	p.client.Increment("reconciler.duplicate")
}

// ConflictResult counts conflicting terminal results that were rejected.
func (p *Pipeline) ConflictResult() {
	if p == nil {
		return
	}
	p.client.Increment("reconciler.conflict")
}

// OrphanResult counts result messages that matched no job record.
func (p *Pipeline) OrphanResult() {
	if p == nil {
		return
	}
	p.client.Increment("reconciler.orphan")
}

// NotificationResult counts notification outcomes.
func (p *Pipeline) NotificationResult(ok bool) {
	if p == nil {
		return
	}
	if ok {
		p.client.Increment("notify.sent")
		return
	}
	p.client.Increment("notify.failed")
}
