package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the submission/status HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReconciler runs the result reconciler.
	ServiceModeReconciler ServiceMode = "reconciler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReconciler}
}

// ParseServices parses a comma-delimited string of service names and returns the
// enabled services. It validates that all service names are valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReconciler:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reconciler)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// QueueConfig contains settings shared by queue producers and consumers.
type QueueConfig struct {
	// WorkStream is the Redis stream carrying work messages.
	WorkStream string `env:"QUEUE_WORK_STREAM" envDefault:"imagemill:work"`

	// ResultStream is the Redis stream carrying result messages.
	ResultStream string `env:"QUEUE_RESULT_STREAM" envDefault:"imagemill:results"`

	// Block is how long a consumer blocks waiting for new entries per read.
	Block time.Duration `env:"QUEUE_BLOCK" envDefault:"5s"`

	// RedeliverAfter is the idle time after which an unacknowledged delivery
	// is claimed by another consumer. This is the broker redelivery timeout
	// from the consumer's point of view.
	RedeliverAfter time.Duration `env:"QUEUE_REDELIVER_AFTER" envDefault:"30s"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if strings.TrimSpace(q.WorkStream) == "" {
		q.WorkStream = "imagemill:work"
	}
	if strings.TrimSpace(q.ResultStream) == "" {
		q.ResultStream = "imagemill:results"
	}
	if q.Block < time.Second {
		q.Block = time.Second
	}
	if q.RedeliverAfter < 5*time.Second {
		q.RedeliverAfter = 5 * time.Second
	}
}

// WorkerConfig contains job worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// MaxAttempts bounds internal retries for transient transformation
	// errors before the worker surfaces a failed result.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`

	// EmitProcessing controls whether the worker emits a non-terminal
	// processing result when it picks up a job.
	EmitProcessing bool `env:"WORKER_EMIT_PROCESSING" envDefault:"true"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.MaxAttempts > 10 {
		w.MaxAttempts = 10
	}
}

// ReconcilerConfig contains result reconciler service configuration.
type ReconcilerConfig struct {
	// Concurrency is the number of reconciler goroutines.
	Concurrency int `env:"RECONCILER_CONCURRENCY" envDefault:"1"`

	// OrphanRetryDelay is how long to wait before the single orphan-result
	// lookup retry.
	OrphanRetryDelay time.Duration `env:"RECONCILER_ORPHAN_RETRY_DELAY" envDefault:"500ms"`

	// NotifyMaxAttempts caps outbound notification attempts per terminal record.
	NotifyMaxAttempts int `env:"RECONCILER_NOTIFY_MAX_ATTEMPTS" envDefault:"5"`

	// NotifyBackoff is the base delay for exponential notification backoff.
	NotifyBackoff time.Duration `env:"RECONCILER_NOTIFY_BACKOFF" envDefault:"1s"`
}

// Sanitize applies guardrails to reconciler configuration values.
func (r *ReconcilerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.OrphanRetryDelay <= 0 {
		r.OrphanRetryDelay = 500 * time.Millisecond
	}
	if r.NotifyMaxAttempts < 1 {
		r.NotifyMaxAttempts = 1
	}
	if r.NotifyMaxAttempts > 10 {
		r.NotifyMaxAttempts = 10
	}
	if r.NotifyBackoff <= 0 {
		r.NotifyBackoff = time.Second
	}
}
