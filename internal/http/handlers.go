package http

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/csvrows"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
	"github.com/imagemill/imagemill/internal/observability/metrics"
	"github.com/imagemill/imagemill/internal/service"
)

// HandlerOptions configure the HTTP handlers.
type HandlerOptions struct {
	Submit *service.SubmitService
	Status *service.StatusService
	Store  core.ObjectStore
	// MaxUploadBytes bounds CSV upload size; defaults to 10 MiB.
	MaxUploadBytes int64
	Logger         *slog.Logger
	Metrics        *metrics.Pipeline
}

// Handlers holds the HTTP endpoint implementations.
type Handlers struct {
	submit         *service.SubmitService
	status         *service.StatusService
	store          core.ObjectStore
	maxUploadBytes int64
	logger         *slog.Logger
	metrics        *metrics.Pipeline
}

// NewHandlers creates the endpoint set.
func NewHandlers(opts HandlerOptions) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{
		submit:         opts.Submit,
		status:         opts.Status,
		store:          opts.Store,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// SubmitResponse is the body returned for accepted batches.
type SubmitResponse struct {
	JobIDs []string `json:"job_ids"`
}

// SubmitJobs accepts a JSON batch: {"job_type","webhook","input_reference","rows":[...]}.
func (h *Handlers) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitBatchRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	ids, err := h.submit.SubmitBatch(r.Context(), &req)
	if err != nil {
		WriteError(w, err)
		return
	}
	for range ids {
		h.metrics.JobSubmitted(req.Type)
	}
	WriteJSON(w, http.StatusAccepted, SubmitResponse{JobIDs: ids})
}

// SubmitCSV accepts a raw CSV body. Job type and webhook come from query
// parameters; the document is stored first so the input reference points at
// the exact uploaded bytes.
func (h *Handlers) SubmitCSV(w http.ResponseWriter, r *http.Request) {
	var jobType model.JobType
	if err := jobType.UnmarshalText([]byte(r.URL.Query().Get("job_type"))); err != nil {
		WriteError(w, imerrors.Wrap(err, imerrors.ErrCodeValidation, "invalid job_type parameter"))
		return
	}
	webhook := strings.TrimSpace(r.URL.Query().Get("webhook"))
	if webhook == "" {
		WriteError(w, imerrors.Validation("webhook parameter is required"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxUploadBytes+1))
	if err != nil {
		WriteError(w, imerrors.Wrap(err, imerrors.ErrCodeValidation, "read upload body"))
		return
	}
	if int64(len(body)) > h.maxUploadBytes {
		WriteError(w, imerrors.Validationf("upload exceeds %d bytes", h.maxUploadBytes))
		return
	}

	ref, err := h.store.Put(r.Context(), "inputs/"+uuid.NewString(), body)
	if err != nil {
		WriteError(w, imerrors.Wrap(err, imerrors.ErrCodeStore, "store uploaded csv"))
		return
	}

	rows, err := csvrows.Parse(strings.NewReader(string(body)))
	if err != nil {
		WriteError(w, err)
		return
	}

	ids, err := h.submit.SubmitBatch(r.Context(), &model.SubmitBatchRequest{
		Type:           jobType,
		Rows:           rows,
		NotifyTarget:   webhook,
		InputReference: ref,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	for range ids {
		h.metrics.JobSubmitted(jobType)
	}
	WriteJSON(w, http.StatusAccepted, SubmitResponse{JobIDs: ids})
}

// GetJob returns the status snapshot for a job id.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		WriteError(w, imerrors.Validation("job id is required"))
		return
	}
	snap, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// GetStats returns per-state counts for a job type.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	var jobType model.JobType
	if err := jobType.UnmarshalText([]byte(r.URL.Query().Get("job_type"))); err != nil {
		WriteError(w, imerrors.Wrap(err, imerrors.ErrCodeValidation, "invalid job_type parameter"))
		return
	}
	stats, err := h.status.GetStats(r.Context(), jobType)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Health responds 200 for load balancer checks.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Routes mounts all endpoints on a new mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.SubmitJobs)
	mux.HandleFunc("POST /jobs/csv", h.SubmitCSV)
	mux.HandleFunc("GET /jobs/stats", h.GetStats)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}
