package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/fetch"
	pipehttp "contentpipe/internal/handler/http"
	"contentpipe/internal/handler/http/requestid"
	"contentpipe/internal/handler/http/respond"
	"contentpipe/internal/observability/tracing"
	"contentpipe/internal/queue"
	"contentpipe/internal/registry"
)

// inspectableQueues lists every queue GET /queues reports on, in the
// order spec.md §2's pipeline stages run plus the dead-letter sink.
var inspectableQueues = []entity.QueueName{
	entity.QueueFetch,
	entity.QueueNormalize,
	entity.QueueMedia,
	entity.QueueEnrichment,
	entity.QueueDeadLetter,
}

// newServer builds the admin API's *http.Server: request-id, tracing,
// structured logging, panic recovery, a per-request timeout, and
// input-size limits from internal/handler/http, plus a bearer token
// check scoped to this binary.
func newServer(cfg config.AdminConfig, store queue.Store, reg *registry.Registry, logger *slog.Logger) *http.Server {
	h := &adminHandlers{store: store, registry: reg, uploader: fetch.NewUploadAdapter(), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /sources", h.listSources)
	mux.HandleFunc("POST /sources", h.createSource)
	mux.HandleFunc("GET /sources/{id}", h.getSource)
	mux.HandleFunc("DELETE /sources/{id}", h.deleteSource)
	mux.HandleFunc("POST /sources/{id}/trigger", h.triggerSource)
	mux.HandleFunc("POST /uploads", h.createUpload)
	mux.HandleFunc("GET /queues", h.listQueueCounts)
	mux.HandleFunc("GET /queues/{name}", h.queueCounts)
	mux.HandleFunc("POST /dead-letter/redrive", h.redriveDeadLetter)

	var handler http.Handler = mux
	handler = pipehttp.Timeout(cfg.RequestTimeout)(handler)
	handler = pipehttp.InputValidation()(handler)
	handler = bearerAuth(cfg.BearerToken)(handler)
	handler = pipehttp.Recover(logger)(handler)
	handler = pipehttp.Metrics()(handler)
	handler = pipehttp.Logging(logger)(handler)
	handler = tracing.Middleware(handler)
	handler = requestid.Middleware(handler)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

// bearerAuth rejects requests missing "Authorization: Bearer <token>"
// when token is non-empty. An empty token (ADMIN_BEARER_TOKEN unset)
// disables the check, per internal/config.AdminConfig's documented
// development-only fallback. /health is always open so liveness probes
// don't need credentials.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" || got != token {
				respond.Error(w, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type adminHandlers struct {
	store    queue.Store
	registry *registry.Registry
	uploader *fetch.UploadAdapter
	logger   *slog.Logger
}

func (h *adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *adminHandlers) listSources(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.registry.List())
}

func (h *adminHandlers) createSource(w http.ResponseWriter, r *http.Request) {
	var s entity.SourceDescriptor
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respond.Error(w, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.Schedule(r.Context(), s); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, s)
}

func (h *adminHandlers) getSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.registry.Get(id)
	if !ok {
		respond.Error(w, http.StatusNotFound, entity.ErrNotFound)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

func (h *adminHandlers) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.registry.Get(id)
	if !ok {
		respond.Error(w, http.StatusNotFound, entity.ErrNotFound)
		return
	}
	if err := h.registry.Unschedule(r.Context(), id, s.Kind); err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandlers) triggerSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.registry.Get(id)
	if !ok {
		respond.Error(w, http.StatusNotFound, entity.ErrNotFound)
		return
	}
	jobID, err := h.registry.TriggerNow(r.Context(), s)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *adminHandlers) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrDisabled), errors.Is(err, registry.ErrNeverScheduled):
		respond.Error(w, http.StatusBadRequest, err)
	default:
		var ve *entity.ValidationError
		if errors.As(err, &ve) {
			respond.Error(w, http.StatusBadRequest, err)
			return
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
	}
}

func (h *adminHandlers) listQueueCounts(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.Counts, len(inspectableQueues))
	for _, q := range inspectableQueues {
		counts, err := h.store.Counts(r.Context(), q)
		if err != nil {
			respond.SafeError(w, http.StatusInternalServerError, err)
			return
		}
		out[string(q)] = counts
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *adminHandlers) queueCounts(w http.ResponseWriter, r *http.Request) {
	name := entity.QueueName(r.PathValue("name"))
	counts, err := h.store.Counts(r.Context(), name)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	respond.JSON(w, http.StatusOK, counts)
}

// uploadRequest is POST /uploads' body: one manually-submitted item,
// optionally attributed to a registered UPLOAD source.
type uploadRequest struct {
	SourceID string         `json:"source_id"`
	Item     entity.RawItem `json:"item"`
}

// createUpload accepts a manual upload and feeds it straight into the
// normalize queue. UPLOAD sources are never polled (spec.md §4.E), so
// this endpoint is the one entry point for that source kind: the item
// flows through the same normalize/media/enrichment pipeline as any
// fetched batch.
func (h *adminHandlers) createUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.Item.URL == "" && req.Item.Title == "" {
		respond.Error(w, http.StatusBadRequest, errors.New("upload item needs at least a url or a title"))
		return
	}
	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = "manual-upload"
	}

	result := h.uploader.Submit(req.Item)
	job := entity.NormalizeJob{
		SourceID:       sourceID,
		Kind:           entity.SourceKindUpload,
		RawItems:       result.Items,
		SourceSettings: entity.UploadSettings{},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	jobID, err := h.store.Enqueue(r.Context(), entity.QueueNormalize, payload, queue.EnqueueOptions{
		Priority:    2,
		AttemptsMax: 3,
		Backoff:     time.Second,
	})
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// redriveDeadLetterAttemptsMax and redriveDeadLetterBackoff are the
// retry budget a re-driven job gets, matching the defaults
// internal/fetch.Dispatcher's continuation re-enqueue already uses
// elsewhere in this codebase (a fresh, modest budget rather than
// reusing whatever the original attempt count happened to be).
const (
	redriveDeadLetterAttemptsMax = 3
	redriveDeadLetterBackoff     = time.Second
)

// redriveDeadLetterResponse reports what, if anything, was re-driven.
type redriveDeadLetterResponse struct {
	Redriven      bool             `json:"redriven"`
	OriginalQueue entity.QueueName `json:"original_queue,omitempty"`
	OriginalJobID string           `json:"original_job_id,omitempty"`
	NewJobID      string           `json:"new_job_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
}

// redriveDeadLetter pops the oldest waiting dead_letter entry (the
// dead-letter queue is itself ordinary queue.Store plumbing — spec.md
// §3 models DeadLetter as just another job envelope on queue
// "dead_letter") and re-enqueues its original payload onto its
// original queue, per spec.md §4.A: "The DLQ is never auto-drained;
// operators inspect and re-drive manually." One call re-drives at most
// one record; operators call it repeatedly (or script around it) to
// drain a backlog, matching spec.md's explicit "re-enqueueing the
// original payload" re-drive story.
func (h *adminHandlers) redriveDeadLetter(w http.ResponseWriter, r *http.Request) {
	env, err := h.store.Reserve(r.Context(), entity.QueueDeadLetter, "admin-redrive", 30*time.Second)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	if env == nil {
		respond.JSON(w, http.StatusOK, redriveDeadLetterResponse{Redriven: false})
		return
	}

	var dl entity.DeadLetter
	if err := json.Unmarshal(env.Payload, &dl); err != nil {
		_ = h.store.Fail(r.Context(), env.JobID, "redrive: undecodable dead-letter payload: "+err.Error())
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	newJobID, err := h.store.Enqueue(r.Context(), dl.OriginalQueue, dl.Payload, queue.EnqueueOptions{
		AttemptsMax: redriveDeadLetterAttemptsMax,
		Backoff:     redriveDeadLetterBackoff,
	})
	if err != nil {
		_ = h.store.Fail(r.Context(), env.JobID, "redrive: re-enqueue failed: "+err.Error())
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := h.store.Complete(r.Context(), env.JobID, nil); err != nil {
		h.logger.Warn("dead-letter redrive: failed to complete original dlq envelope",
			slog.String("dlq_job_id", env.JobID), slog.Any("error", err))
	}

	respond.JSON(w, http.StatusOK, redriveDeadLetterResponse{
		Redriven:      true,
		OriginalQueue: dl.OriginalQueue,
		OriginalJobID: dl.OriginalJobID,
		NewJobID:      newJobID,
		FailureReason: dl.FailureReason,
	})
}
