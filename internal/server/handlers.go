package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/contentcraft-pipeline/internal/auth"
	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/job"
	"github.com/maauso/contentcraft-pipeline/internal/pipeline"
)

// maxEventBody bounds inbound event batches.
const maxEventBody = 1 << 20

// Drainer runs one pass over the queue.
type Drainer interface {
	Drain(ctx context.Context) (pipeline.DrainResult, error)
}

// EventDeliverer dispatches an inbound event to its subscribers.
type EventDeliverer interface {
	Deliver(ctx context.Context, env event.Envelope) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service    *job.Service
	drainer    Drainer
	events     EventDeliverer
	authorizer auth.Authorizer
	validator  *validator.Validate
	logger     *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, drainer Drainer, events EventDeliverer, authorizer auth.Authorizer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:    service,
		drainer:    drainer,
		events:     events,
		authorizer: authorizer,
		validator:  validator.New(),
		logger:     logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SubmitJob handles POST /jobs requests.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.PrincipalFrom(r.Context())

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	input := job.SubmitInput{
		OwnerID:    owner,
		Prompt:     req.Prompt,
		Seconds:    req.Seconds,
		Resolution: req.Resolution,
		Tier:       req.Tier,
	}
	if req.Feature != nil {
		input.WantsAudio = req.Feature.Audio
		input.AudioTier = req.Feature.AudioTier
	}

	created, err := h.service.Submit(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to submit job",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit job", "JOB_SUBMIT_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, SubmitJobResponse{
		JobID:  created.ID,
		Status: string(created.Status),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	if found.OwnerID != principal && !h.authorizer.IsAuthorized(principal) {
		writeError(w, http.StatusForbidden, "access denied", "FORBIDDEN")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /jobs requests for the caller's own jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.pageQuery(w, r)
	if !ok {
		return
	}
	owner, _ := auth.PrincipalFrom(r.Context())

	res, err := h.service.List(r.Context(), owner, q.Page, q.PageSize)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(res))
}

// AdminListJobs handles GET /admin/jobs: every owner's jobs plus stats.
func (h *Handlers) AdminListJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.pageQuery(w, r)
	if !ok {
		return
	}
	if q.PageSize == 0 {
		q.PageSize = 100
	}

	res, err := h.service.List(r.Context(), "", q.Page, q.PageSize)
	if err != nil {
		h.logger.Error("failed to list all jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}
	ov, err := h.service.Overview(r.Context())
	if err != nil {
		h.logger.Error("failed to compute job stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, AdminJobsResponse{
		ListJobsResponse: toListResponse(res),
		Stats:            toOverviewResponse(ov),
	})
}

// Overview handles GET /admin/overview requests.
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.Overview(r.Context())
	if err != nil {
		h.logger.Error("failed to compute overview", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute overview", "OVERVIEW_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toOverviewResponse(ov))
}

// Drain handles POST /admin/drain: one drainer pass on demand.
func (h *Handlers) Drain(w http.ResponseWriter, r *http.Request) {
	res, err := h.drainer.Drain(r.Context())
	if err != nil {
		h.logger.Error("manual drain failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "drain failed", "DRAIN_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// IngestEvents handles POST /events. The body is a single envelope or a
// {"Records": [...]} batch whose records are envelopes or carry one in
// a "body" string. Any delivery failure answers 500 so the upstream
// transport redelivers.
func (h *Handlers) IngestEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_BODY")
		return
	}

	envs, err := decodeEnvelopes(raw)
	if err != nil {
		h.logger.Warn("rejected inbound event", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_EVENT")
		return
	}

	var resp IngestResponse
	for _, env := range envs {
		if err := h.events.Deliver(r.Context(), env); err != nil {
			h.logger.Error("event delivery failed",
				slog.String("event_type", string(env.Type)),
				slog.String("source", env.Source),
				slog.String("error", err.Error()),
			)
			resp.Failed++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Delivered++
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func decodeEnvelopes(raw []byte) ([]event.Envelope, error) {
	var batch struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if batch.Records == nil {
		env, err := decodeEnvelope(raw)
		if err != nil {
			return nil, err
		}
		return []event.Envelope{env}, nil
	}

	envs := make([]event.Envelope, 0, len(batch.Records))
	for i, rec := range batch.Records {
		var wrapped struct {
			Body string `json:"body"`
		}
		if err := json.Unmarshal(rec, &wrapped); err == nil && wrapped.Body != "" {
			rec = json.RawMessage(wrapped.Body)
		}
		env, err := decodeEnvelope(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func decodeEnvelope(raw []byte) (event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return event.Envelope{}, fmt.Errorf("%w: %w", event.ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return event.Envelope{}, err
	}
	return env, nil
}

func (h *Handlers) pageQuery(w http.ResponseWriter, r *http.Request) (PageQuery, bool) {
	var q PageQuery
	for name, dst := range map[string]*int{"page": &q.Page, "pageSize": &q.PageSize} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an integer", "VALIDATION_ERROR")
			return PageQuery{}, false
		}
		*dst = n
	}
	if err := h.validator.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return PageQuery{}, false
	}
	return q, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
