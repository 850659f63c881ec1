package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/generator"
	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// DefaultGenerationTimeout bounds a single provider call.
const DefaultGenerationTimeout = 300 * time.Second

// staleClaimGrace is added to an operation deadline to decide that a
// claim holder has died.
const staleClaimGrace = time.Minute

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("pipeline: invalid event")

// ModalityHandler generates one track (video or audio) for a job.
// The video and audio handlers differ only in their modality.
type ModalityHandler struct {
	modality   job.Modality
	store      job.Store
	generator  generator.Generator
	publisher  event.Publisher
	timeout    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// HandlerOption configures a ModalityHandler.
type HandlerOption func(*ModalityHandler)

// WithGenerationTimeout sets the provider call deadline.
func WithGenerationTimeout(d time.Duration) HandlerOption {
	return func(h *ModalityHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithStaleClaimAfter sets how long a track claim may sit unchanged before
// a redelivered request takes it over. It defaults to the generation
// timeout plus a minute.
func WithStaleClaimAfter(d time.Duration) HandlerOption {
	return func(h *ModalityHandler) {
		if d > 0 {
			h.staleAfter = d
		}
	}
}

// NewModalityHandler creates a handler for modality m.
func NewModalityHandler(m job.Modality, store job.Store, gen generator.Generator, publisher event.Publisher, logger *slog.Logger, opts ...HandlerOption) *ModalityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &ModalityHandler{
		modality:  m,
		store:     store,
		generator: gen,
		publisher: publisher,
		timeout:   DefaultGenerationTimeout,
		logger:    logger.With(slog.String("modality", string(m))),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.staleAfter == 0 {
		h.staleAfter = h.timeout + staleClaimGrace
	}
	return h
}

// Handle decodes a generation request envelope and processes it.
func (h *ModalityHandler) Handle(ctx context.Context, env event.Envelope) error {
	var req event.GenerationRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	return h.Process(ctx, req)
}

// Process generates the track for req. Provider failures are recorded on
// the job and announced, never returned. Requests for unknown jobs are
// dropped. Store errors on the success path release the claim and are
// returned so the request is redelivered.
func (h *ModalityHandler) Process(ctx context.Context, req event.GenerationRequest) error {
	if req.JobID == "" || req.Model == "" {
		return fmt.Errorf("%w: jobId and model are required", ErrInvalidEvent)
	}
	log := h.logger.With(slog.String("job_id", req.JobID), slog.String("model", req.Model))

	j, err := h.store.Get(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			log.Warn("job not found, dropping request")
			return nil
		}
		return fmt.Errorf("load job %s: %w", req.JobID, err)
	}
	if j.IsTerminal() {
		log.Info("job already finalized, skipping", slog.String("status", string(j.Status)))
		return nil
	}
	if h.modality == job.ModalityAudio && !j.WantsAudio {
		log.Warn("audio request for a job without audio, skipping")
		return nil
	}

	// A redelivered request for a finished track re-announces it without
	// calling the provider again.
	if status, url := j.Track(h.modality); status == job.TrackCompleted && url != "" {
		log.Info("track already rendered, re-announcing")
		return h.announce(ctx, j, req.Model, url)
	}

	claimed, err := h.claim(ctx, j, log)
	if err != nil || !claimed {
		return err
	}

	// Writes after the claim must land even if the delivery is cancelled,
	// or the track stays PROCESSING until the claim goes stale.
	writeCtx := context.WithoutCancel(ctx)

	genCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	out, err := h.generator.Generate(genCtx, generator.Request{Model: req.Model, Parameters: req.Parameters})
	if err != nil {
		if ctx.Err() != nil {
			h.release(writeCtx, j.ID, log)
			return fmt.Errorf("generate %s: %w", h.modality, err)
		}
		h.fail(writeCtx, j, req.Model, err)
		return nil
	}
	log.Info("track rendered",
		slog.String("url", out.URL),
		slog.String("shape", out.Shape),
		slog.Duration("elapsed", time.Since(start)),
	)

	patch := job.CompleteTrack(h.modality, out.URL)
	if h.modality == job.ModalityVideo && !j.WantsAudio {
		patch = job.CompleteVideoOnly(out.URL)
	}
	if err := h.store.Update(writeCtx, j.ID, patch); err != nil {
		if errors.Is(err, job.ErrPreconditionFailed) {
			log.Warn("job changed during generation, dropping result")
			return nil
		}
		h.release(writeCtx, j.ID, log)
		return fmt.Errorf("record %s result: %w", h.modality, err)
	}

	return h.announce(ctx, j, req.Model, out.URL)
}

// claim takes the job's track. A PROCESSING track whose holder has not
// written for staleAfter is taken over.
func (h *ModalityHandler) claim(ctx context.Context, j *job.Job, log *slog.Logger) (bool, error) {
	err := h.store.Update(ctx, j.ID, job.ClaimTrack(h.modality))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, job.ErrPreconditionFailed) {
		return false, fmt.Errorf("claim %s track: %w", h.modality, err)
	}
	if status, _ := j.Track(h.modality); status != job.TrackProcessing {
		log.Info("track already claimed, skipping")
		return false, nil
	}

	err = h.store.Update(ctx, j.ID, job.ReclaimTrack(h.modality, time.Now().Add(-h.staleAfter)))
	switch {
	case err == nil:
		log.Warn("took over stale track claim", slog.Time("last_update", j.UpdatedAt))
		return true, nil
	case errors.Is(err, job.ErrPreconditionFailed):
		log.Info("track already claimed, skipping")
		return false, nil
	default:
		return false, fmt.Errorf("reclaim %s track: %w", h.modality, err)
	}
}

// release hands the claimed track back to PENDING. A failed release is
// recovered later by the stale-claim takeover.
func (h *ModalityHandler) release(ctx context.Context, id string, log *slog.Logger) {
	if err := h.store.Update(ctx, id, job.ReleaseTrack(h.modality)); err != nil {
		log.Warn("failed to release track claim", slog.String("error", err.Error()))
	}
}

func (h *ModalityHandler) announce(ctx context.Context, j *job.Job, model, url string) error {
	detail := event.Rendered{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		URL:       url,
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, h.publisher, h.source(), renderedType(h.modality), detail); err != nil {
		return fmt.Errorf("emit %s rendered: %w", h.modality, err)
	}
	return nil
}

// fail records a provider failure. Both writes are best-effort so the
// provider error stays the one that is reported.
func (h *ModalityHandler) fail(ctx context.Context, j *job.Job, model string, cause error) {
	log := h.logger.With(slog.String("job_id", j.ID), slog.String("model", model))
	log.Error("generation failed", slog.String("error", cause.Error()))

	if err := h.store.Update(ctx, j.ID, job.FailTrack(h.modality, cause.Error())); err != nil {
		log.Warn("failed to record generation failure", slog.String("error", err.Error()))
	}

	detail := event.Failed{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		Error:     cause.Error(),
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, h.publisher, h.source(), failedType(h.modality), detail); err != nil {
		log.Warn("failed to emit failure event", slog.String("error", err.Error()))
	}
}

func (h *ModalityHandler) source() string {
	if h.modality == job.ModalityAudio {
		return event.SourceAudioHandler
	}
	return event.SourceVideoHandler
}

func renderedType(m job.Modality) event.Type {
	if m == job.ModalityAudio {
		return event.AudioRendered
	}
	return event.VideoRendered
}

func failedType(m job.Modality) event.Type {
	if m == job.ModalityAudio {
		return event.AudioFailed
	}
	return event.VideoFailed
}

// RequestType returns the generation request event consumed by modality m.
func RequestType(m job.Modality) event.Type {
	if m == job.ModalityAudio {
		return event.AudioJobSubmitted
	}
	return event.VideoJobSubmitted
}
