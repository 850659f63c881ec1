package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// DefaultCombineTimeout bounds a single combine operation.
const DefaultCombineTimeout = 120 * time.Second

// MediaCombiner merges a video and an audio track and returns the URL of
// the result.
type MediaCombiner interface {
	Combine(ctx context.Context, jobID, videoURL, audioURL string) (string, error)
}

// Combiner is the single finalizer of audio jobs. It completes the job
// with a combined video, with separate tracks when the merge fails, or
// with video alone when the audio track failed.
type Combiner struct {
	store      job.Store
	media      MediaCombiner
	publisher  event.Publisher
	timeout    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// CombinerOption configures a Combiner.
type CombinerOption func(*Combiner)

// WithCombineTimeout sets the combine operation deadline.
func WithCombineTimeout(d time.Duration) CombinerOption {
	return func(c *Combiner) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStaleCombineAfter sets how long a COMBINING claim may sit unchanged
// before a redelivered ready event takes it over. It defaults to the
// combine timeout plus a minute.
func WithStaleCombineAfter(d time.Duration) CombinerOption {
	return func(c *Combiner) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// NewCombiner creates a Combiner.
func NewCombiner(store job.Store, media MediaCombiner, publisher event.Publisher, logger *slog.Logger, opts ...CombinerOption) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Combiner{
		store:     store,
		media:     media,
		publisher: publisher,
		timeout:   DefaultCombineTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staleAfter == 0 {
		c.staleAfter = c.timeout + staleClaimGrace
	}
	return c
}

// Handle dispatches ready events.
func (c *Combiner) Handle(ctx context.Context, env event.Envelope) error {
	switch env.Type {
	case event.VideoAudioReady:
		var r event.Ready
		if err := env.Decode(&r); err != nil {
			return err
		}
		return c.Combine(ctx, r)
	case event.VideoOnlyReady:
		var v event.VideoOnly
		if err := env.Decode(&v); err != nil {
			return err
		}
		return c.FinishVideoOnly(ctx, v)
	default:
		return nil
	}
}

// Combine claims the job's combination step and finalizes it. A
// duplicate ready event loses the claim and does nothing. When the final
// write fails the claim is released and the error returned, so the
// redelivered event combines again.
func (c *Combiner) Combine(ctx context.Context, r event.Ready) error {
	if r.JobID == "" || r.VideoURL == "" || r.AudioURL == "" {
		return fmt.Errorf("%w: jobId, videoUrl and audioUrl are required", ErrInvalidEvent)
	}
	log := c.logger.With(slog.String("job_id", r.JobID))

	claimed, err := c.claim(ctx, r.JobID, log)
	if err != nil || !claimed {
		return err
	}

	writeCtx := context.WithoutCancel(ctx)

	combineCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	url, err := c.media.Combine(combineCtx, r.JobID, r.VideoURL, r.AudioURL)
	if err != nil {
		if ctx.Err() != nil {
			c.release(writeCtx, r.JobID, log)
			return fmt.Errorf("combine tracks: %w", err)
		}
		return c.separate(ctx, r, err)
	}
	log.Info("tracks combined", slog.String("url", url), slog.Duration("elapsed", time.Since(start)))

	if err := c.store.Update(writeCtx, r.JobID, job.FinishCombined(url)); err != nil {
		if errors.Is(err, job.ErrPreconditionFailed) {
			log.Warn("combination taken over, dropping result")
			return nil
		}
		c.release(writeCtx, r.JobID, log)
		return fmt.Errorf("record combined result: %w", err)
	}

	detail := event.Combined{
		JobID:            r.JobID,
		OwnerID:          r.OwnerID,
		CombinedURL:      url,
		OriginalVideoURL: r.VideoURL,
		OriginalAudioURL: r.AudioURL,
		Timestamp:        time.Now().UTC(),
	}
	if err := event.Emit(ctx, c.publisher, event.SourceCombiner, event.CombinedVideoReady, detail); err != nil {
		return fmt.Errorf("emit combined: %w", err)
	}
	return nil
}

// separate completes the job with both tracks delivered separately.
func (c *Combiner) separate(ctx context.Context, r event.Ready, cause error) error {
	log := c.logger.With(slog.String("job_id", r.JobID))
	log.Warn("combine failed, delivering separate tracks", slog.String("error", cause.Error()))

	writeCtx := context.WithoutCancel(ctx)
	if err := c.store.Update(writeCtx, r.JobID, job.FinishSeparate(cause.Error())); err != nil {
		if errors.Is(err, job.ErrPreconditionFailed) {
			log.Warn("combination taken over, dropping result")
			return nil
		}
		c.release(writeCtx, r.JobID, log)
		return fmt.Errorf("record separate tracks: %w", err)
	}

	detail := event.Separate{
		JobID:     r.JobID,
		OwnerID:   r.OwnerID,
		VideoURL:  r.VideoURL,
		AudioURL:  r.AudioURL,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, c.publisher, event.SourceCombiner, event.VideoAudioSeparate, detail); err != nil {
		log.Warn("failed to emit separate tracks event", slog.String("error", err.Error()))
	}
	return nil
}

// claim takes the combination step. A COMBINING job whose holder has not
// written for staleAfter is taken over. Unknown jobs are dropped.
func (c *Combiner) claim(ctx context.Context, id string, log *slog.Logger) (bool, error) {
	err := c.store.Update(ctx, id, job.ClaimCombination())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, job.ErrJobNotFound):
		log.Warn("job not found, dropping ready event")
		return false, nil
	case !errors.Is(err, job.ErrPreconditionFailed):
		return false, fmt.Errorf("claim combination: %w", err)
	}

	err = c.store.Update(ctx, id, job.ReclaimCombination(time.Now().Add(-c.staleAfter)))
	switch {
	case err == nil:
		log.Warn("took over stale combination claim")
		return true, nil
	case errors.Is(err, job.ErrPreconditionFailed), errors.Is(err, job.ErrJobNotFound):
		log.Info("combination already claimed, skipping duplicate ready event")
		return false, nil
	default:
		return false, fmt.Errorf("reclaim combination: %w", err)
	}
}

func (c *Combiner) release(ctx context.Context, id string, log *slog.Logger) {
	if err := c.store.Update(ctx, id, job.ReleaseCombination()); err != nil {
		log.Warn("failed to release combination claim", slog.String("error", err.Error()))
	}
}

// FinishVideoOnly completes an audio job whose audio track failed.
func (c *Combiner) FinishVideoOnly(ctx context.Context, v event.VideoOnly) error {
	if v.JobID == "" {
		return fmt.Errorf("%w: missing jobId", ErrInvalidEvent)
	}
	reason := v.Error
	if reason == "" {
		reason = "audio generation failed"
	}

	if err := c.store.Update(ctx, v.JobID, job.FinishVideoOnly(reason)); err != nil {
		if errors.Is(err, job.ErrPreconditionFailed) {
			c.logger.Info("job already finalized, skipping video-only finish", slog.String("job_id", v.JobID))
			return nil
		}
		if errors.Is(err, job.ErrJobNotFound) {
			c.logger.Warn("job not found, dropping video-only event", slog.String("job_id", v.JobID))
			return nil
		}
		return fmt.Errorf("record video only: %w", err)
	}
	c.logger.Info("job completed without audio", slog.String("job_id", v.JobID))

	detail := event.Separate{
		JobID:     v.JobID,
		OwnerID:   v.OwnerID,
		VideoURL:  v.VideoURL,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, c.publisher, event.SourceCombiner, event.VideoAudioSeparate, detail); err != nil {
		return fmt.Errorf("emit separate tracks: %w", err)
	}
	return nil
}
