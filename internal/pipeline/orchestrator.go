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

// Orchestrator decides, from the stored job and an incoming track event,
// whether an audio job is ready to combine. It never writes to the store.
//
// Both track events run the same check from opposite sides, so whichever
// arrives last triggers the ready event. When both race past the check
// the combiner's claim drops the duplicate.
type Orchestrator struct {
	store     job.Store
	publisher event.Publisher
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store job.Store, publisher event.Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, publisher: publisher, logger: logger}
}

// Handle dispatches on the event type.
func (o *Orchestrator) Handle(ctx context.Context, env event.Envelope) error {
	switch env.Type {
	case event.VideoRendered, event.AudioRendered:
		var r event.Rendered
		if err := env.Decode(&r); err != nil {
			return err
		}
		return o.onRendered(ctx, env.Type, r)
	case event.AudioFailed:
		var f event.Failed
		if err := env.Decode(&f); err != nil {
			return err
		}
		return o.onAudioFailed(ctx, f)
	case event.VideoFailed:
		var f event.Failed
		if err := env.Decode(&f); err != nil {
			return err
		}
		o.logger.Info("video generation failed",
			slog.String("job_id", f.JobID),
			slog.String("error", f.Error),
		)
		return nil
	case event.CombinedVideoReady, event.VideoAudioSeparate:
		o.logger.Info("job finalized", slog.String("type", string(env.Type)), slog.String("source", env.Source))
		return nil
	default:
		o.logger.Debug("ignoring event", slog.String("type", string(env.Type)))
		return nil
	}
}

func (o *Orchestrator) onRendered(ctx context.Context, t event.Type, r event.Rendered) error {
	if r.JobID == "" {
		return fmt.Errorf("%w: missing jobId", ErrInvalidEvent)
	}
	j, err := o.load(ctx, r.JobID)
	if err != nil || j == nil {
		return err
	}
	log := o.logger.With(slog.String("job_id", j.ID), slog.String("event", string(t)))

	if !j.WantsAudio {
		log.Debug("video-only job, finalized by the video handler")
		return nil
	}
	if j.IsTerminal() {
		log.Debug("job already terminal", slog.String("status", string(j.Status)))
		return nil
	}

	videoURL, audioURL := j.VideoURL, j.AudioURL
	other := job.ModalityAudio
	if t == event.AudioRendered {
		other = job.ModalityVideo
		audioURL = r.URL
	} else {
		videoURL = r.URL
	}

	if t == event.VideoRendered && j.AudioStatus == job.TrackFailed {
		return o.emitVideoOnly(ctx, j, videoURL, j.ErrorMessage)
	}
	if !j.TrackReady(other) {
		log.Debug("waiting for the other track", slog.String("waiting_for", string(other)))
		return nil
	}

	log.Info("both tracks ready")
	ready := event.Ready{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		VideoURL:  videoURL,
		AudioURL:  audioURL,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, o.publisher, event.SourceOrchestrator, event.VideoAudioReady, ready); err != nil {
		return fmt.Errorf("emit ready: %w", err)
	}
	return nil
}

// onAudioFailed finishes the job with video alone once the video exists.
// If the video is still rendering, its rendered event sees the failed
// audio and takes this path instead.
func (o *Orchestrator) onAudioFailed(ctx context.Context, f event.Failed) error {
	if f.JobID == "" {
		return fmt.Errorf("%w: missing jobId", ErrInvalidEvent)
	}
	j, err := o.load(ctx, f.JobID)
	if err != nil || j == nil {
		return err
	}
	if j.IsTerminal() || !j.TrackReady(job.ModalityVideo) {
		return nil
	}
	return o.emitVideoOnly(ctx, j, j.VideoURL, f.Error)
}

// load reads the job, returning nil for a job that no longer exists so
// its events are dropped instead of redelivered.
func (o *Orchestrator) load(ctx context.Context, id string) (*job.Job, error) {
	j, err := o.store.Get(ctx, id)
	if errors.Is(err, job.ErrJobNotFound) {
		o.logger.Warn("job not found, dropping event", slog.String("job_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return j, nil
}

func (o *Orchestrator) emitVideoOnly(ctx context.Context, j *job.Job, videoURL, reason string) error {
	o.logger.Info("audio failed, finishing with video only", slog.String("job_id", j.ID))
	detail := event.VideoOnly{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		VideoURL:  videoURL,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Emit(ctx, o.publisher, event.SourceOrchestrator, event.VideoOnlyReady, detail); err != nil {
		return fmt.Errorf("emit video only: %w", err)
	}
	return nil
}
