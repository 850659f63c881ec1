// Package pipeline implements the job processing stages: the queue
// drainer, the per-modality generation handlers, the orchestrator that
// decides when both tracks are ready, and the combiner that finalizes
// audio jobs. Stages communicate only through the job store and events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/job"
	"github.com/maauso/contentcraft-pipeline/internal/tier"
)

// DefaultBatchSize is the number of QUEUED jobs taken per drain pass.
const DefaultBatchSize = 20

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	// Skipped counts jobs another drain pass claimed first.
	Skipped int `json:"skipped"`
}

// Drainer moves QUEUED jobs to PROCESSING and emits their generation
// requests.
type Drainer struct {
	store     job.Store
	publisher event.Publisher
	catalog   *tier.Catalog
	batchSize int
	logger    *slog.Logger
}

// DrainerOption configures a Drainer.
type DrainerOption func(*Drainer)

// WithBatchSize sets how many jobs a pass takes.
func WithBatchSize(n int) DrainerOption {
	return func(d *Drainer) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// NewDrainer creates a Drainer.
func NewDrainer(store job.Store, publisher event.Publisher, catalog *tier.Catalog, logger *slog.Logger, opts ...DrainerOption) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = tier.Default()
	}
	d := &Drainer{
		store:     store,
		publisher: publisher,
		catalog:   catalog,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drain runs one pass. A failure on one job marks that job FAILED and
// the pass continues; only a failed scan aborts it.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	page, err := d.store.Scan(ctx, job.ScanFilter{Status: job.StatusQueued}, d.batchSize, "")
	if err != nil {
		return DrainResult{}, fmt.Errorf("scan queued jobs: %w", err)
	}

	res := DrainResult{Found: len(page.Jobs)}
	for _, j := range page.Jobs {
		err := d.start(ctx, j)
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, job.ErrPreconditionFailed):
			res.Skipped++
			d.logger.Debug("job already claimed", slog.String("job_id", j.ID))
		default:
			res.Failed++
			d.logger.Error("failed to start job",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
			if ferr := d.store.Update(ctx, j.ID, job.FailJob(err.Error())); ferr != nil {
				d.logger.Warn("failed to mark job failed",
					slog.String("job_id", j.ID),
					slog.String("error", ferr.Error()),
				)
			}
		}
	}

	if res.Found > 0 {
		d.logger.Info("drain pass finished",
			slog.Int("found", res.Found),
			slog.Int("processed", res.Processed),
			slog.Int("failed", res.Failed),
			slog.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

// start claims j and emits one request per track.
func (d *Drainer) start(ctx context.Context, j *job.Job) error {
	if err := d.store.Update(ctx, j.ID, job.StartProcessing()); err != nil {
		return err
	}

	now := time.Now().UTC()
	video := event.GenerationRequest{
		JobID:      j.ID,
		OwnerID:    j.OwnerID,
		Provider:   event.ProviderFal,
		Model:      d.catalog.VideoModel(j.Tier),
		Parameters: VideoParameters(j),
		Timestamp:  now,
	}
	if err := event.Emit(ctx, d.publisher, event.SourceDrainer, event.VideoJobSubmitted, video); err != nil {
		return fmt.Errorf("emit video request: %w", err)
	}

	if !j.WantsAudio {
		return nil
	}
	audio := event.GenerationRequest{
		JobID:      j.ID,
		OwnerID:    j.OwnerID,
		Provider:   event.ProviderFal,
		Model:      d.catalog.AudioModel(j.AudioTier),
		Parameters: AudioParameters(j),
		Timestamp:  now,
	}
	if err := event.Emit(ctx, d.publisher, event.SourceDrainer, event.AudioJobSubmitted, audio); err != nil {
		return fmt.Errorf("emit audio request: %w", err)
	}
	return nil
}
