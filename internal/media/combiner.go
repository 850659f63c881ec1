package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/contentcraft-pipeline/internal/storage"
)

// ErrCombineFailed wraps every failure of the combine operation.
var ErrCombineFailed = errors.New("media: combine failed")

// CombinedContentType is the content type of published combined videos.
const CombinedContentType = "video/mp4"

// Combiner downloads both tracks, muxes them, and publishes the result.
type Combiner struct {
	processor  Processor
	downloader Downloader
	storage    storage.Storage
	logger     *slog.Logger
}

// NewCombiner creates a Combiner.
func NewCombiner(processor Processor, downloader Downloader, store storage.Storage, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{
		processor:  processor,
		downloader: downloader,
		storage:    store,
		logger:     logger,
	}
}

// CombinedKey returns the storage key of a job's combined video.
func CombinedKey(jobID string) string {
	return fmt.Sprintf("videos/%s/combined.mp4", jobID)
}

// Combine merges the tracks at videoURL and audioURL and returns the URL
// of the published result. Errors wrap ErrCombineFailed.
func (c *Combiner) Combine(ctx context.Context, jobID, videoURL, audioURL string) (string, error) {
	var videoPath, audioPath string
	temps := make([]string, 0, 3)
	defer func() {
		// Cleanup must run even when ctx expired.
		if err := c.storage.CleanupTemp(context.WithoutCancel(ctx), temps); err != nil {
			c.logger.Warn("failed to cleanup combine temp files",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.fetch(gctx, jobID+"_video", videoURL)
		videoPath = p
		return err
	})
	g.Go(func() error {
		p, err := c.fetch(gctx, jobID+"_audio", audioURL)
		audioPath = p
		return err
	})
	err := g.Wait()
	for _, p := range []string{videoPath, audioPath} {
		if p != "" {
			temps = append(temps, p)
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCombineFailed, err)
	}

	output := filepath.Join(c.storage.TempDir(), jobID+"_combined.mp4")
	temps = append(temps, output)

	c.logger.Debug("muxing tracks",
		slog.String("job_id", jobID),
		slog.String("video", videoPath),
		slog.String("audio", audioPath),
	)
	if err := c.processor.MuxAudio(ctx, videoPath, audioPath, output); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCombineFailed, err)
	}

	f, err := c.storage.LoadTemp(ctx, output)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCombineFailed, err)
	}
	defer func() { _ = f.Close() }()

	url, err := c.storage.Upload(ctx, CombinedKey(jobID), f, CombinedContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCombineFailed, err)
	}
	return url, nil
}

// fetch downloads url into a temporary file and returns its path.
func (c *Combiner) fetch(ctx context.Context, name, url string) (string, error) {
	body, err := c.downloader.Open(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	path, err := c.storage.SaveTemp(ctx, name, body)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}
