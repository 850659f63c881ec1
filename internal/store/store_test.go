package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

func newJob(id, owner string, wantsAudio bool) *job.Job {
	return job.NewWithID(id, owner, job.Request{
		Prompt:          "a cat surfing",
		DurationSeconds: 5,
		Resolution:      "720p",
		Tier:            "fast",
		WantsAudio:      wantsAudio,
		AudioTier:       "fast",
	})
}

// runStoreSuite exercises the job.Store contract against s.
func runStoreSuite(t *testing.T, s job.Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		j := newJob("put-1", "user-1", true)
		require.NoError(t, s.Put(ctx, j))

		got, err := s.Get(ctx, "put-1")
		require.NoError(t, err)
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, j.OwnerID, got.OwnerID)
		assert.Equal(t, j.Prompt, got.Prompt)
		assert.Equal(t, j.DurationSeconds, got.DurationSeconds)
		assert.True(t, got.WantsAudio)
		assert.Equal(t, job.StatusQueued, got.Status)
		assert.Equal(t, job.TrackPending, got.VideoStatus)
		assert.Equal(t, job.TrackPending, got.AudioStatus)
		assert.Equal(t, job.CombinationNone, got.CombinationStatus)
		assert.Equal(t, j.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
		assert.True(t, got.CompletedAt.IsZero())
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("update applies patch", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("upd-1", "user-1", false)))
		require.NoError(t, s.Update(ctx, "upd-1", job.StartProcessing()))
		require.NoError(t, s.Update(ctx, "upd-1", job.ClaimTrack(job.ModalityVideo)))
		require.NoError(t, s.Update(ctx, "upd-1", job.CompleteVideoOnly("https://cdn.example.com/v.mp4")))

		got, err := s.Get(ctx, "upd-1")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.Equal(t, job.TrackCompleted, got.VideoStatus)
		assert.Equal(t, "https://cdn.example.com/v.mp4", got.VideoURL)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("update precondition failed", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("pre-1", "user-1", false)))
		err := s.Update(ctx, "pre-1", job.ClaimTrack(job.ModalityVideo))
		assert.ErrorIs(t, err, job.ErrPreconditionFailed)

		got, err := s.Get(ctx, "pre-1")
		require.NoError(t, err)
		assert.Equal(t, job.TrackPending, got.VideoStatus)
	})

	t.Run("update missing", func(t *testing.T) {
		err := s.Update(ctx, "nope", job.StartProcessing())
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("separate tracks", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("sep-1", "user-1", true)))
		for _, p := range []job.Patch{
			job.StartProcessing(),
			job.ClaimCombination(),
			job.FinishSeparate("mux failed"),
		} {
			require.NoError(t, s.Update(ctx, "sep-1", p))
		}
		got, err := s.Get(ctx, "sep-1")
		require.NoError(t, err)
		assert.True(t, got.HasSeparateTracks)
		assert.Equal(t, job.CombinationFailed, got.CombinationStatus)
		assert.Equal(t, "mux failed", got.ErrorMessage)
	})

	t.Run("one combination claim wins", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("race-1", "user-1", true)))
		require.NoError(t, s.Update(ctx, "race-1", job.StartProcessing()))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Update(ctx, "race-1", job.ClaimCombination()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("released combination can be claimed again", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("rel-1", "user-1", true)))
		require.NoError(t, s.Update(ctx, "rel-1", job.StartProcessing()))
		require.NoError(t, s.Update(ctx, "rel-1", job.ClaimCombination()))
		require.NoError(t, s.Update(ctx, "rel-1", job.ReleaseCombination()))

		got, err := s.Get(ctx, "rel-1")
		require.NoError(t, err)
		assert.Equal(t, job.CombinationNone, got.CombinationStatus)
		require.NoError(t, s.Update(ctx, "rel-1", job.ClaimCombination()))
	})

	t.Run("reclaim only stale claims", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, newJob("stale-1", "user-1", false)))
		require.NoError(t, s.Update(ctx, "stale-1", job.StartProcessing()))
		require.NoError(t, s.Update(ctx, "stale-1", job.ClaimTrack(job.ModalityVideo)))

		err := s.Update(ctx, "stale-1", job.ReclaimTrack(job.ModalityVideo, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, job.ErrPreconditionFailed)

		require.NoError(t, s.Update(ctx, "stale-1", job.ReclaimTrack(job.ModalityVideo, time.Now().Add(time.Hour))))
		got, err := s.Get(ctx, "stale-1")
		require.NoError(t, err)
		assert.Equal(t, job.TrackProcessing, got.VideoStatus)
	})

	t.Run("scan pages by id", func(t *testing.T) {
		for i := range 5 {
			require.NoError(t, s.Put(ctx, newJob(fmt.Sprintf("scan-%d", i), "scanner", false)))
		}
		require.NoError(t, s.Put(ctx, newJob("scan-x", "someone-else", false)))

		filter := job.ScanFilter{OwnerID: "scanner", Status: job.StatusQueued}
		first, err := s.Scan(ctx, filter, 2, "")
		require.NoError(t, err)
		require.Len(t, first.Jobs, 2)
		assert.Equal(t, "scan-0", first.Jobs[0].ID)
		assert.Equal(t, "scan-1", first.NextCursor)

		all, err := job.ScanAll(ctx, s, filter)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "scan-4", all[4].ID)

		last, err := s.Scan(ctx, filter, 2, "scan-3")
		require.NoError(t, err)
		require.Len(t, last.Jobs, 1)
		assert.Empty(t, last.NextCursor)
	})
}
