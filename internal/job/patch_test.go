package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessingJob(t *testing.T, store Store, wantsAudio bool) *Job {
	t.Helper()
	j := NewWithID("job-1", "user-1", Request{WantsAudio: wantsAudio})
	require.NoError(t, store.Put(context.Background(), j))
	require.NoError(t, store.Update(context.Background(), j.ID, StartProcessing()))
	return j
}

func TestPatch_VideoOnlyLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, false)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
	require.NoError(t, store.Update(ctx, j.ID, CompleteVideoOnly("https://cdn/v1.mp4")))

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, TrackCompleted, got.VideoStatus)
	assert.Equal(t, "https://cdn/v1.mp4", got.VideoURL)
	assert.Equal(t, TrackStatus(""), got.AudioStatus)
	assert.Equal(t, CombinationNone, got.CombinationStatus)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestPatch_ClaimTrackOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityAudio)))
	err := store.Update(ctx, j.ID, ClaimTrack(ModalityAudio))
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// The video track is independent of the audio claim.
	assert.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
}

func TestPatch_ReleaseTrack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	assert.ErrorIs(t, store.Update(ctx, j.ID, ReleaseTrack(ModalityAudio)), ErrPreconditionFailed)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityAudio)))
	require.NoError(t, store.Update(ctx, j.ID, ReleaseTrack(ModalityAudio)))
	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityAudio)))
}

func TestPatch_ReclaimTrack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, false)
	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))

	err := store.Update(ctx, j.ID, ReclaimTrack(ModalityVideo, time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, store.Update(ctx, j.ID, ReclaimTrack(ModalityVideo, time.Now().Add(time.Minute))))

	// A completed track is never reclaimed, however old.
	require.NoError(t, store.Update(ctx, j.ID, CompleteVideoOnly("https://cdn/v1.mp4")))
	err = store.Update(ctx, j.ID, ReclaimTrack(ModalityVideo, time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestPatch_ReclaimCombination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	assert.ErrorIs(t, store.Update(ctx, j.ID, ReclaimCombination(time.Now().Add(time.Minute))), ErrPreconditionFailed)

	require.NoError(t, store.Update(ctx, j.ID, ClaimCombination()))
	assert.ErrorIs(t, store.Update(ctx, j.ID, ReclaimCombination(time.Now().Add(-time.Minute))), ErrPreconditionFailed)
	require.NoError(t, store.Update(ctx, j.ID, ReclaimCombination(time.Now().Add(time.Minute))))

	require.NoError(t, store.Update(ctx, j.ID, ReleaseCombination()))
	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, CombinationNone, got.CombinationStatus)
}

func TestPatch_ClaimTrackRequiresProcessing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := NewWithID("job-1", "user-1", Request{})
	require.NoError(t, store.Put(ctx, j))

	err := store.Update(ctx, j.ID, ClaimTrack(ModalityVideo))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestPatch_AudioJobNotCompletedByTracks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
	require.NoError(t, store.Update(ctx, j.ID, CompleteTrack(ModalityVideo, "v1")))
	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityAudio)))
	require.NoError(t, store.Update(ctx, j.ID, CompleteTrack(ModalityAudio, "a1")))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.True(t, got.TrackReady(ModalityVideo))
	assert.True(t, got.TrackReady(ModalityAudio))
}

func TestPatch_CombinationClaimedOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, ClaimCombination()))
	assert.ErrorIs(t, store.Update(ctx, j.ID, ClaimCombination()), ErrPreconditionFailed)

	require.NoError(t, store.Update(ctx, j.ID, FinishCombined("c1")))
	assert.ErrorIs(t, store.Update(ctx, j.ID, FinishCombined("c2")), ErrPreconditionFailed)
	assert.ErrorIs(t, store.Update(ctx, j.ID, ClaimCombination()), ErrPreconditionFailed)

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, CombinationCompleted, got.CombinationStatus)
	assert.Equal(t, "c1", got.CombinedURL)
}

func TestPatch_FinishSeparate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, ClaimCombination()))
	require.NoError(t, store.Update(ctx, j.ID, FinishSeparate("ffmpeg exited 1")))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, CombinationFailed, got.CombinationStatus)
	assert.True(t, got.HasSeparateTracks)
	assert.Equal(t, "ffmpeg exited 1", got.ErrorMessage)
}

func TestPatch_VideoFailureFailsJob(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
	require.NoError(t, store.Update(ctx, j.ID, FailTrack(ModalityVideo, "provider 500")))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, TrackFailed, got.VideoStatus)
	assert.Equal(t, "provider 500", got.ErrorMessage)

	// A late audio result cannot touch a failed job.
	err := store.Update(ctx, j.ID, ClaimTrack(ModalityAudio))
	assert.True(t, errors.Is(err, ErrPreconditionFailed))
}

func TestPatch_AudioFailureKeepsJobOpen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, true)

	require.NoError(t, store.Update(ctx, j.ID, FailTrack(ModalityAudio, "timeout")))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, TrackFailed, got.AudioStatus)

	// Video-only finish needs the video track first.
	assert.ErrorIs(t, store.Update(ctx, j.ID, FinishVideoOnly("timeout")), ErrPreconditionFailed)

	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
	require.NoError(t, store.Update(ctx, j.ID, CompleteTrack(ModalityVideo, "v1")))
	require.NoError(t, store.Update(ctx, j.ID, FinishVideoOnly("timeout")))

	got, _ = store.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, CombinationSkipped, got.CombinationStatus)
	assert.Equal(t, "v1", got.VideoURL)
}

func TestPatch_FailJobNeverOverwritesTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := newProcessingJob(t, store, false)
	require.NoError(t, store.Update(ctx, j.ID, ClaimTrack(ModalityVideo)))
	require.NoError(t, store.Update(ctx, j.ID, CompleteVideoOnly("v1")))

	assert.ErrorIs(t, store.Update(ctx, j.ID, FailJob("late failure")), ErrPreconditionFailed)

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestSourcesOf(t *testing.T) {
	assert.Equal(t, []Status{StatusQueued}, sourcesOf(StatusProcessing))
	assert.Equal(t, []Status{StatusQueued, StatusProcessing}, sourcesOf(StatusFailed))
	assert.Empty(t, sourcesOf(StatusQueued))
}
