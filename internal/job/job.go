// Package job provides the Job record for the video/audio generation pipeline.
// It includes the primary and per-track status enums with their allowed
// transitions, the guarded patches every pipeline stage applies, and the
// Store port used for persistence.
package job

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/contentcraft-pipeline/internal/job/id"
)

// Status represents the primary lifecycle state of a Job.
type Status string

const (
	// StatusQueued indicates the job was accepted and waits for the drainer.
	StatusQueued Status = "QUEUED"
	// StatusProcessing indicates generation requests were emitted.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates a deliverable exists (combined or separate tracks).
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job cannot produce a deliverable.
	StatusFailed Status = "FAILED"
)

// IsValid returns true if the status is one of the known primary states.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which primary state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// sourcesOf lists every status allowed to move to the given status.
// It is the store-side precondition for a primary transition.
func sourcesOf(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed} {
		if canTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// TrackStatus represents the status of a single generated track (video or audio).
type TrackStatus string

const (
	// TrackPending indicates the track waits for its generation request.
	TrackPending TrackStatus = "PENDING"
	// TrackProcessing indicates a handler claimed the track and called the provider.
	TrackProcessing TrackStatus = "PROCESSING"
	// TrackCompleted indicates the provider returned a media URL.
	TrackCompleted TrackStatus = "COMPLETED"
	// TrackFailed indicates generation failed.
	TrackFailed TrackStatus = "FAILED"
)

// CombinationStatus represents the state of the audio/video merge step.
// The empty value means combination has not started.
type CombinationStatus string

const (
	CombinationNone      CombinationStatus = ""
	CombinationCombining CombinationStatus = "COMBINING"
	CombinationCompleted CombinationStatus = "COMPLETED"
	// CombinationFailed means the merge failed and both tracks are delivered separately.
	CombinationFailed CombinationStatus = "FAILED"
	// CombinationSkipped means audio failed and the job completed with video only.
	CombinationSkipped CombinationStatus = "SKIPPED"
)

// Modality identifies one of the two generated tracks.
type Modality string

const (
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
)

// Request holds the user-supplied generation parameters of a job.
type Request struct {
	Prompt          string
	DurationSeconds int
	Resolution      string
	Tier            string
	WantsAudio      bool
	AudioTier       string
}

// Job represents one video generation request and the state of every
// stage working on it. Jobs are only mutated through Store.Update so
// concurrent handlers never overwrite each other's fields.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// OwnerID is the principal that submitted the job.
	OwnerID string

	Prompt          string
	DurationSeconds int
	Resolution      string
	// Tier is the normalized video quality tier.
	Tier string
	// WantsAudio enables the audio track and the combine step.
	WantsAudio bool
	// AudioTier is the normalized audio quality tier, empty when WantsAudio is false.
	AudioTier string

	// Status is the primary lifecycle state.
	Status            Status
	VideoStatus       TrackStatus
	AudioStatus       TrackStatus
	CombinationStatus CombinationStatus

	VideoURL    string
	AudioURL    string
	CombinedURL string
	// HasSeparateTracks is set when combining failed and both tracks are delivered.
	HasSeparateTracks bool
	// ErrorMessage holds the most recent stage failure.
	ErrorMessage string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in QUEUED status.
func New(ownerID string, req Request) *Job {
	return NewWithID(id.Generate(), ownerID, req)
}

// NewWithID creates a new Job with the specified ID in QUEUED status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, ownerID string, req Request) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:              jobID,
		OwnerID:         ownerID,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		Tier:            req.Tier,
		WantsAudio:      req.WantsAudio,
		Status:          StatusQueued,
		VideoStatus:     TrackPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.WantsAudio {
		j.AudioTier = req.AudioTier
		j.AudioStatus = TrackPending
	}
	return j
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Track returns the status and URL of the given track.
func (j *Job) Track(m Modality) (TrackStatus, string) {
	if m == ModalityAudio {
		return j.AudioStatus, j.AudioURL
	}
	return j.VideoStatus, j.VideoURL
}

// TrackReady reports whether the track completed with a URL.
func (j *Job) TrackReady(m Modality) bool {
	status, url := j.Track(m)
	return status == TrackCompleted && url != ""
}

// Matches reports whether the job satisfies every clause of the condition.
func (j *Job) Matches(c Condition) bool {
	if len(c.Status) > 0 && !slices.Contains(c.Status, j.Status) {
		return false
	}
	if len(c.VideoStatus) > 0 && !slices.Contains(c.VideoStatus, j.VideoStatus) {
		return false
	}
	if len(c.AudioStatus) > 0 && !slices.Contains(c.AudioStatus, j.AudioStatus) {
		return false
	}
	if len(c.CombinationStatus) > 0 && !slices.Contains(c.CombinationStatus, j.CombinationStatus) {
		return false
	}
	if !c.UpdatedBefore.IsZero() && !j.UpdatedAt.Before(c.UpdatedBefore) {
		return false
	}
	return true
}

// Apply writes the patch fields onto the job and stamps UpdatedAt.
// It does not check the patch condition.
func (j *Job) Apply(p Patch, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.VideoStatus != nil {
		j.VideoStatus = *p.VideoStatus
	}
	if p.AudioStatus != nil {
		j.AudioStatus = *p.AudioStatus
	}
	if p.CombinationStatus != nil {
		j.CombinationStatus = *p.CombinationStatus
	}
	if p.VideoURL != nil {
		j.VideoURL = *p.VideoURL
	}
	if p.AudioURL != nil {
		j.AudioURL = *p.AudioURL
	}
	if p.CombinedURL != nil {
		j.CombinedURL = *p.CombinedURL
	}
	if p.HasSeparateTracks != nil {
		j.HasSeparateTracks = *p.HasSeparateTracks
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	if p.CompletedAt != nil {
		j.CompletedAt = *p.CompletedAt
	}
	j.UpdatedAt = now
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
