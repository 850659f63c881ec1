package event

import "time"

// ProviderFal names the generation provider in request events.
const ProviderFal = "fal"

// GenerationRequest asks a modality handler to generate one track.
type GenerationRequest struct {
	JobID      string         `json:"jobId"`
	OwnerID    string         `json:"ownerId"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Rendered reports a generated track.
type Rendered struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	URL       string    `json:"url"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Failed reports a track whose generation failed.
type Failed struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	Error     string    `json:"error"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Ready carries both track URLs to the combiner.
type Ready struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	VideoURL  string    `json:"videoUrl"`
	AudioURL  string    `json:"audioUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// VideoOnly carries the video URL of an audio job whose audio failed.
type VideoOnly struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	VideoURL  string    `json:"videoUrl"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Combined reports a merged deliverable.
type Combined struct {
	JobID            string    `json:"jobId"`
	OwnerID          string    `json:"ownerId"`
	CombinedURL      string    `json:"combinedUrl"`
	OriginalVideoURL string    `json:"originalVideoUrl"`
	OriginalAudioURL string    `json:"originalAudioUrl"`
	Timestamp        time.Time `json:"timestamp"`
}

// Separate reports a job delivered as separate tracks.
type Separate struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	VideoURL  string    `json:"videoUrl"`
	AudioURL  string    `json:"audioUrl"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
