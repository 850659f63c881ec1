// Package media merges generated video and audio tracks into a single
// deliverable.
package media

import "context"

// Processor defines the interface for track muxing operations.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// MuxAudio writes output with the video stream of videoPath and the
	// audio stream of audioPath. The video stream is copied, the audio
	// re-encoded to AAC, and the result cut to the shorter of the two.
	MuxAudio(ctx context.Context, videoPath, audioPath, output string) error
}
