// Package event defines the domain events exchanged by the pipeline stages,
// the envelope they travel in, and the publish/subscribe transports.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the event name, carried as the envelope detail-type.
type Type string

const (
	VideoJobSubmitted Type = "video.job.submitted"
	AudioJobSubmitted Type = "audio.job.submitted"
	VideoRendered     Type = "video.rendered"
	AudioRendered     Type = "audio.rendered"
	VideoFailed       Type = "video.failed"
	AudioFailed       Type = "audio.failed"
	// VideoAudioReady signals both tracks exist and can be combined.
	VideoAudioReady Type = "video.audio.ready"
	// VideoOnlyReady signals audio failed and the job should finish with video alone.
	VideoOnlyReady     Type = "video.only.ready"
	CombinedVideoReady Type = "combined.video.ready"
	VideoAudioSeparate Type = "video.audio.separate"
)

// Event sources, one per emitting stage.
const (
	SourceDrainer      = "contentcraft.jobprocessor"
	SourceVideoHandler = "contentcraft.videoinvoker"
	SourceAudioHandler = "contentcraft.audiohandler"
	SourceOrchestrator = "contentcraft.orchestrator"
	SourceCombiner     = "contentcraft.combiner"
)

var (
	// ErrPublishFailed is returned when the bus rejects an event.
	ErrPublishFailed = errors.New("event: publish failed")
	// ErrInvalidEnvelope is returned for envelopes missing a type or detail.
	ErrInvalidEnvelope = errors.New("event: invalid envelope")
)

// Envelope is the wire form of an event. Field names follow the
// EventBridge event structure so envelopes delivered by a rule target
// decode directly.
type Envelope struct {
	ID     string          `json:"id,omitempty"`
	Source string          `json:"source"`
	Type   Type            `json:"detail-type"`
	Time   time.Time       `json:"time"`
	Detail json.RawMessage `json:"detail"`
}

// New marshals detail into an envelope.
func New(source string, t Type, detail any) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s detail: %w", t, err)
	}
	return Envelope{
		Source: source,
		Type:   t,
		Time:   time.Now().UTC(),
		Detail: raw,
	}, nil
}

// Validate checks the fields every consumer relies on.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing detail-type", ErrInvalidEnvelope)
	}
	if len(e.Detail) == 0 {
		return fmt.Errorf("%w: missing detail", ErrInvalidEnvelope)
	}
	return nil
}

// Decode unmarshals the envelope detail into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Detail, v); err != nil {
		return fmt.Errorf("%w: decode %s detail: %w", ErrInvalidEnvelope, e.Type, err)
	}
	return nil
}

// Publisher emits events to the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Emit builds an envelope from detail and publishes it.
func Emit(ctx context.Context, p Publisher, source string, t Type, detail any) error {
	env, err := New(source, t, detail)
	if err != nil {
		return err
	}
	return p.Publish(ctx, env)
}

// Handler consumes one delivered event.
type Handler func(ctx context.Context, env Envelope) error
