package pipeline

import "github.com/maauso/contentcraft-pipeline/internal/event"

// Subscriber is a bus that routes event types to handlers.
type Subscriber interface {
	Subscribe(t event.Type, h event.Handler)
}

// Register subscribes every stage to the events it consumes.
func Register(bus Subscriber, video, audio *ModalityHandler, orch *Orchestrator, comb *Combiner) {
	bus.Subscribe(event.VideoJobSubmitted, video.Handle)
	bus.Subscribe(event.AudioJobSubmitted, audio.Handle)

	for _, t := range []event.Type{
		event.VideoRendered,
		event.AudioRendered,
		event.VideoFailed,
		event.AudioFailed,
		event.CombinedVideoReady,
		event.VideoAudioSeparate,
	} {
		bus.Subscribe(t, orch.Handle)
	}

	bus.Subscribe(event.VideoAudioReady, comb.Handle)
	bus.Subscribe(event.VideoOnlyReady, comb.Handle)
}
