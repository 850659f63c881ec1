package fal

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnrecognizedShape is returned when a response holds no media URL at
// any known location.
var ErrUnrecognizedShape = errors.New("fal: unrecognized response shape")

// Shape names the response location a media URL was found at.
type Shape string

const (
	ShapeVideoFile      Shape = "video.url"
	ShapeAudioURL       Shape = "audio_url"
	ShapeURL            Shape = "url"
	ShapeOutputURL      Shape = "output.url"
	ShapeOutputAudioURL Shape = "output.audio_url"
	ShapeAudio          Shape = "audio.url"
	ShapeAudioFile      Shape = "audio_file.url"
)

// Result is a decoded model response.
type Result struct {
	URL   string
	Shape Shape
}

// fileRef is the {"url": ...} object fal uses for generated files.
type fileRef struct {
	URL      string `json:"url"`
	AudioURL string `json:"audio_url"`
}

type shapeDecoder struct {
	shape  Shape
	decode func(fields map[string]json.RawMessage) string
}

// shapes lists the known response layouts in priority order.
var shapes = []shapeDecoder{
	{ShapeVideoFile, objectField("video", func(f fileRef) string { return f.URL })},
	{ShapeAudioURL, stringField("audio_url")},
	{ShapeURL, stringField("url")},
	{ShapeOutputURL, objectField("output", func(f fileRef) string { return f.URL })},
	{ShapeOutputAudioURL, objectField("output", func(f fileRef) string { return f.AudioURL })},
	{ShapeAudio, objectField("audio", func(f fileRef) string { return f.URL })},
	{ShapeAudioFile, objectField("audio_file", func(f fileRef) string { return f.URL })},
}

// DecodeMediaURL extracts the media URL from a model response body.
// Each known shape is tried in order; a field holding an unexpected type
// is treated as absent rather than as an error.
func DecodeMediaURL(body []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Result{}, fmt.Errorf("%w: body is not a JSON object: %w", ErrUnrecognizedShape, err)
	}

	for _, s := range shapes {
		if url := s.decode(fields); url != "" {
			return Result{URL: url, Shape: s.shape}, nil
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return Result{}, fmt.Errorf("%w: top-level keys [%s]", ErrUnrecognizedShape, strings.Join(keys, ", "))
}

func stringField(name string) func(map[string]json.RawMessage) string {
	return func(fields map[string]json.RawMessage) string {
		raw, ok := fields[name]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
}

func objectField(name string, pick func(fileRef) string) func(map[string]json.RawMessage) string {
	return func(fields map[string]json.RawMessage) string {
		raw, ok := fields[name]
		if !ok {
			return ""
		}
		var ref fileRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return ""
		}
		return strings.TrimSpace(pick(ref))
	}
}
