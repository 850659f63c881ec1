package pipeline

import (
	"github.com/maauso/contentcraft-pipeline/internal/job"
)

const (
	framesPerSecond   = 24
	inferenceSteps    = 25
	guidanceScale     = 7.5
	defaultSeed       = 42
	audioPromptSuffix = ", ambient sounds and sound effects"
)

// frameSize maps a resolution label to the width and height the video
// models accept.
var frameSize = map[string][2]int{
	"720p":  {768, 512},
	"1080p": {1024, 768},
	"4k":    {1280, 768},
}

// VideoParameters builds the video model input for j.
func VideoParameters(j *job.Job) map[string]any {
	size, ok := frameSize[j.Resolution]
	if !ok {
		size = frameSize["720p"]
	}
	return map[string]any{
		"prompt":              j.Prompt,
		"num_frames":          j.DurationSeconds * framesPerSecond,
		"width":               size[0],
		"height":              size[1],
		"num_inference_steps": inferenceSteps,
		"guidance_scale":      guidanceScale,
		"seed":                defaultSeed,
	}
}

// AudioParameters builds the audio model input for j.
func AudioParameters(j *job.Job) map[string]any {
	return map[string]any{
		"prompt":  j.Prompt + audioPromptSuffix,
		"seconds": j.DurationSeconds,
	}
}
