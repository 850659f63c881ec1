// Package tier maps user-facing quality tiers to provider model identifiers.
package tier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a catalog file is unusable.
var ErrInvalidCatalog = errors.New("tier: invalid catalog")

// Catalog holds the tier tables for both modalities.
// Unknown tiers resolve to the default tier, never to an error.
type Catalog struct {
	DefaultVideoTier string            `yaml:"default_video_tier"`
	DefaultAudioTier string            `yaml:"default_audio_tier"`
	Video            map[string]string `yaml:"video"`
	Audio            map[string]string `yaml:"audio"`
	// Aliases maps legacy tier names to canonical ones for both modalities.
	Aliases map[string]string `yaml:"aliases"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{
		DefaultVideoTier: "fast",
		DefaultAudioTier: "fast",
		Video: map[string]string{
			"fast":      "ltx-video",
			"standard":  "ltx-video-13b-distilled",
			"pro":       "wan-i2v",
			"veo3_fast": "veo3-fast",
			"veo3_pro":  "veo3-pro",
		},
		Audio: map[string]string{
			"fast":     "fal-ai/stable-audio",
			"standard": "fal-ai/stable-audio",
			"pro":      "fal-ai/stable-audio",
		},
		Aliases: map[string]string{
			"balanced": "standard",
			"premium":  "pro",
		},
	}
}

// LoadFile reads a YAML catalog and merges it over the defaults.
// Entries in the file replace or extend the built-in tables.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	c := Default()
	if override.DefaultVideoTier != "" {
		c.DefaultVideoTier = normalize(override.DefaultVideoTier)
	}
	if override.DefaultAudioTier != "" {
		c.DefaultAudioTier = normalize(override.DefaultAudioTier)
	}
	for k, v := range override.Video {
		c.Video[normalize(k)] = v
	}
	for k, v := range override.Audio {
		c.Audio[normalize(k)] = v
	}
	for k, v := range override.Aliases {
		c.Aliases[normalize(k)] = normalize(v)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that both default tiers exist in their tables.
func (c *Catalog) Validate() error {
	if _, ok := c.Video[c.DefaultVideoTier]; !ok {
		return fmt.Errorf("%w: default video tier %q has no model", ErrInvalidCatalog, c.DefaultVideoTier)
	}
	if _, ok := c.Audio[c.DefaultAudioTier]; !ok {
		return fmt.Errorf("%w: default audio tier %q has no model", ErrInvalidCatalog, c.DefaultAudioTier)
	}
	return nil
}

// NormalizeVideo returns the canonical video tier for name.
func (c *Catalog) NormalizeVideo(name string) string {
	return c.resolve(name, c.Video, c.DefaultVideoTier)
}

// NormalizeAudio returns the canonical audio tier for name.
func (c *Catalog) NormalizeAudio(name string) string {
	return c.resolve(name, c.Audio, c.DefaultAudioTier)
}

// VideoModel returns the provider model for a video tier.
func (c *Catalog) VideoModel(name string) string {
	return c.Video[c.NormalizeVideo(name)]
}

// AudioModel returns the provider model for an audio tier.
func (c *Catalog) AudioModel(name string) string {
	return c.Audio[c.NormalizeAudio(name)]
}

func (c *Catalog) resolve(name string, table map[string]string, fallback string) string {
	n := normalize(name)
	if target, ok := c.Aliases[n]; ok {
		n = target
	}
	if _, ok := table[n]; ok {
		return n
	}
	return fallback
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
