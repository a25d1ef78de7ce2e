package assistant

// DefaultFallbackVoice is used when a voice/style pair is not catalogued.
const DefaultFallbackVoice = "alloy"

// Catalogue maps a persona voice ("male", "female") and style ("casual",
// "formal") to a backend voice id.
type Catalogue struct {
	Voices   map[string]map[string]string
	Fallback string
}

// DefaultCatalogue returns the built-in catalogue for the OpenAI Realtime
// voices.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Voices: map[string]map[string]string{
			"female": {"casual": "shimmer", "formal": "coral"},
			"male":   {"casual": "echo", "formal": "ash"},
		},
		Fallback: DefaultFallbackVoice,
	}
}

// Resolve returns the voice id for voice and style, or the fallback.
func (c Catalogue) Resolve(voice, style string) string {
	if id := c.Voices[voice][style]; id != "" {
		return id
	}
	if c.Fallback != "" {
		return c.Fallback
	}
	return DefaultFallbackVoice
}
