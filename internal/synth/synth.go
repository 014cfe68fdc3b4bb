package synth

import (
	"context"
	"fmt"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

// ---------------------------------------------------------------------------
// Client — common interface for speech-synthesis providers
// Both the OpenAI provider and the OpenAI-compatible provider implement this
// interface so callers can use whichever is configured without knowing the
// underlying endpoint.
// ---------------------------------------------------------------------------

// Params are the per-call synthesis parameters, resolved from a voice
// profile at processing time.
type Params struct {
	Model     string
	Voice     string
	Format    string  // mp3, wav or pcm; unrecognized values fall back to mp3
	StyleHint string  // delivery instructions; forwarded when non-empty
	Speed     float64 // playback speed multiplier; forwarded when positive
}

// Client is the interface any synthesis provider must implement.
// Implementations perform exactly one upstream call: no retries, no side
// effects beyond the network request. Failed calls with an upstream
// response return a *SynthesisError.
type Client interface {
	Synthesize(ctx context.Context, text string, p Params) ([]byte, error)
}

// SynthesisError carries the upstream HTTP status and the raw error body
// verbatim. Interactive callers relay both to their own caller unchanged;
// batch processing logs and skips the row.
type SynthesisError struct {
	StatusCode int
	Body       []byte
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed with status %d: %s", e.StatusCode, e.Body)
}

// NormalizeFormat maps a profile's format to a supported output format,
// defaulting to mp3 for anything unrecognized.
func NormalizeFormat(format string) string {
	switch format {
	case "mp3", "wav", "pcm":
		return format
	default:
		return "mp3"
	}
}

// ContentType returns the MIME type for a normalized output format.
func ContentType(format string) string {
	switch NormalizeFormat(format) {
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/mpeg"
	}
}

// ParamsFromProfile resolves a voice profile into call parameters.
// The profile's pitch and volume fields are deliberately not mapped: the
// upstream speech API has no matching parameters.
func ParamsFromProfile(profile *models.VoiceProfile) Params {
	p := Params{
		Model:  profile.Model,
		Voice:  profile.Voice,
		Format: NormalizeFormat(profile.Format),
	}
	if profile.StyleHint != nil {
		p.StyleHint = *profile.StyleHint
	}
	if profile.Speed != nil {
		p.Speed = *profile.Speed
	}
	return p
}
