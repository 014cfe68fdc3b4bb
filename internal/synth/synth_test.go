package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "mp3", NormalizeFormat("mp3"))
	assert.Equal(t, "wav", NormalizeFormat("wav"))
	assert.Equal(t, "pcm", NormalizeFormat("pcm"))

	// Anything unrecognized falls back to mp3.
	assert.Equal(t, "mp3", NormalizeFormat(""))
	assert.Equal(t, "mp3", NormalizeFormat("ogg"))
	assert.Equal(t, "mp3", NormalizeFormat("MP3"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ContentType("mp3"))
	assert.Equal(t, "audio/wav", ContentType("wav"))
	assert.Equal(t, "audio/L16", ContentType("pcm"))
	assert.Equal(t, "audio/mpeg", ContentType("flac"))
}

func TestParamsFromProfile(t *testing.T) {
	hint := "calm and slow"
	speed := 1.25
	pitch := 1.5
	volume := 0.5

	profile := &models.VoiceProfile{
		Model:     "tts-1",
		Voice:     "alloy",
		Format:    "wav",
		StyleHint: &hint,
		Speed:     &speed,
		Pitch:     &pitch,
		Volume:    &volume,
	}

	p := ParamsFromProfile(profile)
	assert.Equal(t, "tts-1", p.Model)
	assert.Equal(t, "alloy", p.Voice)
	assert.Equal(t, "wav", p.Format)
	assert.Equal(t, "calm and slow", p.StyleHint)
	assert.Equal(t, 1.25, p.Speed)
}

func TestParamsFromProfileDefaultsFormat(t *testing.T) {
	profile := &models.VoiceProfile{Model: "tts-1", Voice: "alloy", Format: "unknown"}
	assert.Equal(t, "mp3", ParamsFromProfile(profile).Format)
}

func TestSynthesisErrorMessage(t *testing.T) {
	err := &SynthesisError{StatusCode: 500, Body: []byte(`{"error":"boom"}`)}
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}
