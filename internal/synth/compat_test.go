package synth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatClientSynthesize(t *testing.T) {
	var gotBody compatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotBody))

		w.Write([]byte("fake-audio-bytes"))
	}))
	defer server.Close()

	client := NewCompatClient(server.URL, "secret", 5*time.Second)

	audio, err := client.Synthesize(context.Background(), "Hello", Params{
		Model:     "tts-1",
		Voice:     "alloy",
		Format:    "wav",
		StyleHint: "cheerful",
		Speed:     1.25,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-audio-bytes"), audio)

	assert.Equal(t, "tts-1", gotBody.Model)
	assert.Equal(t, "Hello", gotBody.Input)
	assert.Equal(t, "alloy", gotBody.Voice)
	assert.Equal(t, "wav", gotBody.ResponseFormat)
	assert.Equal(t, "cheerful", gotBody.Instructions)
	assert.Equal(t, 1.25, gotBody.Speed)
}

// Upstream failures must surface the status and raw body verbatim so
// interactive callers can relay them unchanged.
func TestCompatClientPreservesUpstreamError(t *testing.T) {
	const rawBody = `{"error":{"message":"voice not available","type":"invalid_request_error"}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(rawBody))
	}))
	defer server.Close()

	client := NewCompatClient(server.URL, "", 5*time.Second)

	_, err := client.Synthesize(context.Background(), "Hello", Params{Model: "tts-1", Voice: "alloy"})
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, http.StatusInternalServerError, synthErr.StatusCode)
	assert.Equal(t, rawBody, string(synthErr.Body))
}

func TestCompatClientRejectsEmptyText(t *testing.T) {
	client := NewCompatClient("http://localhost:1", "", time.Second)
	_, err := client.Synthesize(context.Background(), "", Params{Model: "tts-1", Voice: "alloy"})
	assert.Error(t, err)
}

func TestCompatClientRejectsEmptyAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewCompatClient(server.URL, "", 5*time.Second)
	_, err := client.Synthesize(context.Background(), "Hello", Params{Model: "tts-1", Voice: "alloy"})
	assert.Error(t, err)
}
