package synth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// ---------------------------------------------------------------------------
// OpenAI-compatible speech synthesis provider
// For self-hosted or proxied endpoints speaking the /v1/audio/speech wire
// format. The raw response body of a failed call is preserved byte for byte.
// ---------------------------------------------------------------------------

type CompatClient struct {
	http *resty.Client
	log  *logrus.Entry
}

// Ensure CompatClient implements Client at compile time.
var _ Client = (*CompatClient)(nil)

// NewCompatClient points the provider at an OpenAI-compatible base URL,
// e.g. "http://localhost:8000/v1". apiKey may be empty for unauthenticated
// local endpoints.
func NewCompatClient(baseURL, apiKey string, timeout time.Duration) *CompatClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &CompatClient{
		http: client,
		log:  logrus.WithField("component", "synth.compat"),
	}
}

type compatRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Instructions   string  `json:"instructions,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to audio. Implements the Client interface.
func (c *CompatClient) Synthesize(ctx context.Context, text string, p Params) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text must not be empty")
	}

	format := NormalizeFormat(p.Format)

	c.log.WithFields(logrus.Fields{
		"model":   p.Model,
		"voice":   p.Voice,
		"format":  format,
		"textLen": len(text),
	}).Debug("synthesizing speech")

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(compatRequest{
			Model:          p.Model,
			Input:          text,
			Voice:          p.Voice,
			ResponseFormat: format,
			Instructions:   p.StyleHint,
			Speed:          p.Speed,
		}).
		Post("/audio/speech")
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &SynthesisError{StatusCode: resp.StatusCode(), Body: resp.Body()}
	}

	audio := resp.Body()
	if len(audio) == 0 {
		return nil, fmt.Errorf("upstream returned empty audio")
	}

	return audio, nil
}
