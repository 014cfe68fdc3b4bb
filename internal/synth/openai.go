package synth

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ---------------------------------------------------------------------------
// OpenAI speech synthesis provider
// Default provider: POST /v1/audio/speech through the official client.
// ---------------------------------------------------------------------------

type OpenAIClient struct {
	client *openai.Client
	log    *logrus.Entry
}

// Ensure OpenAIClient implements Client at compile time.
var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		log:    logrus.WithField("component", "synth.openai"),
	}
}

// Synthesize converts text to audio. Implements the Client interface.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string, p Params) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text must not be empty")
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(p.Voice),
		ResponseFormat: speechFormat(p.Format),
	}
	if p.StyleHint != "" {
		req.Instructions = p.StyleHint
	}
	if p.Speed > 0 {
		req.Speed = p.Speed
	}

	c.log.WithFields(logrus.Fields{
		"model":   p.Model,
		"voice":   p.Voice,
		"format":  p.Format,
		"textLen": len(text),
	}).Debug("synthesizing speech")

	resp, err := c.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, upstreamError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("upstream returned empty audio")
	}

	return audio, nil
}

func speechFormat(format string) openai.SpeechResponseFormat {
	switch NormalizeFormat(format) {
	case "wav":
		return openai.SpeechResponseFormatWav
	case "pcm":
		return openai.SpeechResponseFormatPcm
	default:
		return openai.SpeechResponseFormatMp3
	}
}

// upstreamError converts client errors into *SynthesisError, keeping the
// upstream status and body so callers can relay them unchanged.
func upstreamError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &SynthesisError{StatusCode: apiErr.HTTPStatusCode, Body: []byte(apiErr.Message)}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.Body
		if len(body) == 0 {
			body = []byte(reqErr.Error())
		}
		return &SynthesisError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	return fmt.Errorf("synthesis request failed: %w", err)
}
