package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"consultscribe/internal/audio"
	"consultscribe/internal/domain"
)

// Config controls the OpenAI transcription client.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	Prompt     string
}

// Backend sends a finished segment to the OpenAI audio transcription endpoint.
type Backend struct {
	cfg    Config
	client *openai.Client
}

func NewBackend(cfg Config) *Backend {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	return &Backend{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (b *Backend) Transcribe(ctx context.Context, segment domain.Audio) (string, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return "", errors.New("OPENAI_API_KEY is not configured")
	}
	if len(segment.Data) == 0 {
		return "", nil
	}

	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.cfg.Model,
		FilePath: "segment.wav",
		Reader:   bytes.NewReader(audio.EncodeWAV(segment)),
		Language: b.cfg.Language,
		Prompt:   b.cfg.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
