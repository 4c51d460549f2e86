package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"consultscribe/internal/domain"
)

const (
	defaultBaseURL   = "https://api.deepgram.com/v1"
	defaultModel     = "nova-2"
	defaultChunkSize = 8192
	defaultTimeout   = 2 * time.Minute
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	ChunkSize   int
	Timeout     time.Duration
}

// Backend transcribes a finished segment by replaying it over Deepgram's live endpoint.
type Backend struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewBackend(cfg Config) *Backend {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Backend{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (b *Backend) Transcribe(ctx context.Context, audio domain.Audio) (string, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return "", errors.New("DEEPGRAM_API_KEY is not configured")
	}
	if len(audio.Data) == 0 {
		return "", nil
	}

	wsURL, err := buildListenURL(b.cfg, audio)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+b.cfg.APIKey)

	conn, _, err := b.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- sendAudio(conn, audio.Data, b.cfg.ChunkSize)
	}()

	aggregator := newTranscriptAggregator()
	readErr := readResults(conn, aggregator)
	writeErr := <-writeDone

	if ctx.Err() != nil {
		return "", fmt.Errorf("deepgram transcription aborted: %w", ctx.Err())
	}
	if readErr != nil {
		return "", readErr
	}
	if writeErr != nil {
		return "", writeErr
	}
	return aggregator.Text(), nil
}

func sendAudio(conn *websocket.Conn, data []byte, chunkSize int) error {
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[start:end]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// readResults consumes provider events until the stream's trailing metadata or a close frame.
func readResults(conn *websocket.Conn, aggregator *transcriptAggregator) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				return nil
			}
			return fmt.Errorf("failed to read provider event: %w", err)
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			return errors.New(message)
		case strings.EqualFold(response.Type, "Metadata"):
			return nil
		}

		text := extractTranscript(response)
		if text == "" {
			continue
		}
		kind := domain.TranscriptKindPartial
		if response.IsFinal || response.SpeechFinal {
			kind = domain.TranscriptKindFinal
		}
		aggregator.Add(domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: response.SpeechFinal})
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string `json:"transcript"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config, audio domain.Audio) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	encoding := audio.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := audio.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", "false")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
