package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"consultscribe/internal/audio"
	"consultscribe/internal/domain"
)

// HTTPConfig points at an object endpoint accepting PUT uploads, such as a presigned
// bucket prefix or an internal media service.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPStore uploads each segment as BaseURL/<segmentID>.wav.
type HTTPStore struct {
	baseURL string
	client  *resty.Client
}

func NewHTTPStore(cfg HTTPConfig) *HTTPStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPStore{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: client}
}

func (s *HTTPStore) SaveAudio(ctx context.Context, segmentID string, recording domain.Audio) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("audio upload URL is not configured")
	}
	target := s.baseURL + "/" + objectName(segmentID)

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetBody(audio.EncodeWAV(recording)).
		Put(target)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio for segment %s: %w", segmentID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("audio upload for segment %s returned %s: %s", segmentID, resp.Status(), strings.TrimSpace(resp.String()))
	}

	if location := resp.Header().Get("Location"); location != "" {
		return location, nil
	}
	return target, nil
}
