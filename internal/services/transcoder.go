package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
)

// TranscodeResult is what the external transcoder reports back on success.
type TranscodeResult struct {
	DurationSec  float64 `json:"duration_sec"`
	ThumbnailKey string  `json:"thumbnail_key"`
	PlaybackKey  string  `json:"playback_key"`
	Status       string  `json:"status"`
}

// TranscoderClient is the external transcoder collaborator. One call is one
// attempt; the queue owns retries and timeouts.
type TranscoderClient interface {
	Transcode(ctx context.Context, sourceKey, filename string, uploadID, uploaderID uuid.UUID) (*TranscodeResult, error)
}

type transcoderClient struct {
	log     *logger.Logger
	baseURL string
	client  *http.Client
}

func NewTranscoderClient(log *logger.Logger) (TranscoderClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("TRANSCODER_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var TRANSCODER_URL")
	}
	return &transcoderClient{
		log:     log.With("service", "TranscoderClient"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 0}, // per-attempt deadline comes from ctx
	}, nil
}

func (tc *transcoderClient) Transcode(ctx context.Context, sourceKey, filename string, uploadID, uploaderID uuid.UUID) (*TranscodeResult, error) {
	payload := map[string]any{
		"source_key":  sourceKey,
		"filename":    filename,
		"upload_id":   uploadID.String(),
		"uploader_id": uploaderID.String(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transcode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.baseURL+"/v1/transcode", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build transcode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcoder request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read transcoder response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("transcoder returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result TranscodeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode transcoder response: %w", err)
	}
	tc.log.Debug("Transcode attempt finished",
		"upload_id", uploadID,
		"duration_ms", time.Since(started).Milliseconds(),
		"status", result.Status,
	)
	return &result, nil
}
