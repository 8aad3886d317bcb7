package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"swipestats-go/internal/config"

	"go.uber.org/zap"
)

// BlobService fetches raw export objects from the external blob store by
// reference URL.
type BlobService struct {
	cfg    *config.Config
	log    *zap.Logger
	client *http.Client
}

// NewBlobService creates a new blob service
func NewBlobService(cfg *config.Config, log *zap.Logger) *BlobService {
	return &BlobService{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Timeout: cfg.Ingest.FetchTimeout,
		},
	}
}

// FetchJSON fetches and decodes a raw export. The response body is capped at
// the configured export size; anything larger is rejected before decoding.
func (s *BlobService) FetchJSON(ctx context.Context, url string) (*RawExport, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("export fetch returned status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, s.cfg.Ingest.MaxExportSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read export body: %w", err)
	}
	if int64(len(data)) > s.cfg.Ingest.MaxExportSize {
		return nil, 0, fmt.Errorf("export exceeds maximum size %d bytes", s.cfg.Ingest.MaxExportSize)
	}

	var export RawExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, 0, fmt.Errorf("failed to decode export JSON: %w", err)
	}

	s.log.Debug("Export fetched",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
	)

	return &export, int64(len(data)), nil
}
