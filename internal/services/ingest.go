package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/database"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestParams are the parameters of one ingestion call.
type IngestParams struct {
	DataURL    string
	ExternalID string
	UserID     string
	Platform   string
	Timezone   *string
	Country    *string
	// AbsorbExternalID, when set, requests a cross-account absorption: the
	// named old account's history is merged into this upload's account.
	AbsorbExternalID *string
}

// IngestionSummary is the operational summary returned alongside the
// persisted profile.
type IngestionSummary struct {
	IngestionID  string  `json:"ingestion_id"`
	Strategy     string  `json:"strategy"`
	ProcessingMs int64   `json:"processing_ms"`
	ExportSizeMB float64 `json:"export_size_mb"`
	HasPhotos    bool    `json:"has_photos"`
	WriteCounts
}

// IngestResult is the outcome of one successful ingestion.
type IngestResult struct {
	Profile *models.Profile  `json:"profile"`
	Summary IngestionSummary `json:"summary"`
}

// IngestService orchestrates one ingestion: fetch the export, transform it
// into row-sets, select a merge strategy, and execute everything inside a
// single transaction. Ingestions for the same external id are serialized by
// a keyed mutex on top of the transaction; a semaphore caps how many
// ingestions run at once overall.
type IngestService struct {
	cfg       *config.Config
	log       *zap.Logger
	blob      *BlobService
	transform *TransformService
	usage     *UsageService
	matches   *MatchService
	reconcile *ReconcileService
	metrics   *MetricsService

	locks keyedMutex
	sem   *semaphore.Weighted
}

// NewIngestService creates a new ingest service
func NewIngestService(
	cfg *config.Config,
	log *zap.Logger,
	blob *BlobService,
	transform *TransformService,
	usage *UsageService,
	matches *MatchService,
	reconcile *ReconcileService,
	metrics *MetricsService,
) *IngestService {
	return &IngestService{
		cfg:       cfg,
		log:       log,
		blob:      blob,
		transform: transform,
		usage:     usage,
		matches:   matches,
		reconcile: reconcile,
		metrics:   metrics,
		sem:       semaphore.NewWeighted(cfg.Ingest.MaxConcurrentIngests),
	}
}

// Ingest runs the full pipeline for one upload. All writes happen in one
// transaction: any structural failure rolls the whole ingestion back and no
// partial state is ever visible to readers.
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	start := time.Now()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire ingest slot: %w", err)
	}
	defer s.sem.Release(1)

	// Two near-simultaneous uploads of the same account must not interleave;
	// the transaction's isolation alone cannot prevent the lost-update race.
	lockKey := params.Platform + ":" + params.ExternalID
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	raw, size, err := s.blob.FetchJSON(ctx, params.DataURL)
	if err != nil {
		return nil, err
	}

	rowSet, err := s.buildRowSet(raw, params)
	if err != nil {
		return nil, err
	}

	strategy, err := s.selectStrategy(params)
	if err != nil {
		return nil, err
	}

	ingestionID := newIngestionID()
	exportSizeMB := float64(size) / (1024 * 1024)

	var profile *models.Profile
	var counts *WriteCounts

	// Writers can still collide on the database file itself; locked errors
	// are retried with the whole transaction
	err = database.RetryWithBackoff(3, 100*time.Millisecond, func() error {
		return database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			switch strategy {
			case StrategyNew:
				profile, counts, txErr = s.reconcile.ApplyNew(tx, rowSet)
			case StrategyAdditive:
				var existing models.Profile
				if txErr = tx.Where("external_id = ? AND platform = ?", params.ExternalID, params.Platform).
					First(&existing).Error; txErr != nil {
					return fmt.Errorf("failed to reload existing profile: %w", txErr)
				}
				profile, counts, txErr = s.reconcile.ApplyAdditive(tx, &existing, rowSet)
			case StrategyAbsorption:
				profile, counts, txErr = s.reconcile.ApplyAbsorption(tx, *params.AbsorbExternalID, rowSet)
			}
			if txErr != nil {
				return txErr
			}

			// Immutable audit pointer to the raw export, one per ingestion call
			metadata, _ := json.Marshal(counts)
			fileRef := models.OriginalFileReference{
				ProfileID:   profile.ID,
				IngestionID: ingestionID,
				DataURL:     params.DataURL,
				SizeMB:      exportSizeMB,
				Strategy:    strategy,
				Metadata:    datatypes.JSON(metadata),
				IngestedAt:  time.Now().UTC(),
			}
			if err := tx.Create(&fileRef).Error; err != nil {
				return fmt.Errorf("failed to store file reference: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		s.log.Error("Ingestion failed",
			zap.String("external_id", params.ExternalID),
			zap.String("strategy", strategy),
			zap.Error(err),
		)
		return nil, err
	}

	summary := IngestionSummary{
		IngestionID:  ingestionID,
		Strategy:     strategy,
		ProcessingMs: time.Since(start).Milliseconds(),
		ExportSizeMB: exportSizeMB,
		HasPhotos:    counts.Photos > 0,
		WriteCounts:  *counts,
	}

	s.log.Info("Ingestion completed",
		zap.String("ingestion_id", ingestionID),
		zap.String("external_id", params.ExternalID),
		zap.String("strategy", strategy),
		zap.Int64("processing_ms", summary.ProcessingMs),
		zap.Int("matches", counts.Matches),
		zap.Int("messages", counts.Messages),
		zap.Int("usage_days", counts.UsageDays),
	)

	return &IngestResult{Profile: profile, Summary: summary}, nil
}

// buildRowSet runs the pure pipeline stages: transform, usage expansion,
// match/message building, active-window derivation.
func (s *IngestService) buildRowSet(raw *RawExport, params IngestParams) (*IngestRowSet, error) {
	profile, err := s.transform.TransformProfile(raw, TransformContext{
		ExternalID: params.ExternalID,
		UserID:     params.UserID,
		Platform:   params.Platform,
		Timezone:   params.Timezone,
		Country:    params.Country,
	})
	if err != nil {
		return nil, err
	}

	rowSet := &IngestRowSet{
		Profile: *profile,
		Prompts: s.transform.TransformPrompts(raw),
		Photos:  s.transform.TransformPhotos(raw),
	}

	switch params.Platform {
	case PlatformTinder:
		// Tinder provides a genuine daily time series; expand it densely
		rowSet.Usage = s.usage.ExpandUsage(raw.Usage)
		rowSet.Bundles = s.matches.BuildTinderMatches(raw.Messages)
	case PlatformHinge:
		// No daily series; interactions yield matches plus identity events
		rowSet.Bundles, rowSet.Events = s.matches.BuildHingeInteractions(raw.Matches)
	}

	first, last := s.deriveActiveWindow(rowSet)
	rowSet.Profile.FirstActiveDate = first
	rowSet.Profile.LastActiveDate = last
	rowSet.Profile.ActiveDayCount = activeDayCount(first, last)

	return rowSet, nil
}

// deriveActiveWindow computes the profile's active window from usage rows,
// falling back to message/event timestamps, then the account creation date.
func (s *IngestService) deriveActiveWindow(rs *IngestRowSet) (time.Time, time.Time) {
	if first, last, ok := UsageWindow(rs.Usage); ok {
		return first, last
	}

	var first, last time.Time
	observe := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}

	for _, bundle := range rs.Bundles {
		if bundle.Match.MatchedAt != nil {
			observe(*bundle.Match.MatchedAt)
		}
		for _, msg := range bundle.Messages {
			observe(msg.SentAt)
		}
	}
	for _, event := range rs.Events {
		observe(event.Timestamp)
	}

	if first.IsZero() {
		created := rs.Profile.CreateDate
		return created, created
	}
	return first.Truncate(24 * time.Hour), last.Truncate(24 * time.Hour)
}

// selectStrategy picks the merge strategy for this upload
func (s *IngestService) selectStrategy(params IngestParams) (string, error) {
	if params.AbsorbExternalID != nil && *params.AbsorbExternalID != "" {
		if *params.AbsorbExternalID == params.ExternalID {
			return "", fmt.Errorf("cannot absorb a profile into itself")
		}
		return StrategyAbsorption, nil
	}

	var existing models.Profile
	err := database.DB.Where("external_id = ? AND platform = ?", params.ExternalID, params.Platform).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StrategyNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check for existing profile: %w", err)
	}
	return StrategyAdditive, nil
}

// keyedMutex serializes work per key. Mutexes are kept for the process
// lifetime; the key space is bounded by distinct uploaded profiles.
type keyedMutex struct {
	locks sync.Map
}

func (m *keyedMutex) Lock(key string) {
	mu, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

func (m *keyedMutex) Unlock(key string) {
	if mu, ok := m.locks.Load(key); ok {
		mu.(*sync.Mutex).Unlock()
	}
}
