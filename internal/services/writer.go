package services

import (
	"fmt"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WriterService executes all inserts/updates for one ingestion inside the
// caller's transaction. Row-sets above the batch threshold are chunked and
// written sequentially, never in parallel, so a failure in any batch aborts
// the whole transaction with no partial state visible to readers.
type WriterService struct {
	cfg *config.Config
	log *zap.Logger
}

// NewWriterService creates a new writer service
func NewWriterService(cfg *config.Config, log *zap.Logger) *WriterService {
	return &WriterService{
		cfg: cfg,
		log: log,
	}
}

// InsertMatchBundles inserts match rows in batches, then stamps each
// bundle's messages with the generated match id and inserts those in larger
// batches. Returns matches and messages written.
func (w *WriterService) InsertMatchBundles(tx *gorm.DB, profileID uint, bundles []MatchBundle) (int, int, error) {
	if len(bundles) == 0 {
		return 0, 0, nil
	}

	matches := make([]*models.Match, len(bundles))
	for i := range bundles {
		bundles[i].Match.ProfileID = profileID
		matches[i] = &bundles[i].Match
	}

	batchSize := w.cfg.Ingest.MatchBatchSize
	for i := 0; i < len(matches); i += batchSize {
		end := i + batchSize
		if end > len(matches) {
			end = len(matches)
		}
		if err := tx.CreateInBatches(matches[i:end], batchSize).Error; err != nil {
			return 0, 0, fmt.Errorf("failed to create matches batch: %w", err)
		}
	}

	var messages []models.Message
	for i := range bundles {
		for j := range bundles[i].Messages {
			bundles[i].Messages[j].MatchID = bundles[i].Match.ID
			bundles[i].Messages[j].ProfileID = profileID
			messages = append(messages, bundles[i].Messages[j])
		}
	}

	if err := w.InsertMessages(tx, messages); err != nil {
		return 0, 0, err
	}

	return len(matches), len(messages), nil
}

// InsertMessages inserts message rows in message-sized batches
func (w *WriterService) InsertMessages(tx *gorm.DB, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batchSize := w.cfg.Ingest.MessageBatchSize
	for i := 0; i < len(messages); i += batchSize {
		end := i + batchSize
		if end > len(messages) {
			end = len(messages)
		}
		if err := tx.CreateInBatches(messages[i:end], batchSize).Error; err != nil {
			return fmt.Errorf("failed to create messages batch: %w", err)
		}
	}
	return nil
}

// UpsertUsage writes usage rows, overwriting every numeric field on conflict
// of (profile, date): exports are cumulative and authoritative, so the
// newest upload's values always win.
func (w *WriterService) UpsertUsage(tx *gorm.DB, profileID uint, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		records[i].ProfileID = profileID
		records[i].ID = 0
	}

	batchSize := w.cfg.Ingest.MessageBatchSize
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"app_opens",
				"likes",
				"passes",
				"super_likes",
				"matches",
				"messages_sent",
				"messages_received",
				"like_rate",
				"match_rate",
				"date_is_missing_from_original_data",
			}),
		}).CreateInBatches(records[i:end], batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert usage batch: %w", err)
		}
	}
	return nil
}

// InsertEvents inserts identity events in message-sized batches
func (w *WriterService) InsertEvents(tx *gorm.DB, profileID uint, events []models.IdentityEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].ProfileID = profileID
	}
	batchSize := w.cfg.Ingest.MessageBatchSize
	for i := 0; i < len(events); i += batchSize {
		end := i + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := tx.CreateInBatches(events[i:end], batchSize).Error; err != nil {
			return fmt.Errorf("failed to create events batch: %w", err)
		}
	}
	return nil
}

// InsertPrompts inserts the full current-state prompt set
func (w *WriterService) InsertPrompts(tx *gorm.DB, profileID uint, prompts []models.ProfilePrompt) error {
	if len(prompts) == 0 {
		return nil
	}
	for i := range prompts {
		prompts[i].ProfileID = profileID
	}
	if err := tx.Create(&prompts).Error; err != nil {
		return fmt.Errorf("failed to create prompts: %w", err)
	}
	return nil
}

// InsertPhotos inserts photo rows
func (w *WriterService) InsertPhotos(tx *gorm.DB, profileID uint, photos []models.ProfilePhoto) error {
	if len(photos) == 0 {
		return nil
	}
	for i := range photos {
		photos[i].ProfileID = profileID
	}
	if err := tx.Create(&photos).Error; err != nil {
		return fmt.Errorf("failed to create photos: %w", err)
	}
	return nil
}
