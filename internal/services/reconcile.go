package services

import (
	"errors"
	"fmt"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Merge strategies. The caller selects one based on whether a profile
// already exists for the upload's external id and whether an absorption
// into a different existing id was requested.
const (
	StrategyNew        = "new"
	StrategyAdditive   = "additive"
	StrategyAbsorption = "absorption"
)

// IngestRowSet is everything one transformed export wants persisted.
type IngestRowSet struct {
	Profile models.Profile
	Usage   []models.UsageRecord
	Bundles []MatchBundle
	Events  []models.IdentityEvent
	Prompts []models.ProfilePrompt
	Photos  []models.ProfilePhoto
}

// WriteCounts summarizes what one merge actually wrote.
type WriteCounts struct {
	Matches   int `json:"matches"`
	Messages  int `json:"messages"`
	Events    int `json:"events"`
	Photos    int `json:"photos"`
	Prompts   int `json:"prompts"`
	UsageDays int `json:"usage_days"`
}

// ReconcileService decides nothing itself; it executes the merge algorithm
// for the strategy the caller selected. All methods run inside the caller's
// transaction and any error aborts it.
type ReconcileService struct {
	cfg     *config.Config
	log     *zap.Logger
	writer  *WriterService
	metrics *MetricsService
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(cfg *config.Config, log *zap.Logger, writer *WriterService, metrics *MetricsService) *ReconcileService {
	return &ReconcileService{
		cfg:     cfg,
		log:     log,
		writer:  writer,
		metrics: metrics,
	}
}

// ApplyNew inserts a fresh profile with its full row-set. No dedup needed.
func (r *ReconcileService) ApplyNew(tx *gorm.DB, rs *IngestRowSet) (*models.Profile, *WriteCounts, error) {
	if err := tx.Create(&rs.Profile).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create profile: %w", err)
	}

	counts, err := r.insertRowSet(tx, rs.Profile.ID, rs)
	if err != nil {
		return nil, nil, err
	}

	if _, err := r.metrics.RecomputeSnapshot(tx, rs.Profile.ID); err != nil {
		return nil, nil, err
	}

	return &rs.Profile, counts, nil
}

// ApplyAdditive merges a re-upload of the same external id. Profile
// attributes are overwritten (newest export wins), usage is upserted,
// matches and events are deduped before insert, prompts are fully replaced,
// photos merged by URL. An upload that introduces nothing new is a valid
// no-op other than the snapshot and usage overwrite.
func (r *ReconcileService) ApplyAdditive(tx *gorm.DB, existing *models.Profile, rs *IngestRowSet) (*models.Profile, *WriteCounts, error) {
	// 1. Overwrite profile attributes wholesale, never field-by-field
	rs.Profile.ID = existing.ID
	rs.Profile.CreatedAt = existing.CreatedAt
	if err := tx.Save(&rs.Profile).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to overwrite profile: %w", err)
	}
	profileID := existing.ID

	// 2. Usage upsert: newest upload's values win per (profile, date)
	if err := r.writer.UpsertUsage(tx, profileID, rs.Usage); err != nil {
		return nil, nil, err
	}

	// 3. Matches are immutable historical facts: skip already-known
	// identity keys, append only genuinely new matches with their own
	// messages, never update an existing row
	var knownKeys []string
	if err := tx.Model(&models.Match{}).Where("profile_id = ?", profileID).
		Pluck("identity_key", &knownKeys).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load existing match keys: %w", err)
	}
	known := make(map[string]bool, len(knownKeys))
	for _, key := range knownKeys {
		known[key] = true
	}

	newBundles := make([]MatchBundle, 0, len(rs.Bundles))
	for _, bundle := range rs.Bundles {
		if known[bundle.Match.IdentityKey] {
			continue
		}
		newBundles = append(newBundles, bundle)
	}

	matchCount, messageCount, err := r.writer.InsertMatchBundles(tx, profileID, newBundles)
	if err != nil {
		return nil, nil, err
	}

	// 4. Events deduped by exact timestamp
	var knownTimestamps []time.Time
	if err := tx.Model(&models.IdentityEvent{}).Where("profile_id = ?", profileID).
		Pluck("timestamp", &knownTimestamps).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load existing event timestamps: %w", err)
	}
	seen := make(map[int64]bool, len(knownTimestamps))
	for _, ts := range knownTimestamps {
		seen[ts.UnixNano()] = true
	}

	newEvents := make([]models.IdentityEvent, 0, len(rs.Events))
	for _, event := range rs.Events {
		if seen[event.Timestamp.UnixNano()] {
			continue
		}
		newEvents = append(newEvents, event)
	}
	if err := r.writer.InsertEvents(tx, profileID, newEvents); err != nil {
		return nil, nil, err
	}

	// 5. Prompts are current state, not history: full replace
	if err := tx.Where("profile_id = ?", profileID).Delete(&models.ProfilePrompt{}).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to clear prompts: %w", err)
	}
	if err := r.writer.InsertPrompts(tx, profileID, rs.Prompts); err != nil {
		return nil, nil, err
	}

	// 6. Photos merge by URL; existing photos are never deleted
	var knownURLs []string
	if err := tx.Model(&models.ProfilePhoto{}).Where("profile_id = ?", profileID).
		Pluck("url", &knownURLs).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load existing photo urls: %w", err)
	}
	urls := make(map[string]bool, len(knownURLs))
	for _, url := range knownURLs {
		urls[url] = true
	}
	newPhotos := make([]models.ProfilePhoto, 0, len(rs.Photos))
	for _, photo := range rs.Photos {
		if urls[photo.URL] {
			continue
		}
		newPhotos = append(newPhotos, photo)
	}
	if err := r.writer.InsertPhotos(tx, profileID, newPhotos); err != nil {
		return nil, nil, err
	}

	// 7. Snapshot recomputed from the full merged graph
	if _, err := r.metrics.RecomputeSnapshot(tx, profileID); err != nil {
		return nil, nil, err
	}

	r.log.Info("Additive update applied",
		zap.Uint("profile_id", profileID),
		zap.Int("new_matches", matchCount),
		zap.Int("new_events", len(newEvents)),
		zap.Int("new_photos", len(newPhotos)),
	)

	return &rs.Profile, &WriteCounts{
		Matches:   matchCount,
		Messages:  messageCount,
		Events:    len(newEvents),
		Photos:    len(newPhotos),
		Prompts:   len(rs.Prompts),
		UsageDays: len(rs.Usage),
	}, nil
}

// ApplyAbsorption merges an old account's history into a newly recognized
// account for the same underlying person. The old and new active windows
// must not overlap; overlapping windows make merged match/usage identity
// ambiguous and are rejected with ErrActiveWindowOverlap.
func (r *ReconcileService) ApplyAbsorption(tx *gorm.DB, oldExternalID string, rs *IngestRowSet) (*models.Profile, *WriteCounts, error) {
	// 1. Load the old profile; fail if absent
	var old models.Profile
	err := tx.Where("external_id = ? AND platform = ?", oldExternalID, rs.Profile.Platform).
		First(&old).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: external id %s", ErrProfileNotFound, oldExternalID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load old profile: %w", err)
	}

	// 2. Validate non-overlap of the two active windows
	if !old.LastActiveDate.Before(rs.Profile.FirstActiveDate) {
		return nil, nil, fmt.Errorf("%w: old window ends %s, new begins %s",
			ErrActiveWindowOverlap,
			old.LastActiveDate.Format(dateLayout),
			rs.Profile.FirstActiveDate.Format(dateLayout))
	}

	// 3. Fresh profile keyed by the new external id, active window set to
	// the union of both windows
	if old.FirstActiveDate.Before(rs.Profile.FirstActiveDate) {
		rs.Profile.FirstActiveDate = old.FirstActiveDate
	}
	if old.LastActiveDate.After(rs.Profile.LastActiveDate) {
		rs.Profile.LastActiveDate = old.LastActiveDate
	}
	rs.Profile.ActiveDayCount = activeDayCount(rs.Profile.FirstActiveDate, rs.Profile.LastActiveDate)

	if err := tx.Create(&rs.Profile).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create absorbing profile: %w", err)
	}
	newID := rs.Profile.ID

	// 4. Repoint every transferred row from the old profile id to the new one
	repoints := []interface{}{
		&models.UsageRecord{},
		&models.Match{},
		&models.Message{},
		&models.IdentityEvent{},
		&models.ProfilePhoto{},
		&models.OriginalFileReference{},
	}
	for _, entity := range repoints {
		if err := tx.Model(entity).Where("profile_id = ?", old.ID).
			Update("profile_id", newID).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to repoint %T: %w", entity, err)
		}
	}

	// 5. Delete the old profile row along with its now-stale derived
	// snapshot and profile-only auxiliary rows (prompts are current state
	// of the old account, superseded by the new export's set)
	if err := tx.Where("profile_id = ?", old.ID).Delete(&models.MetaSnapshot{}).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	if err := tx.Where("profile_id = ?", old.ID).Delete(&models.ProfilePrompt{}).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to delete old prompts: %w", err)
	}
	if err := tx.Delete(&models.Profile{}, old.ID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to delete old profile: %w", err)
	}

	// 6. Insert the new export's own rows without dedup against the
	// transferred rows: two accounts' match identifiers are never assumed
	// comparable
	counts, err := r.insertRowSet(tx, newID, rs)
	if err != nil {
		return nil, nil, err
	}

	// 7. Snapshot from the fully combined graph
	if _, err := r.metrics.RecomputeSnapshot(tx, newID); err != nil {
		return nil, nil, err
	}

	r.log.Info("Absorption applied",
		zap.Uint("old_profile_id", old.ID),
		zap.Uint("new_profile_id", newID),
		zap.String("old_external_id", oldExternalID),
		zap.String("new_external_id", rs.Profile.ExternalID),
	)

	return &rs.Profile, counts, nil
}

// insertRowSet writes a full row-set under a profile with no dedup
func (r *ReconcileService) insertRowSet(tx *gorm.DB, profileID uint, rs *IngestRowSet) (*WriteCounts, error) {
	if err := r.writer.UpsertUsage(tx, profileID, rs.Usage); err != nil {
		return nil, err
	}
	matchCount, messageCount, err := r.writer.InsertMatchBundles(tx, profileID, rs.Bundles)
	if err != nil {
		return nil, err
	}
	if err := r.writer.InsertEvents(tx, profileID, rs.Events); err != nil {
		return nil, err
	}
	if err := r.writer.InsertPrompts(tx, profileID, rs.Prompts); err != nil {
		return nil, err
	}
	if err := r.writer.InsertPhotos(tx, profileID, rs.Photos); err != nil {
		return nil, err
	}

	return &WriteCounts{
		Matches:   matchCount,
		Messages:  messageCount,
		Events:    len(rs.Events),
		Photos:    len(rs.Photos),
		Prompts:   len(rs.Prompts),
		UsageDays: len(rs.Usage),
	}, nil
}

// activeDayCount is the inclusive day span of an active window
func activeDayCount(first, last time.Time) int {
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first).Hours()/24) + 1
}
