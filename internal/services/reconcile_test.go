package services

import (
	"errors"
	"testing"
	"time"

	"swipestats-go/internal/models"

	"gorm.io/gorm"
)

// testRowSet builds a fresh transformed row-set for one upload. Always
// rebuilt per call since the merge algorithms fill in generated ids.
func testRowSet(t *testing.T, externalID string) *IngestRowSet {
	t.Helper()
	userID := "user-1"
	return &IngestRowSet{
		Profile: models.Profile{
			ExternalID:      externalID,
			Platform:        PlatformTinder,
			UserID:          &userID,
			CreateDate:      mustDate(t, "2019-01-01"),
			FirstActiveDate: mustDate(t, "2019-01-01"),
			LastActiveDate:  mustDate(t, "2019-01-03"),
			ActiveDayCount:  3,
		},
		Usage: []models.UsageRecord{
			{Date: "2019-01-01", AppOpens: 5, Likes: 10, Passes: 20},
			{Date: "2019-01-02", AppOpens: 0, DateIsMissingFromOriginalData: true},
			{Date: "2019-01-03", AppOpens: 2, Likes: 4, Passes: 6, Matches: 1},
		},
		Bundles: []MatchBundle{
			{
				Match: models.Match{IdentityKey: "Match 1", MatchIndex: 0, MessageCount: 2},
				Messages: []models.Message{
					{Content: "hey", MessageType: "text", SentAt: mustDate(t, "2019-01-01"), MessageIndex: 0},
					{Content: "hi again", MessageType: "text", SentAt: mustDate(t, "2019-01-02"), MessageIndex: 1, TimeSinceLastMessage: 86400},
				},
			},
		},
		Events: []models.IdentityEvent{
			{EventType: "match", Timestamp: time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)},
		},
		Prompts: []models.ProfilePrompt{
			{Prompt: "About me", Answer: "hello"},
		},
		Photos: []models.ProfilePhoto{
			{URL: "https://images.example.com/a.jpg", AddedAt: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func applyNew(t *testing.T, db *gorm.DB, svc *ReconcileService, rs *IngestRowSet) *models.Profile {
	t.Helper()
	var profile *models.Profile
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		profile, _, txErr = svc.ApplyNew(tx, rs)
		return txErr
	})
	if err != nil {
		t.Fatalf("ApplyNew failed: %v", err)
	}
	return profile
}

func TestApplyNew_PersistsFullRowSet(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	profile := applyNew(t, db, svc, testRowSet(t, "acct-1"))

	var usageCount, matchCount, messageCount, eventCount, snapshotCount int64
	db.Model(&models.UsageRecord{}).Where("profile_id = ?", profile.ID).Count(&usageCount)
	db.Model(&models.Match{}).Where("profile_id = ?", profile.ID).Count(&matchCount)
	db.Model(&models.Message{}).Where("profile_id = ?", profile.ID).Count(&messageCount)
	db.Model(&models.IdentityEvent{}).Where("profile_id = ?", profile.ID).Count(&eventCount)
	db.Model(&models.MetaSnapshot{}).Where("profile_id = ?", profile.ID).Count(&snapshotCount)

	if usageCount != 3 || matchCount != 1 || messageCount != 2 || eventCount != 1 {
		t.Fatalf("unexpected row counts: usage=%d matches=%d messages=%d events=%d",
			usageCount, matchCount, messageCount, eventCount)
	}
	if snapshotCount != 1 {
		t.Fatalf("expected exactly 1 snapshot, got %d", snapshotCount)
	}
}

func TestApplyAdditive_IdempotentReupload(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	profile := applyNew(t, db, svc, testRowSet(t, "acct-1"))

	var firstSnapshot models.MetaSnapshot
	if err := db.Where("profile_id = ?", profile.ID).First(&firstSnapshot).Error; err != nil {
		t.Fatalf("missing first snapshot: %v", err)
	}

	// Re-ingest the identical export via the additive path
	var counts *WriteCounts
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Profile
		if err := tx.Where("external_id = ?", "acct-1").First(&existing).Error; err != nil {
			return err
		}
		var txErr error
		_, counts, txErr = svc.ApplyAdditive(tx, &existing, testRowSet(t, "acct-1"))
		return txErr
	})
	if err != nil {
		t.Fatalf("additive re-upload failed: %v", err)
	}

	if counts.Matches != 0 || counts.Messages != 0 || counts.Events != 0 || counts.Photos != 0 {
		t.Fatalf("second pass inserted new rows: %+v", counts)
	}

	var matchCount, eventCount, photoCount int64
	db.Model(&models.Match{}).Where("profile_id = ?", profile.ID).Count(&matchCount)
	db.Model(&models.IdentityEvent{}).Where("profile_id = ?", profile.ID).Count(&eventCount)
	db.Model(&models.ProfilePhoto{}).Where("profile_id = ?", profile.ID).Count(&photoCount)
	if matchCount != 1 || eventCount != 1 || photoCount != 1 {
		t.Fatalf("duplicate rows after re-upload: matches=%d events=%d photos=%d", matchCount, eventCount, photoCount)
	}

	var snapshotCount int64
	db.Model(&models.MetaSnapshot{}).Where("profile_id = ?", profile.ID).Count(&snapshotCount)
	if snapshotCount != 1 {
		t.Fatalf("expected a single recomputed snapshot, got %d", snapshotCount)
	}
	var secondSnapshot models.MetaSnapshot
	if err := db.Where("profile_id = ?", profile.ID).First(&secondSnapshot).Error; err != nil {
		t.Fatalf("missing recomputed snapshot: %v", err)
	}
	if secondSnapshot.Likes != firstSnapshot.Likes ||
		secondSnapshot.ConversationCount != firstSnapshot.ConversationCount ||
		secondSnapshot.SwipesPerDay != firstSnapshot.SwipesPerDay {
		t.Fatalf("recomputed snapshot differs: first=%+v second=%+v", firstSnapshot, secondSnapshot)
	}
}

func TestApplyAdditive_MatchImmutability(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	profile := applyNew(t, db, svc, testRowSet(t, "acct-1"))

	// Upstream changed fields on a known match plus one genuinely new match
	rs := testRowSet(t, "acct-1")
	rs.Bundles[0].Match.MessageCount = 99
	rs.Bundles = append(rs.Bundles, MatchBundle{
		Match: models.Match{IdentityKey: "Match 2", MatchIndex: 1, MessageCount: 0},
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Profile
		if err := tx.Where("external_id = ?", "acct-1").First(&existing).Error; err != nil {
			return err
		}
		_, _, txErr := svc.ApplyAdditive(tx, &existing, rs)
		return txErr
	})
	if err != nil {
		t.Fatalf("additive update failed: %v", err)
	}

	var known models.Match
	if err := db.Where("profile_id = ? AND identity_key = ?", profile.ID, "Match 1").First(&known).Error; err != nil {
		t.Fatalf("known match missing: %v", err)
	}
	if known.MessageCount != 2 {
		t.Fatalf("persisted match was mutated: messageCount=%d", known.MessageCount)
	}

	var matchCount int64
	db.Model(&models.Match{}).Where("profile_id = ?", profile.ID).Count(&matchCount)
	if matchCount != 2 {
		t.Fatalf("expected the new match appended, got %d rows", matchCount)
	}
}

func TestApplyAdditive_UsageNewestWins(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	profile := applyNew(t, db, svc, testRowSet(t, "acct-1"))

	rs := testRowSet(t, "acct-1")
	rs.Usage[0].Likes = 42

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Profile
		if err := tx.Where("external_id = ?", "acct-1").First(&existing).Error; err != nil {
			return err
		}
		_, _, txErr := svc.ApplyAdditive(tx, &existing, rs)
		return txErr
	})
	if err != nil {
		t.Fatalf("additive update failed: %v", err)
	}

	var day models.UsageRecord
	if err := db.Where("profile_id = ? AND date = ?", profile.ID, "2019-01-01").First(&day).Error; err != nil {
		t.Fatalf("usage day missing: %v", err)
	}
	if day.Likes != 42 {
		t.Fatalf("expected newest upload to win, got likes=%d", day.Likes)
	}

	var usageCount int64
	db.Model(&models.UsageRecord{}).Where("profile_id = ?", profile.ID).Count(&usageCount)
	if usageCount != 3 {
		t.Fatalf("usage upsert duplicated rows: %d", usageCount)
	}
}

func TestApplyAdditive_PromptsFullyReplaced(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	profile := applyNew(t, db, svc, testRowSet(t, "acct-1"))

	rs := testRowSet(t, "acct-1")
	rs.Prompts = []models.ProfilePrompt{
		{Prompt: "New prompt", Answer: "new answer"},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Profile
		if err := tx.Where("external_id = ?", "acct-1").First(&existing).Error; err != nil {
			return err
		}
		_, _, txErr := svc.ApplyAdditive(tx, &existing, rs)
		return txErr
	})
	if err != nil {
		t.Fatalf("additive update failed: %v", err)
	}

	var prompts []models.ProfilePrompt
	db.Where("profile_id = ?", profile.ID).Find(&prompts)
	if len(prompts) != 1 || prompts[0].Prompt != "New prompt" {
		t.Fatalf("prompts not fully replaced: %+v", prompts)
	}
}

func TestApplyAbsorption_OverlapRejected(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	applyNew(t, db, svc, testRowSet(t, "old-acct"))

	// New window starts before the old one ends
	rs := testRowSet(t, "new-acct")
	rs.Profile.FirstActiveDate = mustDate(t, "2019-01-02")
	rs.Profile.LastActiveDate = mustDate(t, "2019-06-01")

	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, txErr := svc.ApplyAbsorption(tx, "old-acct", rs)
		return txErr
	})
	if !errors.Is(err, ErrActiveWindowOverlap) {
		t.Fatalf("expected ErrActiveWindowOverlap, got %v", err)
	}

	// Nothing committed: the old profile is intact, the new one absent
	var profileCount int64
	db.Model(&models.Profile{}).Count(&profileCount)
	if profileCount != 1 {
		t.Fatalf("overlap rejection leaked writes: %d profiles", profileCount)
	}
	var old models.Profile
	if err := db.Where("external_id = ?", "old-acct").First(&old).Error; err != nil {
		t.Fatalf("old profile lost after rejected absorption: %v", err)
	}
}

func TestApplyAbsorption_MissingOldProfile(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	rs := testRowSet(t, "new-acct")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, txErr := svc.ApplyAbsorption(tx, "ghost-acct", rs)
		return txErr
	})
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestApplyAbsorption_Correctness(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	oldProfile := applyNew(t, db, svc, testRowSet(t, "old-acct"))

	// New account starts well after the old one ended
	rs := testRowSet(t, "new-acct")
	rs.Profile.FirstActiveDate = mustDate(t, "2020-02-01")
	rs.Profile.LastActiveDate = mustDate(t, "2020-03-01")
	rs.Usage = []models.UsageRecord{
		{Date: "2020-02-01", Likes: 7, Passes: 3},
	}
	rs.Bundles = []MatchBundle{
		{Match: models.Match{IdentityKey: "Match 1", MatchIndex: 0, MessageCount: 0}},
	}

	var merged *models.Profile
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		merged, _, txErr = svc.ApplyAbsorption(tx, "old-acct", rs)
		return txErr
	})
	if err != nil {
		t.Fatalf("absorption failed: %v", err)
	}

	// Active window is the union of both inputs' windows
	if merged.FirstActiveDate.Format(dateLayout) != "2019-01-01" {
		t.Fatalf("expected union first active 2019-01-01, got %s", merged.FirstActiveDate.Format(dateLayout))
	}
	if merged.LastActiveDate.Format(dateLayout) != "2020-03-01" {
		t.Fatalf("expected union last active 2020-03-01, got %s", merged.LastActiveDate.Format(dateLayout))
	}
	if merged.ActiveDayCount != activeDayCount(merged.FirstActiveDate, merged.LastActiveDate) {
		t.Fatalf("day count not recomputed from union: %d", merged.ActiveDayCount)
	}

	// The old profile id no longer exists
	var gone models.Profile
	err = db.Where("external_id = ?", "old-acct").First(&gone).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("old profile still present: %v", err)
	}

	// Every match previously owned by the old id is queryable only under
	// the new id, and identity keys were not compared across accounts:
	// both "Match 1" rows coexist
	var orphaned int64
	db.Model(&models.Match{}).Where("profile_id = ?", oldProfile.ID).Count(&orphaned)
	if orphaned != 0 {
		t.Fatalf("matches still owned by the absorbed profile: %d", orphaned)
	}
	var mergedMatches int64
	db.Model(&models.Match{}).Where("profile_id = ?", merged.ID).Count(&mergedMatches)
	if mergedMatches != 2 {
		t.Fatalf("expected 2 matches under the new id (no cross-account dedup), got %d", mergedMatches)
	}

	// Usage from both accounts lives under the new id
	var usageCount int64
	db.Model(&models.UsageRecord{}).Where("profile_id = ?", merged.ID).Count(&usageCount)
	if usageCount != 4 {
		t.Fatalf("expected 4 usage days after transfer, got %d", usageCount)
	}

	// Exactly one snapshot, computed from the combined graph
	var snapshots []models.MetaSnapshot
	db.Where("profile_id = ?", merged.ID).Find(&snapshots)
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot after absorption, got %d", len(snapshots))
	}
	if snapshots[0].Likes != 14+7 {
		t.Fatalf("snapshot not computed from combined usage: likes=%d", snapshots[0].Likes)
	}
}

func TestRecomputeSnapshot_MissingProfileAborts(t *testing.T) {
	db := openTestDB(t)
	svc := testReconcileService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := svc.metrics.RecomputeSnapshot(tx, 999)
		return txErr
	})
	if err == nil {
		t.Fatalf("expected error for unfetchable profile")
	}
}
