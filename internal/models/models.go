package models

import (
	"time"

	"gorm.io/datatypes"
)

// Profile is one dating-app account: one row per (platform, external account id).
// Attributes are overwritten wholesale on every additive re-upload; the row is
// deleted when absorbed into another profile.
type Profile struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	ExternalID string  `gorm:"uniqueIndex:idx_profiles_platform_external;type:varchar(128);not null" json:"external_id"`
	Platform   string  `gorm:"uniqueIndex:idx_profiles_platform_external;type:varchar(32);not null;index" json:"platform"` // tinder, hinge
	UserID     *string `gorm:"type:varchar(128);index" json:"user_id,omitempty"`                                           // owning account; nullable mid-merge

	BirthDate    *time.Time `json:"birth_date,omitempty"`
	CreateDate   time.Time  `gorm:"not null" json:"create_date"` // account creation per the export
	Gender       *string    `gorm:"type:varchar(32)" json:"gender,omitempty"`
	InterestedIn *string    `gorm:"type:varchar(32)" json:"interested_in,omitempty"`
	City         *string    `gorm:"type:varchar(128)" json:"city,omitempty"`
	Country      *string    `gorm:"type:varchar(64)" json:"country,omitempty"`
	Timezone     *string    `gorm:"type:varchar(64)" json:"timezone,omitempty"`
	Bio          *string    `gorm:"type:text" json:"bio,omitempty"`
	JobTitle     *string    `gorm:"type:varchar(255)" json:"job_title,omitempty"`
	School       *string    `gorm:"type:varchar(255)" json:"school,omitempty"`
	Education    *string    `gorm:"type:varchar(255)" json:"education,omitempty"`
	AgeFilterMin *int       `json:"age_filter_min,omitempty"`
	AgeFilterMax *int       `json:"age_filter_max,omitempty"`

	FirstActiveDate time.Time `gorm:"not null;index" json:"first_active_date"`
	LastActiveDate  time.Time `gorm:"not null;index" json:"last_active_date"`
	ActiveDayCount  int       `gorm:"default:0" json:"active_day_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	UsageRecords   []UsageRecord           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Matches        []Match                 `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	IdentityEvents []IdentityEvent         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Prompts        []ProfilePrompt         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Photos         []ProfilePhoto          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Snapshots      []MetaSnapshot          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	FileReferences []OriginalFileReference `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// UsageRecord is one calendar day of activity counters for a profile.
// Unique per (profile, date); on conflict the newest upload's values win.
type UsageRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProfileID uint   `gorm:"not null;uniqueIndex:idx_usage_profile_date" json:"profile_id"`
	Date      string `gorm:"type:date;not null;uniqueIndex:idx_usage_profile_date;index" json:"date"` // YYYY-MM-DD

	AppOpens         int `gorm:"default:0" json:"app_opens"`
	Likes            int `gorm:"default:0" json:"likes"`
	Passes           int `gorm:"default:0" json:"passes"`
	SuperLikes       int `gorm:"default:0" json:"super_likes"`
	Matches          int `gorm:"default:0" json:"matches"`
	MessagesSent     int `gorm:"default:0" json:"messages_sent"`
	MessagesReceived int `gorm:"default:0" json:"messages_received"`

	LikeRate                      float64 `gorm:"default:0" json:"like_rate"`  // likes / (likes+passes) for this day
	MatchRate                     float64 `gorm:"default:0" json:"match_rate"` // matches / likes for this day
	DateIsMissingFromOriginalData bool    `gorm:"default:false" json:"date_is_missing_from_original_data"`

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Match is one mutual connection. Matches are immutable historical facts:
// once persisted they are never edited by later uploads, only appended to.
type Match struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	ProfileID uint `gorm:"not null;index:idx_matches_profile_key" json:"profile_id"`
	// IdentityKey is the platform-provided match id where one exists, else a
	// timestamp-proxy id generated at transform time. Additive re-uploads
	// dedup on it; absorption never compares keys across accounts.
	IdentityKey string `gorm:"type:varchar(128);not null;index:idx_matches_profile_key" json:"identity_key"`
	MatchIndex  int    `gorm:"not null" json:"match_index"` // ordering index within the export

	// MatchedAt is the platform's match timestamp where the export carries
	// one; falls back to the first message timestamp otherwise.
	MatchedAt *time.Time `gorm:"index" json:"matched_at,omitempty"`

	MessageCount int `gorm:"default:0" json:"message_count"`
	GifCount     int `gorm:"default:0" json:"gif_count"`
	LinkCount    int `gorm:"default:0" json:"link_count"`

	FirstMessageAt *time.Time `gorm:"index" json:"first_message_at,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`

	ResponseTimeMedianSeconds *float64 `json:"response_time_median_seconds,omitempty"`
	ConversationDurationDays  *int     `json:"conversation_duration_days,omitempty"`
	LongestGapHours           *float64 `json:"longest_gap_hours,omitempty"`
	// ImbalanceRatio is sent/received; nil for platforms whose exports only
	// contain outgoing messages.
	ImbalanceRatio   *float64 `json:"imbalance_ratio,omitempty"`
	OtherSideReplied *bool    `json:"other_side_replied,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	// Relationships
	Profile  Profile   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Messages []Message `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// Message is a single message owned by exactly one Match. ProfileID is
// denormalized so absorption can repoint a profile's messages in one update.
type Message struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	MatchID   uint `gorm:"not null;index" json:"match_id"`
	ProfileID uint `gorm:"not null;index" json:"profile_id"`

	Content      string    `gorm:"type:text;not null" json:"content"`
	MessageType  string    `gorm:"type:varchar(32);default:'text'" json:"message_type"` // text, gif, link
	SentAt       time.Time `gorm:"not null;index" json:"sent_at"`
	MessageIndex int       `gorm:"not null" json:"message_index"`
	// Seconds since the previous message in the same conversation; zero for
	// the first message.
	TimeSinceLastMessage float64 `gorm:"default:0" json:"time_since_last_message"`

	// Relationships
	Match Match `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// IdentityEvent is a timestamped platform interaction (like_sent, reject,
// match, unmatch, message_sent, block), optionally linked to a Match.
// Deduplicated by exact timestamp per profile on additive re-uploads.
type IdentityEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProfileID uint      `gorm:"not null;index:idx_events_profile_ts" json:"profile_id"`
	MatchID   *uint     `gorm:"index" json:"match_id,omitempty"`
	EventType string    `gorm:"type:varchar(32);not null;index" json:"event_type"`
	Timestamp time.Time `gorm:"not null;index:idx_events_profile_ts" json:"timestamp"`

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// ProfilePrompt is one current prompt/answer pair. Prompts represent current
// state, not history: additive re-uploads fully replace the set.
type ProfilePrompt struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ProfileID uint           `gorm:"not null;index" json:"profile_id"`
	Prompt    string         `gorm:"type:varchar(500);not null" json:"prompt"`
	Answer    string         `gorm:"type:text;not null" json:"answer"`
	Payload   datatypes.JSON `json:"payload,omitempty"` // raw prompt record as exported

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// ProfilePhoto is a merged-by-URL photo reference. Photos are never deleted
// by later uploads; only unseen URLs are added.
type ProfilePhoto struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProfileID uint      `gorm:"not null;index:idx_photos_profile_url" json:"profile_id"`
	URL       string    `gorm:"type:varchar(1024);not null;index:idx_photos_profile_url" json:"url"`
	AddedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"added_at"`

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// MetaSnapshot is the derived statistics row for a profile, entirely a
// function of its UsageRecord/Match/IdentityEvent graph. Deleted and fully
// recomputed after any structural change; never patched incrementally.
type MetaSnapshot struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProfileID uint   `gorm:"not null;uniqueIndex:idx_snapshots_profile_period" json:"profile_id"`
	PeriodKey string `gorm:"type:varchar(32);not null;uniqueIndex:idx_snapshots_profile_period" json:"period_key"` // alltime, last30, 2023, 2023-Q2
	From      string `gorm:"type:date" json:"from"`
	To        string `gorm:"type:date" json:"to"`

	AppOpens         int `gorm:"default:0" json:"app_opens"`
	Likes            int `gorm:"default:0" json:"likes"`
	Passes           int `gorm:"default:0" json:"passes"`
	SuperLikes       int `gorm:"default:0" json:"super_likes"`
	Matches          int `gorm:"default:0" json:"matches"`
	MessagesSent     int `gorm:"default:0" json:"messages_sent"`
	MessagesReceived int `gorm:"default:0" json:"messages_received"`

	LikeRate     float64 `gorm:"default:0" json:"like_rate"`
	MatchRate    float64 `gorm:"default:0" json:"match_rate"`
	SwipesPerDay float64 `gorm:"default:0" json:"swipes_per_day"`

	ConversationCount        int `gorm:"default:0" json:"conversation_count"`
	ConversationsWithMessage int `gorm:"default:0" json:"conversations_with_message"`
	GhostedCount             int `gorm:"default:0" json:"ghosted_count"`

	ResponseTimeMedianSeconds      *float64 `json:"response_time_median_seconds,omitempty"`
	ResponseTimeMeanSeconds        *float64 `json:"response_time_mean_seconds,omitempty"`
	ConversationDurationMedianDays *float64 `json:"conversation_duration_median_days,omitempty"`
	ConversationDurationMaxDays    *int     `json:"conversation_duration_max_days,omitempty"`
	MessagesPerConversationMedian  *float64 `json:"messages_per_conversation_median,omitempty"`
	MessagesPerConversationMean    *float64 `json:"messages_per_conversation_mean,omitempty"`

	ComputedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"computed_at"`

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// OriginalFileReference is the immutable audit pointer to one ingested raw
// export, one row per ingestion call.
type OriginalFileReference struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProfileID   uint           `gorm:"not null;index" json:"profile_id"`
	IngestionID string         `gorm:"uniqueIndex;type:varchar(64);not null" json:"ingestion_id"`
	DataURL     string         `gorm:"type:varchar(1024);not null" json:"data_url"`
	SizeMB      float64        `gorm:"default:0" json:"size_mb"`
	Strategy    string         `gorm:"type:varchar(32);not null" json:"strategy"` // new, additive, absorption
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	IngestedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"ingested_at"`

	// Relationships
	Profile Profile `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
