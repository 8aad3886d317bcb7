package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Structural failures abort the enclosing ingestion transaction. Skippable
// data defects are filtered out with a log line and never abort anything.
var (
	ErrMissingIdentity     = errors.New("export is missing required identity fields")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrActiveWindowOverlap = errors.New("active windows overlap")
)

// Supported platforms.
const (
	PlatformTinder = "tinder"
	PlatformHinge  = "hinge"
)

// RawExport is the JSON shape of an uploaded export. Tinder-style exports
// carry User/Usage/Messages; Hinge-style exports carry User/Matches/Prompts/
// Media. Absent sections are valid empty sets (consent-driven omissions).
type RawExport struct {
	User     *RawUser          `json:"user"`
	Usage    *RawUsage         `json:"usage"`
	Messages []RawConversation `json:"messages"`
	Matches  []RawInteraction  `json:"matches"`
	Prompts  []RawPrompt       `json:"prompts"`
	Media    []RawMedia        `json:"media"`
}

// RawUser holds the demographic section of an export
type RawUser struct {
	BirthDate    string  `json:"birth_date"`
	CreateDate   string  `json:"create_date"`
	Gender       *string `json:"gender"`
	InterestedIn *string `json:"interested_in"`
	City         *string `json:"city"`
	Country      *string `json:"country"`
	Bio          *string `json:"bio"`
	JobTitle     *string `json:"job_title"`
	School       *string `json:"schools"`
	Education    *string `json:"education"`
	AgeFilterMin *int    `json:"age_filter_min"`
	AgeFilterMax *int    `json:"age_filter_max"`
}

// RawUsage holds the sparse daily time series, each map keyed by YYYY-MM-DD
type RawUsage struct {
	AppOpens         map[string]int `json:"app_opens"`
	SwipeLikes       map[string]int `json:"swipes_likes"`
	SwipePasses      map[string]int `json:"swipes_passes"`
	SuperLikes       map[string]int `json:"superlikes"`
	Matches          map[string]int `json:"matches"`
	MessagesSent     map[string]int `json:"messages_sent"`
	MessagesReceived map[string]int `json:"messages_received"`
}

// RawConversation is one Tinder-style conversation with a native match id
type RawConversation struct {
	MatchID  string       `json:"match_id"`
	Messages []RawMessage `json:"messages"`
}

// RawMessage is one message inside a conversation
type RawMessage struct {
	SentDate  string `json:"sent_date"`
	Message   string `json:"message"`
	Type      string `json:"type"`      // text, gif, link
	Direction string `json:"direction"` // sent, received; exports that omit it are outgoing-only
}

// RawInteraction is one Hinge-style interaction block. The platform provides
// no stable match id; identity is reconstructed from timestamps.
type RawInteraction struct {
	Like  []RawTimestamped `json:"like"`
	Match []RawTimestamped `json:"match"`
	Chats []RawChat        `json:"chats"`
	Block []RawBlock       `json:"block"`
}

// RawTimestamped is a bare timestamped event entry
type RawTimestamped struct {
	Timestamp string `json:"timestamp"`
}

// RawChat is one outgoing chat message (Hinge exports omit inbound messages)
type RawChat struct {
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// RawBlock is a reject/unmatch entry
type RawBlock struct {
	BlockType string `json:"block_type"` // remove, block
	Timestamp string `json:"timestamp"`
}

// RawPrompt is one profile prompt/answer pair
type RawPrompt struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// RawMedia is one photo reference
type RawMedia struct {
	URL string `json:"url"`
}

// TransformContext carries the ingestion parameters the export itself does
// not contain.
type TransformContext struct {
	ExternalID string
	UserID     string
	Platform   string
	Timezone   *string
	Country    *string
}

// TransformService maps raw exports into normalized Profile attribute sets.
// Pure mapping, no I/O: the same input always yields the same output.
type TransformService struct {
	cfg *config.Config
	log *zap.Logger
}

// NewTransformService creates a new transform service
func NewTransformService(cfg *config.Config, log *zap.Logger) *TransformService {
	return &TransformService{
		cfg: cfg,
		log: log,
	}
}

// TransformProfile maps the export's demographic section into a Profile
// attribute set, independent of any existing row. The active window and
// timestamps are filled later by the ingestion pipeline. Fails only if the
// required identity fields (external id, birth/creation date) are absent.
func (s *TransformService) TransformProfile(raw *RawExport, tctx TransformContext) (*models.Profile, error) {
	if tctx.ExternalID == "" {
		return nil, fmt.Errorf("%w: external id", ErrMissingIdentity)
	}
	if tctx.Platform != PlatformTinder && tctx.Platform != PlatformHinge {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, tctx.Platform)
	}
	if raw.User == nil {
		return nil, fmt.Errorf("%w: user section", ErrMissingIdentity)
	}

	createDate, err := parseExportTime(raw.User.CreateDate)
	if err != nil {
		return nil, fmt.Errorf("%w: create date", ErrMissingIdentity)
	}

	profile := &models.Profile{
		ExternalID:   tctx.ExternalID,
		Platform:     tctx.Platform,
		UserID:       &tctx.UserID,
		CreateDate:   createDate,
		Gender:       raw.User.Gender,
		InterestedIn: raw.User.InterestedIn,
		City:         decodeOptional(raw.User.City),
		Country:      raw.User.Country,
		Timezone:     tctx.Timezone,
		Bio:          decodeOptional(raw.User.Bio),
		JobTitle:     decodeOptional(raw.User.JobTitle),
		School:       decodeOptional(raw.User.School),
		Education:    decodeOptional(raw.User.Education),
		AgeFilterMin: raw.User.AgeFilterMin,
		AgeFilterMax: raw.User.AgeFilterMax,
	}

	if raw.User.BirthDate != "" {
		birthDate, err := parseExportTime(raw.User.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("%w: birth date", ErrMissingIdentity)
		}
		profile.BirthDate = &birthDate
	}

	// Country override from ingestion parameters wins over the export
	if tctx.Country != nil && *tctx.Country != "" {
		profile.Country = tctx.Country
	}

	return profile, nil
}

// TransformPrompts maps the export's prompt section into current-state
// prompt rows. Entries missing a prompt or answer are skippable defects.
func (s *TransformService) TransformPrompts(raw *RawExport) []models.ProfilePrompt {
	prompts := make([]models.ProfilePrompt, 0, len(raw.Prompts))
	for _, p := range raw.Prompts {
		if p.Prompt == "" || p.Answer == "" {
			s.log.Warn("Skipping prompt with missing fields", zap.String("prompt", p.Prompt))
			continue
		}
		payload, _ := marshalPromptPayload(p)
		prompts = append(prompts, models.ProfilePrompt{
			Prompt:  html.UnescapeString(p.Prompt),
			Answer:  html.UnescapeString(p.Answer),
			Payload: payload,
		})
	}
	return prompts
}

// TransformPhotos maps the export's media section into photo rows. A zero
// photo export is a valid empty set, never an error.
func (s *TransformService) TransformPhotos(raw *RawExport) []models.ProfilePhoto {
	photos := make([]models.ProfilePhoto, 0, len(raw.Media))
	for _, m := range raw.Media {
		if strings.TrimSpace(m.URL) == "" {
			continue
		}
		photos = append(photos, models.ProfilePhoto{
			URL:     m.URL,
			AddedAt: time.Now().UTC(),
		})
	}
	return photos
}

// marshalPromptPayload keeps the raw prompt record alongside the decoded row
func marshalPromptPayload(p RawPrompt) (datatypes.JSON, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// exportTimeLayouts are the timestamp formats observed across platform exports
var exportTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseExportTime parses a timestamp in any of the known export formats
func parseExportTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range exportTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// decodeOptional HTML-entity-decodes an optional free text field
func decodeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	decoded := html.UnescapeString(*value)
	return &decoded
}
