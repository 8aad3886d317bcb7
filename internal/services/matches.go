package services

import (
	"fmt"
	"html"
	"sort"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchBundle pairs one Match row with its own message rows. Messages get
// their MatchID filled in after the match row is persisted.
type MatchBundle struct {
	Match    models.Match
	Messages []models.Message
}

// MatchService groups raw conversation data into match records plus
// per-message rows, computing per-conversation derived figures.
type MatchService struct {
	cfg *config.Config
	log *zap.Logger
}

// NewMatchService creates a new match service
func NewMatchService(cfg *config.Config, log *zap.Logger) *MatchService {
	return &MatchService{
		cfg: cfg,
		log: log,
	}
}

// BuildTinderMatches builds match bundles from Tinder-style conversations.
// Conversations carry a native match id; messages are processed oldest first.
func (s *MatchService) BuildTinderMatches(conversations []RawConversation) []MatchBundle {
	bundles := make([]MatchBundle, 0, len(conversations))

	for i, conv := range conversations {
		messages := s.buildMessages(conv.Messages)

		identityKey := conv.MatchID
		if identityKey == "" {
			identityKey = timestampProxyID(messages)
			if identityKey == "" {
				s.log.Warn("Skipping conversation with no identity", zap.Int("index", i))
				continue
			}
		}

		match := s.buildMatch(identityKey, i, messages)
		ComputeImbalance(&match, conv.Messages)
		bundles = append(bundles, MatchBundle{Match: match, Messages: messages})
	}

	return bundles
}

// BuildHingeInteractions builds match bundles and identity events from
// Hinge-style interaction blocks. The platform provides no stable match id,
// so matched interactions get a timestamp-proxy identity key. Interactions
// that never became a match yield only identity events.
func (s *MatchService) BuildHingeInteractions(interactions []RawInteraction) ([]MatchBundle, []models.IdentityEvent) {
	var bundles []MatchBundle
	var events []models.IdentityEvent
	matchIndex := 0

	for i, interaction := range interactions {
		var matchedAt *time.Time

		for _, like := range interaction.Like {
			ts, err := parseExportTime(like.Timestamp)
			if err != nil {
				s.log.Warn("Skipping like with bad timestamp", zap.Int("interaction", i), zap.Error(err))
				continue
			}
			events = append(events, models.IdentityEvent{EventType: "like_sent", Timestamp: ts})
		}

		for _, m := range interaction.Match {
			ts, err := parseExportTime(m.Timestamp)
			if err != nil {
				s.log.Warn("Skipping match entry with bad timestamp", zap.Int("interaction", i), zap.Error(err))
				continue
			}
			events = append(events, models.IdentityEvent{EventType: "match", Timestamp: ts})
			if matchedAt == nil {
				matchedAt = &ts
			}
		}

		for _, block := range interaction.Block {
			ts, err := parseExportTime(block.Timestamp)
			if err != nil {
				continue
			}
			eventType := "reject"
			if block.BlockType == "remove" {
				eventType = "unmatch"
			}
			events = append(events, models.IdentityEvent{EventType: eventType, Timestamp: ts})
		}

		rawMessages := make([]RawMessage, 0, len(interaction.Chats))
		for _, chat := range interaction.Chats {
			rawMessages = append(rawMessages, RawMessage{
				SentDate:  chat.Timestamp,
				Message:   chat.Body,
				Type:      "text",
				Direction: "sent", // Hinge exports only contain outgoing messages
			})
		}
		messages := s.buildMessages(rawMessages)

		for _, msg := range messages {
			ts := msg.SentAt
			events = append(events, models.IdentityEvent{EventType: "message_sent", Timestamp: ts})
		}

		// Interactions that never matched contribute events only
		if matchedAt == nil {
			continue
		}

		identityKey := fmt.Sprintf("ts-%d", matchedAt.Unix())
		match := s.buildMatch(identityKey, matchIndex, messages)
		match.MatchedAt = matchedAt
		matchIndex++

		bundles = append(bundles, MatchBundle{Match: match, Messages: messages})
	}

	return bundles, events
}

// buildMessages converts raw messages into rows in chronological order,
// computing per-message time-since-previous. Messages missing a timestamp or
// body are skippable defects.
func (s *MatchService) buildMessages(raw []RawMessage) []models.Message {
	messages := make([]models.Message, 0, len(raw))

	for _, rm := range raw {
		if rm.Message == "" {
			s.log.Warn("Skipping message with empty body")
			continue
		}
		sentAt, err := parseExportTime(rm.SentDate)
		if err != nil {
			s.log.Warn("Skipping message with bad timestamp", zap.Error(err))
			continue
		}

		messageType := rm.Type
		if messageType == "" {
			messageType = "text"
		}

		messages = append(messages, models.Message{
			Content:     html.UnescapeString(rm.Message),
			MessageType: messageType,
			SentAt:      sentAt,
		})
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	for i := range messages {
		messages[i].MessageIndex = i
		if i == 0 {
			messages[i].TimeSinceLastMessage = 0
			continue
		}
		messages[i].TimeSinceLastMessage = messages[i].SentAt.Sub(messages[i-1].SentAt).Seconds()
	}

	return messages
}

// buildMatch assembles one Match row with tallies and derived conversation
// metrics from its chronologically ordered messages.
func (s *MatchService) buildMatch(identityKey string, index int, messages []models.Message) models.Match {
	match := models.Match{
		IdentityKey:  identityKey,
		MatchIndex:   index,
		MessageCount: len(messages),
	}

	for _, msg := range messages {
		switch msg.MessageType {
		case "gif":
			match.GifCount++
		case "link":
			match.LinkCount++
		}
	}

	if len(messages) == 0 {
		return match
	}

	first := messages[0].SentAt
	last := messages[len(messages)-1].SentAt
	match.FirstMessageAt = &first
	match.LastMessageAt = &last

	duration := int(last.Sub(first).Hours() / 24)
	match.ConversationDurationDays = &duration

	if len(messages) > 1 {
		gaps := make([]float64, 0, len(messages)-1)
		longest := 0.0
		for i := 1; i < len(messages); i++ {
			gap := messages[i].TimeSinceLastMessage
			gaps = append(gaps, gap)
			if gap > longest {
				longest = gap
			}
		}
		med := median(gaps)
		match.ResponseTimeMedianSeconds = &med
		longestHours := longest / 3600
		match.LongestGapHours = &longestHours
	}

	return match
}

// ComputeImbalance fills the metrics that require inbound data. Exports that
// only contain outgoing messages leave them nil/false rather than guessed.
func ComputeImbalance(match *models.Match, raw []RawMessage) {
	sent, received := 0, 0
	for _, rm := range raw {
		switch rm.Direction {
		case "received":
			received++
		case "sent", "":
			sent++
		}
	}
	if received == 0 {
		return
	}
	ratio := float64(sent) / float64(received)
	match.ImbalanceRatio = &ratio
	replied := true
	match.OtherSideReplied = &replied
}

// timestampProxyID builds a reconstructible identity key for conversations
// without a native match id. Empty when no message carries a timestamp.
func timestampProxyID(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return fmt.Sprintf("ts-%d", messages[0].SentAt.Unix())
}

// newIngestionID returns a unique id for one ingestion call
func newIngestionID() string {
	return uuid.New().String()
}
