package services

import (
	"testing"

	"go.uber.org/zap"
)

func testMatchService(t *testing.T) *MatchService {
	t.Helper()
	return NewMatchService(testConfig(t), zap.NewNop())
}

func TestBuildTinderMatches_ConversationMetrics(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 1",
			Messages: []RawMessage{
				{SentDate: "2023-01-01T10:00:00Z", Message: "hey"},
				{SentDate: "2023-01-01T10:01:00Z", Message: "how are you"},
				{SentDate: "2023-01-01T10:04:00Z", Message: "hello?"},
				{SentDate: "2023-01-03T10:04:00Z", Message: "ok then"},
			},
		},
	})

	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
	match := bundles[0].Match

	if match.IdentityKey != "Match 1" {
		t.Fatalf("expected native match id as identity key, got %q", match.IdentityKey)
	}
	if match.MessageCount != 4 {
		t.Fatalf("expected 4 messages, got %d", match.MessageCount)
	}
	// Gaps are 60s, 180s, 172800s; median is 180
	if match.ResponseTimeMedianSeconds == nil || *match.ResponseTimeMedianSeconds != 180 {
		t.Fatalf("expected median response 180s, got %v", match.ResponseTimeMedianSeconds)
	}
	if match.ConversationDurationDays == nil || *match.ConversationDurationDays != 2 {
		t.Fatalf("expected duration 2 days, got %v", match.ConversationDurationDays)
	}
	if match.LongestGapHours == nil || *match.LongestGapHours != 48 {
		t.Fatalf("expected longest gap 48h, got %v", match.LongestGapHours)
	}
}

func TestBuildTinderMatches_TimeSinceLastMessage(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 2",
			Messages: []RawMessage{
				// Deliberately out of order: the builder sorts oldest first
				{SentDate: "2023-01-01T10:05:00Z", Message: "second"},
				{SentDate: "2023-01-01T10:00:00Z", Message: "first"},
			},
		},
	})

	messages := bundles[0].Messages
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Fatalf("messages not sorted chronologically: %q, %q", messages[0].Content, messages[1].Content)
	}
	if messages[0].TimeSinceLastMessage != 0 {
		t.Fatalf("first message should have zero gap, got %v", messages[0].TimeSinceLastMessage)
	}
	if messages[1].TimeSinceLastMessage != 300 {
		t.Fatalf("expected 300s gap, got %v", messages[1].TimeSinceLastMessage)
	}
}

func TestBuildTinderMatches_SkipsDefectiveMessages(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 3",
			Messages: []RawMessage{
				{SentDate: "2023-01-01T10:00:00Z", Message: "valid"},
				{SentDate: "", Message: "no timestamp"},
				{SentDate: "2023-01-01T10:01:00Z", Message: ""},
			},
		},
	})

	if bundles[0].Match.MessageCount != 1 {
		t.Fatalf("expected defective messages filtered, got %d", bundles[0].Match.MessageCount)
	}
}

func TestBuildTinderMatches_OutgoingOnlyLeavesImbalanceNil(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 4",
			Messages: []RawMessage{
				{SentDate: "2023-01-01T10:00:00Z", Message: "hey"},
				{SentDate: "2023-01-01T10:05:00Z", Message: "anyone there"},
			},
		},
	})

	match := bundles[0].Match
	if match.ImbalanceRatio != nil {
		t.Fatalf("expected nil imbalance for outgoing-only conversation, got %v", *match.ImbalanceRatio)
	}
	if match.OtherSideReplied != nil {
		t.Fatalf("expected nil otherSideReplied for outgoing-only conversation")
	}
}

func TestBuildTinderMatches_ImbalanceWhenInboundVisible(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 5",
			Messages: []RawMessage{
				{SentDate: "2023-01-01T10:00:00Z", Message: "hey", Direction: "sent"},
				{SentDate: "2023-01-01T10:01:00Z", Message: "hi!", Direction: "received"},
				{SentDate: "2023-01-01T10:02:00Z", Message: "how's it going", Direction: "sent"},
			},
		},
	})

	match := bundles[0].Match
	if match.ImbalanceRatio == nil || *match.ImbalanceRatio != 2 {
		t.Fatalf("expected imbalance 2 (2 sent / 1 received), got %v", match.ImbalanceRatio)
	}
	if match.OtherSideReplied == nil || !*match.OtherSideReplied {
		t.Fatalf("expected otherSideReplied true")
	}
}

func TestBuildTinderMatches_GifAndLinkTallies(t *testing.T) {
	svc := testMatchService(t)

	bundles := svc.BuildTinderMatches([]RawConversation{
		{
			MatchID: "Match 6",
			Messages: []RawMessage{
				{SentDate: "2023-01-01T10:00:00Z", Message: "https://giphy.com/x", Type: "gif"},
				{SentDate: "2023-01-01T10:01:00Z", Message: "plain"},
				{SentDate: "2023-01-01T10:02:00Z", Message: "https://example.com", Type: "link"},
			},
		},
	})

	match := bundles[0].Match
	if match.GifCount != 1 || match.LinkCount != 1 {
		t.Fatalf("expected 1 gif and 1 link, got %d/%d", match.GifCount, match.LinkCount)
	}
}

func TestBuildHingeInteractions_TimestampProxyIdentity(t *testing.T) {
	svc := testMatchService(t)

	bundles, events := svc.BuildHingeInteractions([]RawInteraction{
		{
			Like:  []RawTimestamped{{Timestamp: "2023-05-01T08:00:00Z"}},
			Match: []RawTimestamped{{Timestamp: "2023-05-01T09:00:00Z"}},
			Chats: []RawChat{
				{Body: "hey there", Timestamp: "2023-05-01T10:00:00Z"},
			},
		},
	})

	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
	match := bundles[0].Match
	if match.IdentityKey == "" || match.IdentityKey[:3] != "ts-" {
		t.Fatalf("expected timestamp-proxy identity key, got %q", match.IdentityKey)
	}
	if match.MatchedAt == nil {
		t.Fatalf("expected matchedAt from the match event")
	}
	// Hinge exports only contain outgoing messages
	if match.ImbalanceRatio != nil || match.OtherSideReplied != nil {
		t.Fatalf("expected nil inbound-dependent metrics for hinge")
	}

	// like_sent + match + message_sent
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	types := map[string]int{}
	for _, e := range events {
		types[e.EventType]++
	}
	if types["like_sent"] != 1 || types["match"] != 1 || types["message_sent"] != 1 {
		t.Fatalf("unexpected event types: %v", types)
	}
}

func TestBuildHingeInteractions_UnmatchedLikeYieldsEventsOnly(t *testing.T) {
	svc := testMatchService(t)

	bundles, events := svc.BuildHingeInteractions([]RawInteraction{
		{
			Like:  []RawTimestamped{{Timestamp: "2023-05-01T08:00:00Z"}},
			Block: []RawBlock{{BlockType: "remove", Timestamp: "2023-05-02T08:00:00Z"}},
		},
	})

	if len(bundles) != 0 {
		t.Fatalf("expected no bundles for unmatched interaction, got %d", len(bundles))
	}
	if len(events) != 2 {
		t.Fatalf("expected like_sent and unmatch events, got %d", len(events))
	}
}
