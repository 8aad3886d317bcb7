package services

import (
	"testing"

	"go.uber.org/zap"
)

func testUsageService(t *testing.T) *UsageService {
	t.Helper()
	return NewUsageService(testConfig(t), zap.NewNop())
}

func TestExpandUsage_FillsGaps(t *testing.T) {
	svc := testUsageService(t)

	records := svc.ExpandUsage(&RawUsage{
		AppOpens:   map[string]int{"2023-01-01": 5, "2023-01-04": 2},
		SwipeLikes: map[string]int{"2023-01-01": 10},
	})

	if len(records) != 4 {
		t.Fatalf("expected 4 dense days, got %d", len(records))
	}
	if records[0].Date != "2023-01-01" || records[3].Date != "2023-01-04" {
		t.Fatalf("unexpected window bounds: %s .. %s", records[0].Date, records[3].Date)
	}
	if records[0].DateIsMissingFromOriginalData {
		t.Fatalf("observed day flagged as missing")
	}
	for _, idx := range []int{1, 2} {
		r := records[idx]
		if !r.DateIsMissingFromOriginalData {
			t.Fatalf("synthesized day %s not flagged as missing", r.Date)
		}
		if r.AppOpens != 0 || r.Likes != 0 || r.Passes != 0 {
			t.Fatalf("synthesized day %s has nonzero counts", r.Date)
		}
	}
}

func TestExpandUsage_PerDayRates(t *testing.T) {
	svc := testUsageService(t)

	records := svc.ExpandUsage(&RawUsage{
		SwipeLikes:  map[string]int{"2023-01-01": 30},
		SwipePasses: map[string]int{"2023-01-01": 70},
		Matches:     map[string]int{"2023-01-01": 3},
	})

	if len(records) != 1 {
		t.Fatalf("expected 1 day, got %d", len(records))
	}
	if records[0].LikeRate != 0.3 {
		t.Fatalf("expected likeRate 0.3, got %v", records[0].LikeRate)
	}
	if records[0].MatchRate != 0.1 {
		t.Fatalf("expected matchRate 0.1, got %v", records[0].MatchRate)
	}
}

func TestExpandUsage_ZeroSafeDayRates(t *testing.T) {
	svc := testUsageService(t)

	records := svc.ExpandUsage(&RawUsage{
		AppOpens: map[string]int{"2023-01-01": 1},
	})

	if records[0].LikeRate != 0 || records[0].MatchRate != 0 {
		t.Fatalf("expected zero rates on swipe-free day, got %v/%v", records[0].LikeRate, records[0].MatchRate)
	}
}

func TestExpandUsage_EmptyInput(t *testing.T) {
	svc := testUsageService(t)

	if records := svc.ExpandUsage(nil); records != nil {
		t.Fatalf("expected nil for nil usage section")
	}
	if records := svc.ExpandUsage(&RawUsage{}); records != nil {
		t.Fatalf("expected nil for empty usage maps")
	}
}

func TestExpandUsage_SkipsBadDates(t *testing.T) {
	svc := testUsageService(t)

	records := svc.ExpandUsage(&RawUsage{
		AppOpens: map[string]int{"2023-01-01": 1, "not-a-date": 9},
	})

	if len(records) != 1 {
		t.Fatalf("expected bad date to be skipped, got %d rows", len(records))
	}
}
