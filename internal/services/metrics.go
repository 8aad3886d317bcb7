package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PeriodKeyAllTime is the snapshot persisted after every ingestion.
const PeriodKeyAllTime = "alltime"

// Period is a date window predicate over usage/match dates. A zero From/To
// with All set means the profile's full active lifetime.
type Period struct {
	Key  string
	From time.Time
	To   time.Time
	All  bool
}

var (
	yearPattern    = regexp.MustCompile(`^\d{4}$`)
	quarterPattern = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	lastNPattern   = regexp.MustCompile(`^last(\d+)$`)
)

// ParsePeriod parses a period filter: "alltime" (or empty), rolling
// "last<N>" days, calendar year "YYYY", or calendar quarter "YYYY-Qn".
func ParsePeriod(value string, now time.Time) (Period, error) {
	switch {
	case value == "" || value == PeriodKeyAllTime:
		return Period{Key: PeriodKeyAllTime, All: true}, nil

	case lastNPattern.MatchString(value):
		days, _ := strconv.Atoi(lastNPattern.FindStringSubmatch(value)[1])
		if days <= 0 {
			return Period{}, fmt.Errorf("invalid period %q", value)
		}
		to := now.UTC().Truncate(24 * time.Hour)
		return Period{Key: value, From: to.AddDate(0, 0, -(days - 1)), To: to}, nil

	case yearPattern.MatchString(value):
		year, _ := strconv.Atoi(value)
		from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		return Period{Key: value, From: from, To: from.AddDate(1, 0, -1)}, nil

	case quarterPattern.MatchString(value):
		parts := quarterPattern.FindStringSubmatch(value)
		year, _ := strconv.Atoi(parts[1])
		quarter, _ := strconv.Atoi(parts[2])
		from := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{Key: value, From: from, To: from.AddDate(0, 3, -1)}, nil
	}

	return Period{}, fmt.Errorf("invalid period %q", value)
}

// Contains reports whether a YYYY-MM-DD date string falls in the period
func (p Period) Contains(date string) bool {
	if p.All {
		return true
	}
	return date >= p.From.Format(dateLayout) && date <= p.To.Format(dateLayout)
}

// ContainsTime reports whether a timestamp's calendar day falls in the period
func (p Period) ContainsTime(t time.Time) bool {
	return p.Contains(t.UTC().Format(dateLayout))
}

// MetricsService recomputes the derived statistics snapshot for a profile
// from its full match/usage/identity-event graph.
type MetricsService struct {
	cfg *config.Config
	log *zap.Logger
}

// NewMetricsService creates a new metrics service
func NewMetricsService(cfg *config.Config, log *zap.Logger) *MetricsService {
	return &MetricsService{
		cfg: cfg,
		log: log,
	}
}

// Compute derives the snapshot fields for a profile whose usage and match
// relations are loaded, windowed by the period. Never raises: empty input
// yields zeroes and nil medians, undefined ratios are 0.
func (s *MetricsService) Compute(profile *models.Profile, period Period) models.MetaSnapshot {
	snapshot := models.MetaSnapshot{
		ProfileID:  profile.ID,
		PeriodKey:  period.Key,
		ComputedAt: time.Now().UTC(),
	}
	if !period.All {
		snapshot.From = period.From.Format(dateLayout)
		snapshot.To = period.To.Format(dateLayout)
	} else {
		snapshot.From = profile.FirstActiveDate.Format(dateLayout)
		snapshot.To = profile.LastActiveDate.Format(dateLayout)
	}

	daysWithSwipes := 0
	for _, usage := range profile.UsageRecords {
		if !period.Contains(usage.Date) {
			continue
		}
		snapshot.AppOpens += usage.AppOpens
		snapshot.Likes += usage.Likes
		snapshot.Passes += usage.Passes
		snapshot.SuperLikes += usage.SuperLikes
		snapshot.Matches += usage.Matches
		snapshot.MessagesSent += usage.MessagesSent
		snapshot.MessagesReceived += usage.MessagesReceived
		if usage.Likes+usage.Passes > 0 {
			daysWithSwipes++
		}
	}

	// Zero-safe rates
	if swipes := snapshot.Likes + snapshot.Passes; swipes > 0 {
		snapshot.LikeRate = float64(snapshot.Likes) / float64(swipes)
	}
	if snapshot.Likes > 0 {
		snapshot.MatchRate = float64(snapshot.Matches) / float64(snapshot.Likes)
	}
	// Denominator counts only days with nonzero swipe activity so inactive
	// stretches don't dilute the rate
	if daysWithSwipes > 0 {
		snapshot.SwipesPerDay = float64(snapshot.Likes+snapshot.Passes) / float64(daysWithSwipes)
	}

	var responseTimes, durations, messageCounts []float64
	maxDuration := 0
	hasDuration := false

	for _, match := range profile.Matches {
		if !matchInPeriod(match, period) {
			continue
		}
		snapshot.ConversationCount++
		if match.MessageCount == 0 {
			continue
		}
		snapshot.ConversationsWithMessage++
		messageCounts = append(messageCounts, float64(match.MessageCount))

		if match.ResponseTimeMedianSeconds != nil {
			responseTimes = append(responseTimes, *match.ResponseTimeMedianSeconds)
		}
		if match.ConversationDurationDays != nil {
			durations = append(durations, float64(*match.ConversationDurationDays))
			if !hasDuration || *match.ConversationDurationDays > maxDuration {
				maxDuration = *match.ConversationDurationDays
				hasDuration = true
			}
		}
	}
	snapshot.GhostedCount = snapshot.ConversationCount - snapshot.ConversationsWithMessage

	if len(responseTimes) > 0 {
		med := median(responseTimes)
		avg := mean(responseTimes)
		// Median is the reported "typical" figure; the mean is kept
		// separately since it is outlier-sensitive
		snapshot.ResponseTimeMedianSeconds = &med
		snapshot.ResponseTimeMeanSeconds = &avg
	}
	if len(durations) > 0 {
		med := median(durations)
		snapshot.ConversationDurationMedianDays = &med
		snapshot.ConversationDurationMaxDays = &maxDuration
	}
	if len(messageCounts) > 0 {
		med := median(messageCounts)
		avg := mean(messageCounts)
		snapshot.MessagesPerConversationMedian = &med
		snapshot.MessagesPerConversationMean = &avg
	}

	return snapshot
}

// RecomputeSnapshot deletes and fully recomputes the persisted all-time
// snapshot from the merged graph. Incremental patching is forbidden: the
// snapshot is always a pure function of its inputs evaluated fresh. A
// profile that cannot be refetched with its relations after a write
// indicates a prior step's bug and aborts the transaction.
func (s *MetricsService) RecomputeSnapshot(tx *gorm.DB, profileID uint) (*models.MetaSnapshot, error) {
	var profile models.Profile
	if err := tx.Preload("UsageRecords").Preload("Matches").Preload("IdentityEvents").
		First(&profile, profileID).Error; err != nil {
		return nil, fmt.Errorf("failed to refetch profile %d with relations: %w", profileID, err)
	}

	if err := tx.Where("profile_id = ?", profileID).Delete(&models.MetaSnapshot{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete stale snapshots: %w", err)
	}

	snapshot := s.Compute(&profile, Period{Key: PeriodKeyAllTime, All: true})
	if err := tx.Create(&snapshot).Error; err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return &snapshot, nil
}

// matchInPeriod filters matches by their match date, falling back to the
// first message date. Undated matches only appear in all-time windows.
func matchInPeriod(match models.Match, period Period) bool {
	if period.All {
		return true
	}
	if match.MatchedAt != nil {
		return period.ContainsTime(*match.MatchedAt)
	}
	if match.FirstMessageAt != nil {
		return period.ContainsTime(*match.FirstMessageAt)
	}
	return false
}

// median is the standard sorted-array median: for even-length lists the two
// middle elements are averaged. Zero for empty input.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// mean averages values; zero for empty input
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
