package services

import (
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// UsageService expands a sparse daily-activity timeline into a dense
// day-by-day sequence. Only platforms with a genuine daily time series
// (Tinder) go through this stage.
type UsageService struct {
	cfg *config.Config
	log *zap.Logger
}

// NewUsageService creates a new usage service
func NewUsageService(cfg *config.Config, log *zap.Logger) *UsageService {
	return &UsageService{
		cfg: cfg,
		log: log,
	}
}

// ExpandUsage fills gaps in the sparse per-day count maps so every calendar
// day between the observed min and max date has a usage row. Synthesized
// days carry zero counts and DateIsMissingFromOriginalData. Dates that fail
// to parse are skippable defects.
func (s *UsageService) ExpandUsage(raw *RawUsage) []models.UsageRecord {
	if raw == nil {
		return nil
	}

	observed := make(map[string]bool)
	for _, counts := range []map[string]int{
		raw.AppOpens, raw.SwipeLikes, raw.SwipePasses, raw.SuperLikes,
		raw.Matches, raw.MessagesSent, raw.MessagesReceived,
	} {
		for date := range counts {
			if _, err := time.Parse(dateLayout, date); err != nil {
				s.log.Warn("Skipping unparseable usage date", zap.String("date", date))
				continue
			}
			observed[date] = true
		}
	}

	if len(observed) == 0 {
		return nil
	}

	// Find the observed window bounds
	var minDate, maxDate string
	for date := range observed {
		if minDate == "" || date < minDate {
			minDate = date
		}
		if maxDate == "" || date > maxDate {
			maxDate = date
		}
	}

	start, _ := time.Parse(dateLayout, minDate)
	end, _ := time.Parse(dateLayout, maxDate)

	var records []models.UsageRecord
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)

		record := models.UsageRecord{
			Date:             date,
			AppOpens:         raw.AppOpens[date],
			Likes:            raw.SwipeLikes[date],
			Passes:           raw.SwipePasses[date],
			SuperLikes:       raw.SuperLikes[date],
			Matches:          raw.Matches[date],
			MessagesSent:     raw.MessagesSent[date],
			MessagesReceived: raw.MessagesReceived[date],

			DateIsMissingFromOriginalData: !observed[date],
		}

		// Pre-computed per-day rates, zero-safe
		if swipes := record.Likes + record.Passes; swipes > 0 {
			record.LikeRate = float64(record.Likes) / float64(swipes)
		}
		if record.Likes > 0 {
			record.MatchRate = float64(record.Matches) / float64(record.Likes)
		}

		records = append(records, record)
	}

	return records
}

// UsageWindow returns the first and last date of a dense usage sequence.
// The second return is false when the sequence is empty.
func UsageWindow(records []models.UsageRecord) (time.Time, time.Time, bool) {
	if len(records) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, _ := time.Parse(dateLayout, records[0].Date)
	last, _ := time.Parse(dateLayout, records[len(records)-1].Date)
	return first, last, true
}
