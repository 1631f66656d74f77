package reports

import (
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
)

const (
	dateLayout = "2006-01-02"

	// defaultRangeLiteral stands in for an omitted bound in cache keys, so
	// every default-range call within one month shares one entry.
	defaultRangeLiteral = "default"
)

// ReportRange holds optional YYYY-MM-DD bounds in the report zone.
type ReportRange struct {
	From *string `json:"from" form:"from"`
	To   *string `json:"to" form:"to"`
}

type resolvedRange struct {
	start   time.Time
	end     time.Time
	fromKey string
	toKey   string
}

func (r resolvedRange) cacheKey(reportType string) string {
	return fmt.Sprintf("report:%s:%s:%s", reportType, r.fromKey, r.toKey)
}

func (r resolvedRange) fromDate(loc *time.Location) string {
	return r.start.In(loc).Format(dateLayout)
}

func (r resolvedRange) toDate(loc *time.Location) string {
	return r.end.In(loc).Format(dateLayout)
}

// resolveRange turns the bounds into absolute instants. `to` covers its whole
// local day; omitted bounds default to the current local month.
func resolveRange(rng ReportRange, now time.Time, loc *time.Location) (resolvedRange, error) {
	localNow := now.In(loc)
	monthStart := time.Date(localNow.Year(), localNow.Month(), 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Millisecond)

	resolved := resolvedRange{
		start:   monthStart,
		end:     monthEnd,
		fromKey: defaultRangeLiteral,
		toKey:   defaultRangeLiteral,
	}

	if from := trimmed(rng.From); from != "" {
		day, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return resolvedRange{}, utils.NewValidationError("from must be a YYYY-MM-DD date")
		}
		resolved.start = day
		resolved.fromKey = day.Format(dateLayout)
	}
	if to := trimmed(rng.To); to != "" {
		day, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return resolvedRange{}, utils.NewValidationError("to must be a YYYY-MM-DD date")
		}
		resolved.end = endOfDay(day)
		resolved.toKey = day.Format(dateLayout)
	}

	if resolved.start.After(resolved.end) {
		return resolvedRange{}, utils.NewValidationError("from must not be after to")
	}
	return resolved, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
