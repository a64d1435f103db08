package extraction

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
)

// BatchWindow is the span of history fetched by a single terminal call.
const BatchWindow = 7 * 24 * time.Hour

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts ISO-8601 dates and date-times. Values without a zone are
// taken as UTC, which is how the terminal stores deal times.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.New(apperrors.InvalidDateFormat, fmt.Sprintf("invalid date %q, expected ISO-8601", s))
}

// GenerateID builds the default job id, extract_YYYYMMDD_HHMMSS.
func GenerateID(now time.Time) string {
	return "extract_" + now.Format("20060102_150405")
}

// windowCount is the number of batch windows needed to cover [start, end].
func windowCount(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	span := end.Sub(start)
	n := int(span / BatchWindow)
	if span%BatchWindow != 0 || n == 0 {
		n++
	}
	return n
}

// window returns the inclusive bounds of window k. Windows are aligned to
// start; the last one is stretched to end.
func window(start, end time.Time, k, n int) (time.Time, time.Time) {
	from := start.Add(time.Duration(k) * BatchWindow)
	if k == n-1 {
		return from, end
	}
	return from, from.Add(BatchWindow - time.Second)
}
