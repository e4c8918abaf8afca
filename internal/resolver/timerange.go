package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	// UnitSpan runs from midnight DayOffset days ago until now. The start is
	// snapped to the day boundary, so "last 3 days" at 10:00 begins at 00:00
	// three days back rather than at 10:00.
	UnitSpan Unit = "span"
)

// TimeRange is a relative or absolute period. It is resolved against a clock
// only when needed, never stored pre-resolved.
type TimeRange struct {
	Phrase    string     `json:"phrase"`
	Absolute  bool       `json:"absolute"`
	DayOffset int        `json:"day_offset,omitempty"`
	Unit      Unit       `json:"unit,omitempty"`
	Year      int        `json:"year,omitempty"`
	Month     time.Month `json:"month,omitempty"`
}

func (t TimeRange) String() string {
	if t.Absolute {
		return fmt.Sprintf("%s %d", t.Month, t.Year)
	}
	return t.Phrase
}

// Resolve returns the half-open interval [start, end) in now's location.
func (t TimeRange) Resolve(now time.Time) (start, end time.Time) {
	loc := now.Location()

	if t.Absolute {
		start = time.Date(t.Year, t.Month, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	}

	switch t.Unit {
	case UnitWeek:
		anchor := midnight(now.AddDate(0, 0, t.DayOffset))
		sinceMonday := (int(anchor.Weekday()) + 6) % 7
		start = anchor.AddDate(0, 0, -sinceMonday)
		return start, start.AddDate(0, 0, 7)
	case UnitMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		if t.DayOffset < 0 {
			return first.AddDate(0, -1, 0), first
		}
		return first, first.AddDate(0, 1, 0)
	case UnitDay:
		start = midnight(now.AddDate(0, 0, t.DayOffset))
		return start, start.AddDate(0, 0, 1)
	default:
		return midnight(now.AddDate(0, 0, t.DayOffset)), now
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type relativePattern struct {
	re     *regexp.Regexp
	offset int
	unit   Unit
	// perDay takes the offset from the first capture group.
	perDay bool
}

var relativePatterns = []relativePattern{
	{re: regexp.MustCompile(`\blast\s+week\b`), offset: -7, unit: UnitWeek},
	{re: regexp.MustCompile(`\bthis\s+week\b`), offset: 0, unit: UnitWeek},
	{re: regexp.MustCompile(`\blast\s+month\b`), offset: -30, unit: UnitMonth},
	{re: regexp.MustCompile(`\bthis\s+month\b`), offset: 0, unit: UnitMonth},
	{re: regexp.MustCompile(`\byesterday\b`), offset: -1, unit: UnitDay},
	{re: regexp.MustCompile(`\btoday\b`), offset: 0, unit: UnitDay},
	{re: regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+days?\b`), unit: UnitSpan, perDay: true},
	{re: regexp.MustCompile(`\bsince\s+last\s+monday\b`), offset: -7, unit: UnitSpan},
	{re: regexp.MustCompile(`\bpast\s+week\b`), offset: -7, unit: UnitWeek},
	{re: regexp.MustCompile(`\brecent(?:ly)?\b`), offset: -7, unit: UnitSpan},
}

var absolutePattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\s+(\d{4})\b`)

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// parseTimeRange reads normalized text. An absolute month takes precedence over
// any relative phrase in the same text.
func parseTimeRange(text string) (TimeRange, bool) {
	if m := absolutePattern.FindStringSubmatch(text); m != nil {
		year, err := strconv.Atoi(m[2])
		if err == nil {
			return TimeRange{Phrase: m[0], Absolute: true, Year: year, Month: monthNames[m[1]]}, true
		}
	}

	for _, p := range relativePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		offset := p.offset
		if p.perDay {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			offset = -n
		}
		return TimeRange{Phrase: m[0], DayOffset: offset, Unit: p.unit}, true
	}

	return TimeRange{}, false
}
