package medication

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type dateLayout struct {
	layout    string
	monthOnly bool
}

var dateLayouts = []dateLayout{
	{layout: "2006-01-02"},
	{layout: "01/02/2006"},
	{layout: "1/2/2006"},
	{layout: "01-02-2006"},
	{layout: "1-2-2006"},
	{layout: "01/02/06"},
	{layout: "1/2/06"},
	{layout: "01-02-06"},
	{layout: "Jan 2, 2006"},
	{layout: "Jan 2 2006"},
	{layout: "January 2, 2006"},
	{layout: "01/2006", monthOnly: true},
	{layout: "1/2006", monthOnly: true},
	{layout: "01-2006", monthOnly: true},
	{layout: "2006-01", monthOnly: true},
	{layout: "01/06", monthOnly: true},
	{layout: "Jan 2006", monthOnly: true},
	{layout: "January 2006", monthOnly: true},
}

// ParseDate parses the date formats printed on pharmacy labels. Month-year
// forms resolve to the last day of that month.
func ParseDate(s string) (time.Time, error) {
	s = normalizeMonthWords(strings.TrimSpace(s))
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.monthOnly {
			return EndOfMonth(t), nil
		}
		return Day(t), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last calendar day of t's month.
func EndOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// normalizeMonthWords turns "JAN" or "jan" into "Jan" so time.Parse accepts it.
func normalizeMonthWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		letters := true
		for _, r := range strings.TrimSuffix(w, ",") {
			if !unicode.IsLetter(r) {
				letters = false
				break
			}
		}
		if !letters {
			continue
		}
		lower := strings.ToLower(w)
		r, size := utf8.DecodeRuneInString(lower)
		words[i] = string(unicode.ToUpper(r)) + lower[size:]
	}
	return strings.Join(words, " ")
}
