package sheets

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultDateLayouts are tried in order when a date cell is parsed
var DefaultDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// parseDate returns the calendar date of raw under the first matching layout
func parseDate(raw string, layouts []string) (civil.Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return civil.Date{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}
