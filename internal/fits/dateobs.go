package fits

import (
	"fmt"
	"strings"
	"time"
)

// DATE-OBS layouts seen in the wild. FITS mandates ISO-8601 without a zone
// designator; values are interpreted as UTC.
var dateObsLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDateObs parses a FITS DATE-OBS value (YYYY-MM-DDTHH:MM:SS[.frac]) as
// UTC. An empty string is the explicit no-timestamp sentinel.
func ParseDateObs(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.Trim(s, "'"))
	if s == "" {
		return time.Time{}, ErrNoTimestamp
	}
	for _, layout := range dateObsLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable DATE-OBS %q", s)
}

// FormatDateObs renders t as a FITS DATE-OBS value in UTC.
func FormatDateObs(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}
