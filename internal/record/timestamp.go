//
//
package record

import (
	"fmt"
	"strings"
	"time"
)

// zoned layouts carry an explicit offset; naive layouts are read as UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// ParseTimestamp parses the ISO-8601 forms accepted at ingest: RFC 3339 with
// Z or a numeric offset, a naive date-time (UTC), a space in place of the T
// separator, or a bare date. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	// "2024-01-01 10:00:00" is valid ISO-8601 in the extended profile.
	if len(value) > 10 && value[10] == ' ' {
		value = value[:10] + "T" + value[11:]
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected ISO 8601 (YYYY-MM-DDTHH:MM:SSZ)", s)
}
