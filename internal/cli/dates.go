package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are the human-readable absolute forms --older-than and
// --newer-than accept, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts either an absolute timestamp in one of dateLayouts
// or a relative age ("2h", "7d", "3w") measured back from now, per
// spec.md §6's "dates accept human-readable forms".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, ok := parseRelativeAge(s); ok {
		return time.Now().Add(-d), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cli: %q is not a recognized date or relative age", s)
}

func parseRelativeAge(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	unit := s[len(s)-1]
	var multiplier time.Duration
	switch unit {
	case 'd':
		multiplier = 24 * time.Hour
	case 'w':
		multiplier = 7 * 24 * time.Hour
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, false
		}
		return d, true
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, string(unit)))
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * multiplier, true
}
