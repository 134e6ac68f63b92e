package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var intervalUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseRefreshEvery validates a refresh_key `every` value. It accepts
// "<n> <unit>" text (second through week, singular or plural) and 5-field
// cron expressions or descriptors such as @hourly. The returned duration is
// zero for cron schedules.
func ParseRefreshEvery(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("refresh interval is empty")
	}
	if d, ok := parseInterval(s); ok {
		return d, nil
	}
	if _, err := cronParser.Parse(s); err != nil {
		return 0, fmt.Errorf("invalid refresh interval %q: expected '<n> <unit>' or a cron expression", s)
	}
	return 0, nil
}

func parseInterval(s string) (time.Duration, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	unit, ok := intervalUnits[strings.TrimSuffix(strings.ToLower(fields[1]), "s")]
	if !ok {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
