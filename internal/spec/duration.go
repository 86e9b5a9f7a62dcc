package spec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// durationRe matches unit-qualified lookback and cooldown strings such as
// "5d", "90m", "20bars@4h". Bare integers are rejected everywhere.
var durationRe = regexp.MustCompile(`(?i)^(\d+)(d|h|m|bars@4h|bars@1d|bars@1m)$`)

// minutes of regular trading per session and per session-aligned 4h segment.
const (
	sessionMinutes = 390
	segmentsPerDay = 2
	sessionHours   = 6.5
)

// ValidDuration reports whether s is a unit-qualified duration.
func ValidDuration(s string) bool {
	return durationRe.MatchString(strings.ReplaceAll(s, " ", ""))
}

// DurationSessions converts a unit-qualified duration into a whole number of
// trading sessions, rounding partial sessions up. "1d" → 1, "20bars@4h" → 10,
// "90m" → 1.
func DurationSessions(s string) (int, error) {
	m := durationRe.FindStringSubmatch(strings.ReplaceAll(s, " ", ""))
	if m == nil {
		return 0, fmt.Errorf("duration %q must include units (e.g. \"5d\", \"20bars@4h\")", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	switch strings.ToLower(m[2]) {
	case "d", "bars@1d":
		return n, nil
	case "h":
		return int(math.Ceil(float64(n) / sessionHours)), nil
	case "m", "bars@1m":
		return int(math.Ceil(float64(n) / sessionMinutes)), nil
	case "bars@4h":
		return int(math.Ceil(float64(n) / segmentsPerDay)), nil
	}
	return 0, fmt.Errorf("duration %q: unsupported unit", s)
}

// WindowBars converts an SMA window like "5d" into a bar count on the
// indicator's timeframe (daily windows count sessions).
func WindowBars(window string) (int, error) {
	return DurationSessions(window)
}
