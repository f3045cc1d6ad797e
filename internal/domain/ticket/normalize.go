package ticket

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// sharedPriorities is the vocabulary common to most ticketing tools.
// Keys are lower-case.
var sharedPriorities = map[string]Priority{
	"urgent":   PriorityHigh,
	"critical": PriorityHigh,
	"highest":  PriorityHigh,
	"high":     PriorityHigh,
	"normal":   PriorityMedium,
	"medium":   PriorityMedium,
	"low":      PriorityLow,
	"lowest":   PriorityLow,
}

// NormalizePriority maps a tool-native priority token onto the three-level
// enum. Tool-specific tokens in extra take precedence over the shared
// vocabulary (keys must be lower-case). Unrecognized or empty tokens map to
// PriorityMedium and log a warning.
func NormalizePriority(token string, extra map[string]Priority) Priority {
	key := strings.ToLower(strings.TrimSpace(token))
	if p, ok := extra[key]; ok {
		return p
	}
	if p, ok := sharedPriorities[key]; ok {
		return p
	}
	slog.Warn("unrecognized priority, defaulting to medium", "priority", token)
	return PriorityMedium
}

// DescriptionOrTitle returns description unless it is blank, in which case
// the title is used.
func DescriptionOrTitle(description, title string) string {
	if strings.TrimSpace(description) == "" {
		return strings.TrimSpace(title)
	}
	return description
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700", // Jira: offset without colon
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

var errUnparseableTimestamp = errors.New("unparseable timestamp")

// ParseTimestamp converts a tool-native timestamp into UTC. It accepts
// RFC 3339, offsets written without a colon (+0000), naive timestamps
// (assumed UTC) and epoch milliseconds or seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errUnparseableTimestamp
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return EpochToTime(n), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errUnparseableTimestamp
}

// EpochToTime interprets n as epoch milliseconds when it is too large to be
// a plausible seconds value, otherwise as seconds.
func EpochToTime(n int64) time.Time {
	const msThreshold = 100_000_000_000 // year 5138 in seconds, 1973 in millis
	if n >= msThreshold || n <= -msThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// ParseRawTimestamp accepts a JSON number (epoch seconds or milliseconds) or
// a JSON string in any form ParseTimestamp understands.
func ParseRawTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errUnparseableTimestamp
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, errUnparseableTimestamp
		}
		return ParseTimestamp(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, errUnparseableTimestamp
	}
	if i, err := n.Int64(); err == nil {
		return EpochToTime(i), nil
	}
	if f, err := n.Float64(); err == nil {
		return EpochToTime(int64(f)), nil
	}
	return time.Time{}, errUnparseableTimestamp
}
