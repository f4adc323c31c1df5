// Package listenkey turns (track id, timestamp) observations into stable
// identity keys and maintains the client-side index of persisted listens.
package listenkey

import (
	"strings"
	"time"
)

// isoMillis matches the serialization used on the wire: second-rounded
// instants with the millisecond component explicitly zeroed.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Normalize builds the identity key for a listen observation:
// "<trimmed trackID>-<timestamp rounded to the nearest second, ISO-8601>".
//
// Two observations of the same real listen whose reported timestamps differ
// by less than a second normalize to the same key. If the timestamp does not
// parse, the trimmed literal string is used as the time component; callers
// should avoid passing invalid timestamps, but this is not an error.
func Normalize(trackID, timestamp string) string {
	id := strings.TrimSpace(trackID)
	ts := strings.TrimSpace(timestamp)

	t, err := ParseTimestamp(ts)
	if err != nil {
		return id + "-" + ts
	}
	return id + "-" + FormatTimestamp(t)
}

// ParseTimestamp parses an RFC 3339 timestamp, fractional seconds allowed.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

// FormatTimestamp rounds t to the nearest whole second and serializes it as
// UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.Round(time.Second).UTC().Format(isoMillis)
}
