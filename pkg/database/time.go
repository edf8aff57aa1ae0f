package database

import (
	"fmt"
	"time"
)

// isoFormat is ISO-8601 at seconds precision. Every timestamp in every
// database file is stored in this format, in UTC.
const isoFormat = "2006-01-02T15:04:05Z07:00"

// NowUTC is the single clock source for persisted timestamps: UTC, truncated
// to seconds so stored values round-trip exactly.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// ToISO formats a timestamp for storage. Zero times are rejected so a
// missing value never masquerades as the epoch.
func ToISO(t time.Time) (string, error) {
	if t.IsZero() {
		return "", fmt.Errorf("refusing to store zero timestamp")
	}
	return t.UTC().Truncate(time.Second).Format(isoFormat), nil
}

// FromISO parses a stored timestamp back into a UTC time.Time.
func FromISO(s string) (time.Time, error) {
	t, err := time.Parse(isoFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
