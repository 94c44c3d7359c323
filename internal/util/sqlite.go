// Package util holds small conversion helpers for SQLite's limited type
// system.
package util

import "time"

// BoolToInt64 converts a bool to int64 (true=1, false=0).
// SQLite has no native boolean type.
func BoolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Int64ToBool converts an int64 to bool (non-zero = true).
func Int64ToBool(i int64) bool {
	return i != 0
}

// FormatTime renders a timestamp as the RFC3339 text stored in the database.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime reads an RFC3339 text timestamp. Empty strings map to the zero
// time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
