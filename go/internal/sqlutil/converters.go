package sqlutil

import (
	"database/sql"
	"time"
)

// Timestamps are stored as epoch milliseconds so every backend compares them the same way.

// ToMillis converts a time to epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToNullMillis converts an optional time to sql.NullInt64.
func ToNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: ToMillis(*t), Valid: true}
}

// FromNullMillis converts sql.NullInt64 to an optional time.
func FromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}
