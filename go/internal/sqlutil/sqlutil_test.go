package sqlutil

import (
	"testing"
	"time"
)

func TestNullMillisRoundTrip(t *testing.T) {
	if v := ToNullMillis(nil); v.Valid {
		t.Fatal("nil time should be NULL")
	}
	if got := FromNullMillis(ToNullMillis(nil)); got != nil {
		t.Fatalf("FromNullMillis(NULL) = %v", got)
	}

	ts := time.Date(2026, 2, 3, 10, 0, 0, 123456789, time.UTC)
	got := FromNullMillis(ToNullMillis(&ts))
	if got == nil {
		t.Fatal("expected a time")
	}
	// Sub-millisecond precision is dropped.
	if want := ts.Truncate(time.Millisecond); !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}
