package fits

import (
	"errors"
	"testing"
	"time"
)

func TestParseDateObs(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-14T22:30:15", time.Date(2026, 3, 14, 22, 30, 15, 0, time.UTC)},
		{"2026-03-14T22:30:15.5", time.Date(2026, 3, 14, 22, 30, 15, 500000000, time.UTC)},
		{"2026-03-14T22:30:15.123456", time.Date(2026, 3, 14, 22, 30, 15, 123456000, time.UTC)},
		{"2026-03-14", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"'2026-03-14T22:30:15'", time.Date(2026, 3, 14, 22, 30, 15, 0, time.UTC)},
		{"  2026-03-14T22:30:15  ", time.Date(2026, 3, 14, 22, 30, 15, 0, time.UTC)},
	}
	for _, c := range cases {
		got, err := ParseDateObs(c.in)
		if err != nil {
			t.Fatalf("ParseDateObs(%q) failed: %v", c.in, err)
		}
		if !got.Equal(c.want) {
			t.Fatalf("ParseDateObs(%q) = %v, want %v", c.in, got, c.want)
		}
		if got.Location() != time.UTC {
			t.Fatalf("ParseDateObs(%q) not in UTC: %v", c.in, got.Location())
		}
	}
}

func TestParseDateObsEmptyIsSentinel(t *testing.T) {
	for _, in := range []string{"", "   ", "''"} {
		if _, err := ParseDateObs(in); !errors.Is(err, ErrNoTimestamp) {
			t.Fatalf("ParseDateObs(%q): expected ErrNoTimestamp, got %v", in, err)
		}
	}
}

func TestParseDateObsGarbage(t *testing.T) {
	if _, err := ParseDateObs("last tuesday"); err == nil {
		t.Fatal("expected error for unparseable value")
	}
}

func TestFormatDateObsRoundTrip(t *testing.T) {
	want := time.Date(2026, 3, 14, 22, 30, 15, 500000000, time.UTC)
	got, err := ParseDateObs(FormatDateObs(want))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}
