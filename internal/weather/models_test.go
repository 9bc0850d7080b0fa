package weather

import (
	"testing"
	"time"
)

func TestBucketStartFloorsToWidth(t *testing.T) {
	width := 15 * time.Minute
	cases := []struct {
		in   string
		want string
	}{
		{"2024-06-01T10:00:00Z", "2024-06-01T10:00:00Z"},
		{"2024-06-01T10:05:30Z", "2024-06-01T10:00:00Z"},
		{"2024-06-01T10:14:59Z", "2024-06-01T10:00:00Z"},
		{"2024-06-01T10:15:00Z", "2024-06-01T10:15:00Z"},
	}
	for _, tc := range cases {
		in, err := time.Parse(time.RFC3339, tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		got := BucketStart(in, width)
		if got.Format(time.RFC3339) != tc.want {
			t.Errorf("BucketStart(%s, 15m) = %s, want %s", tc.in, got.Format(time.RFC3339), tc.want)
		}
	}
}

func TestBucketStartIsStable(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 12, 0, 0, time.UTC)
	first := BucketStart(ts, time.Hour)
	for i := 0; i < 100; i++ {
		if got := BucketStart(ts, time.Hour); !got.Equal(first) {
			t.Fatalf("bucket assignment changed across computations: %s vs %s", got, first)
		}
	}
}

func TestBucketStartNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2024, 6, 1, 5, 7, 0, 0, loc)
	utc := local.UTC()
	if got, want := BucketStart(local, 15*time.Minute), BucketStart(utc, 15*time.Minute); !got.Equal(want) {
		t.Errorf("bucket start differs by input zone: %s vs %s", got, want)
	}
}

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15m", 15 * time.Minute, false},
		{"1h", time.Hour, false},
		{"15 minutes", 15 * time.Minute, false},
		{"1 hour", time.Hour, false},
		{"2 days", 48 * time.Hour, false},
		{"", 0, true},
		{"banana", 0, true},
		{"-15m", 0, true},
		{"0 minutes", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseWindow(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseWindow(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseWindow(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got.Duration() != tc.want {
			t.Errorf("ParseWindow(%q) = %v, want %v", tc.in, got.Duration(), tc.want)
		}
	}
}

func TestLevelValid(t *testing.T) {
	for _, l := range []Level{LevelInfo, LevelWarning, LevelCritical} {
		if !l.Valid() {
			t.Errorf("level %q should be valid", l)
		}
	}
	if Level("severe").Valid() {
		t.Error("unknown level accepted")
	}
}
