package listenkey

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		trackID   string
		timestamp string
		want      string
	}{
		{
			name:      "rounds down below half second",
			trackID:   "abc123",
			timestamp: "2024-01-01T00:00:00.400Z",
			want:      "abc123-2024-01-01T00:00:00.000Z",
		},
		{
			name:      "rounds up above half second",
			trackID:   "abc123 ",
			timestamp: "2024-01-01T00:00:00.900Z",
			want:      "abc123-2024-01-01T00:00:01.000Z",
		},
		{
			name:      "trims track id",
			trackID:   "  abc123  ",
			timestamp: "2024-01-01T12:34:56Z",
			want:      "abc123-2024-01-01T12:34:56.000Z",
		},
		{
			name:      "converts offset to UTC",
			trackID:   "abc123",
			timestamp: "2024-01-01T09:00:00.200+09:00",
			want:      "abc123-2024-01-01T00:00:00.000Z",
		},
		{
			name:      "unparseable falls back to literal",
			trackID:   "abc123",
			timestamp: " not-a-time ",
			want:      "abc123-not-a-time",
		},
		{
			name:      "empty timestamp",
			trackID:   "abc123",
			timestamp: "",
			want:      "abc123-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.trackID, tt.timestamp); got != tt.want {
				t.Errorf("Normalize(%q, %q) = %q, want %q", tt.trackID, tt.timestamp, got, tt.want)
			}
		})
	}
}

// Timestamps less than a second apart on the same side of the rounding
// boundary must collide; across the boundary they must not.
func TestNormalizeRoundingBoundary(t *testing.T) {
	low := Normalize("abc123", "2024-01-01T00:00:00.400Z")
	high := Normalize("abc123 ", "2024-01-01T00:00:00.900Z")
	if low == high {
		t.Errorf("keys across the rounding boundary collided: %q", low)
	}

	a := Normalize("abc123", "2024-01-01T00:00:00.100Z")
	b := Normalize("abc123", "2024-01-01T00:00:00.400Z")
	if a != b {
		t.Errorf("keys on the same side of the boundary differ: %q vs %q", a, b)
	}
}
