package stats

import (
	"testing"
	"time"

	"github.com/musicwalk/music-walk-map/internal/db"
)

func strPtr(s string) *string { return &s }

func row(mood, weather string, playedAt time.Time, lat, lng float64) db.StatsRow {
	r := db.StatsRow{PlayedAt: playedAt, Lat: lat, Lng: lng}
	if mood != "" {
		r.Mood = strPtr(mood)
	}
	if weather != "" {
		r.WeatherMain = strPtr(weather)
	}
	return r
}

func TestTimeSlot(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, SlotNight},
		{4, SlotNight},
		{5, SlotMorning},
		{9, SlotMorning},
		{10, SlotDay},
		{16, SlotDay},
		{17, SlotEvening},
		{23, SlotEvening},
	}
	for _, tt := range tests {
		at := time.Date(2024, 3, 1, tt.hour, 30, 0, 0, time.UTC)
		if got := TimeSlot(at, time.UTC); got != tt.want {
			t.Errorf("TimeSlot(hour=%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestSummarizeMatrices(t *testing.T) {
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	rows := []db.StatsRow{
		row("happy", "Clear", morning, 35.0, 139.0),
		row("happy", "Clear", evening, 35.0, 139.0),
		row("sad", "Rain", evening, 35.0, 139.0),
		// Missing mood or weather: excluded from matrices.
		row("", "Clear", morning, 35.0, 139.0),
		row("soso", "", morning, 35.0, 139.0),
	}

	s := Summarize(rows, time.UTC, DefaultMaxHotspots)

	if len(s.MoodWeather) != 2 {
		t.Fatalf("MoodWeather has %d entries, want 2: %+v", len(s.MoodWeather), s.MoodWeather)
	}
	if s.MoodWeather[0].WeatherMain != "Clear" || s.MoodWeather[0].Mood != "happy" || s.MoodWeather[0].Count != 2 {
		t.Errorf("top MoodWeather = %+v, want Clear/happy/2", s.MoodWeather[0])
	}

	if len(s.MoodWeatherByTime) != 3 {
		t.Fatalf("MoodWeatherByTime has %d entries, want 3: %+v", len(s.MoodWeatherByTime), s.MoodWeatherByTime)
	}
	for _, e := range s.MoodWeatherByTime {
		if e.Mood == "happy" && e.TimeSlot == SlotMorning && e.Count != 1 {
			t.Errorf("happy/morning count = %d, want 1", e.Count)
		}
	}
}

func TestSummarizeHotspotsFewPoints(t *testing.T) {
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := []db.StatsRow{
		row("happy", "Clear", morning, 35.0, 139.0),
		row("sad", "Rain", morning, 36.0, 140.0),
	}

	s := Summarize(rows, time.UTC, 5)
	if len(s.Hotspots) != 2 {
		t.Fatalf("Hotspots = %+v, want one per point", s.Hotspots)
	}
	for _, h := range s.Hotspots {
		if h.Count != 1 {
			t.Errorf("hotspot count = %d, want 1", h.Count)
		}
	}
}

func TestSummarizeHotspotsClusters(t *testing.T) {
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	// Two tight groups of points far apart; ask for 2 clusters.
	var rows []db.StatsRow
	for i := 0; i < 5; i++ {
		d := float64(i) * 1e-4
		rows = append(rows, row("happy", "Clear", morning, 35.0+d, 139.0+d))
		rows = append(rows, row("sad", "Rain", morning, 40.0+d, 141.0+d))
	}

	s := Summarize(rows, time.UTC, 2)
	if len(s.Hotspots) != 2 {
		t.Fatalf("Hotspots has %d clusters, want 2: %+v", len(s.Hotspots), s.Hotspots)
	}
	total := 0
	for _, h := range s.Hotspots {
		total += h.Count
	}
	if total != len(rows) {
		t.Errorf("cluster counts sum to %d, want %d", total, len(rows))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, time.UTC, 0)
	if len(s.MoodWeather) != 0 || len(s.MoodWeatherByTime) != 0 || len(s.Hotspots) != 0 {
		t.Errorf("empty input produced non-empty summary: %+v", s)
	}
}
