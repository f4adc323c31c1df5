// Package stats aggregates persisted listens for the map and stats views:
// mood by weather counts, the same broken down by time of day, and
// geographic hotspots found by k-means clustering of listen coordinates.
package stats

import (
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/musicwalk/music-walk-map/internal/db"
)

// DefaultMaxHotspots bounds the number of k-means clusters.
const DefaultMaxHotspots = 5

// Time slots, by local hour: night <5, morning <10, day <17, evening <24.
const (
	SlotNight   = "night"
	SlotMorning = "morning"
	SlotDay     = "day"
	SlotEvening = "evening"
)

// MoodWeatherCount is one cell of the mood x weather matrix.
type MoodWeatherCount struct {
	WeatherMain string `json:"weather_main"`
	Mood        string `json:"mood"`
	Count       int    `json:"count"`
}

// MoodWeatherTimeCount adds the time-of-day dimension.
type MoodWeatherTimeCount struct {
	WeatherMain string `json:"weather_main"`
	Mood        string `json:"mood"`
	TimeSlot    string `json:"time_slot"`
	Count       int    `json:"count"`
}

// Hotspot is a cluster of listen locations.
type Hotspot struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
}

// Summary is the GET /stats response body.
type Summary struct {
	MoodWeather       []MoodWeatherCount     `json:"moodWeather"`
	MoodWeatherByTime []MoodWeatherTimeCount `json:"moodWeatherByTime"`
	Hotspots          []Hotspot              `json:"hotspots"`
}

// TimeSlot classifies an instant into a slot by its hour in loc.
func TimeSlot(t time.Time, loc *time.Location) string {
	hour := t.In(loc).Hour()
	switch {
	case hour < 5:
		return SlotNight
	case hour < 10:
		return SlotMorning
	case hour < 17:
		return SlotDay
	default:
		return SlotEvening
	}
}

// Summarize aggregates rows into a Summary. Rows missing a mood or weather
// value are skipped in the matrices but still contribute to hotspots.
// maxHotspots <= 0 means DefaultMaxHotspots.
func Summarize(rows []db.StatsRow, loc *time.Location, maxHotspots int) Summary {
	moodWeather := make(map[string]int)
	moodWeatherByTime := make(map[string]int)
	points := make([][2]float64, 0, len(rows))

	for _, row := range rows {
		points = append(points, [2]float64{row.Lat, row.Lng})

		if row.Mood == nil || *row.Mood == "" || row.WeatherMain == nil || *row.WeatherMain == "" {
			continue
		}
		moodWeather[*row.WeatherMain+"|"+*row.Mood]++
		moodWeatherByTime[*row.WeatherMain+"|"+*row.Mood+"|"+TimeSlot(row.PlayedAt, loc)]++
	}

	summary := Summary{
		MoodWeather:       make([]MoodWeatherCount, 0, len(moodWeather)),
		MoodWeatherByTime: make([]MoodWeatherTimeCount, 0, len(moodWeatherByTime)),
		Hotspots:          clusterHotspots(points, maxHotspots),
	}

	for key, count := range moodWeather {
		parts := strings.SplitN(key, "|", 2)
		summary.MoodWeather = append(summary.MoodWeather, MoodWeatherCount{
			WeatherMain: parts[0],
			Mood:        parts[1],
			Count:       count,
		})
	}
	for key, count := range moodWeatherByTime {
		parts := strings.SplitN(key, "|", 3)
		summary.MoodWeatherByTime = append(summary.MoodWeatherByTime, MoodWeatherTimeCount{
			WeatherMain: parts[0],
			Mood:        parts[1],
			TimeSlot:    parts[2],
			Count:       count,
		})
	}

	// Map iteration order is random; sort for a stable response.
	slices.SortFunc(summary.MoodWeather, func(a, b MoodWeatherCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.WeatherMain+a.Mood, b.WeatherMain+b.Mood)
	})
	slices.SortFunc(summary.MoodWeatherByTime, func(a, b MoodWeatherTimeCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.WeatherMain+a.Mood+a.TimeSlot, b.WeatherMain+b.Mood+b.TimeSlot)
	})

	return summary
}

// pointObservation wraps a coordinate pair for the clusters interface.
type pointObservation struct {
	coords clusters.Coordinates
}

func (o pointObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o pointObservation) Distance(point clusters.Coordinates) float64 {
	var sum float64
	for i, v := range o.coords {
		d := v - point[i]
		sum += d * d
	}
	return sum
}

// clusterHotspots partitions listen coordinates into up to maxHotspots
// k-means clusters. With fewer points than clusters each point stands alone.
func clusterHotspots(points [][2]float64, maxHotspots int) []Hotspot {
	if maxHotspots <= 0 {
		maxHotspots = DefaultMaxHotspots
	}
	if len(points) == 0 {
		return nil
	}

	if len(points) <= maxHotspots {
		hotspots := make([]Hotspot, len(points))
		for i, p := range points {
			hotspots[i] = Hotspot{Lat: p[0], Lng: p[1], Count: 1}
		}
		sortHotspots(hotspots)
		return hotspots
	}

	var obs clusters.Observations
	for _, p := range points {
		obs = append(obs, pointObservation{coords: clusters.Coordinates{p[0], p[1]}})
	}

	km := kmeans.New()
	result, err := km.Partition(obs, maxHotspots)
	if err != nil {
		log.Printf("[stats] k-means clustering failed: %v", err)
		return nil
	}

	var hotspots []Hotspot
	for _, cluster := range result {
		if len(cluster.Observations) == 0 {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			Lat:   roundCoord(cluster.Center[0]),
			Lng:   roundCoord(cluster.Center[1]),
			Count: len(cluster.Observations),
		})
	}
	sortHotspots(hotspots)
	return hotspots
}

func sortHotspots(hotspots []Hotspot) {
	slices.SortFunc(hotspots, func(a, b Hotspot) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(
			fmt.Sprintf("%.6f,%.6f", a.Lat, a.Lng),
			fmt.Sprintf("%.6f,%.6f", b.Lat, b.Lng),
		)
	})
}

// roundCoord trims centroid coordinates to 6 decimal places (~0.1 m).
func roundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
