// Package traffic holds the bicycle counter domain: the counter registry and
// hourly intensity readings.
package traffic

import (
	"sort"
	"time"
)

// Counter is a physical bicycle-traffic sensor.
type Counter struct {
	ID   string   `db:"id" json:"id"`
	Name *string  `db:"name" json:"name"`
	Lat  *float64 `db:"lat" json:"lat"`
	Lon  *float64 `db:"lon" json:"lon"`
}

// HourlyReading is the bicycle count of one counter for one UTC hour.
type HourlyReading struct {
	CounterID string    `db:"counter_id" json:"counter_id"`
	Timestamp time.Time `db:"timestamp_utc" json:"timestamp_utc"`
	Intensity int       `db:"intensity" json:"intensity"`
}

// FilterSelected keeps the counters whose id is in selected, in registry order.
func FilterSelected(all []Counter, selected []string) []Counter {
	want := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		want[id] = struct{}{}
	}
	out := make([]Counter, 0, len(selected))
	for _, c := range all {
		if _, ok := want[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeReadings converts timestamps to UTC, drops duplicate (counter,
// timestamp) pairs keeping the first one and sorts by counter then time.
func NormalizeReadings(readings []HourlyReading) []HourlyReading {
	type key struct {
		counter string
		unix    int64
	}
	seen := make(map[key]struct{}, len(readings))
	out := make([]HourlyReading, 0, len(readings))
	for _, r := range readings {
		r.Timestamp = r.Timestamp.UTC()
		k := key{r.CounterID, r.Timestamp.Unix()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CounterID != out[j].CounterID {
			return out[i].CounterID < out[j].CounterID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
