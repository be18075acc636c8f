package weather

import "sort"

// NormalizeSeries puts a raw hourly series into canonical shape: timestamps in
// UTC, one row per timestamp (first occurrence wins), sorted ascending.
// Timestamps are not rounded, so an off-hour row never stands in for an hour.
func NormalizeSeries(rows []HourlyWeather) []HourlyWeather {
	seen := make(map[int64]struct{}, len(rows))
	out := make([]HourlyWeather, 0, len(rows))
	for _, r := range rows {
		r.Timestamp = r.Timestamp.UTC()
		k := r.Timestamp.Unix()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
