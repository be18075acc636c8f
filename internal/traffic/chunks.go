package traffic

import "time"

// TimeRange is a closed [Start, End] interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// YearChunks splits [start, end) into calendar-year ranges so a multi-year
// history is fetched one year at a time. Each chunk ends one second before the
// next year starts, or at end.
func YearChunks(start, end time.Time) []TimeRange {
	var chunks []TimeRange
	current := start
	for current.Before(end) {
		nextYear := time.Date(current.Year()+1, time.January, 1, 0, 0, 0, 0, current.Location())
		chunkEnd := nextYear.Add(-time.Second)
		if end.Before(chunkEnd) {
			chunkEnd = end
		}
		chunks = append(chunks, TimeRange{Start: current, End: chunkEnd})
		current = nextYear
	}
	return chunks
}
