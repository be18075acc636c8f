package forecast

import "fmt"

// MissingSourceDataError means a table shared by every counter is empty. The run
// cannot continue without it.
type MissingSourceDataError struct {
	Table string
}

func (e *MissingSourceDataError) Error() string {
	return fmt.Sprintf("no data in %s", e.Table)
}

// EmptyTrainingSetError means a counter has no usable training row once the
// join is filtered to complete rows.
type EmptyTrainingSetError struct {
	CounterID string
}

func (e *EmptyTrainingSetError) Error() string {
	return fmt.Sprintf("empty training set for counter %s", e.CounterID)
}

// InsufficientTrainingRowsError means a counter has training rows, but fewer than
// a model needs. The counter is skipped for that model only.
type InsufficientTrainingRowsError struct {
	CounterID string
	Rows      int
	Min       int
}

func (e *InsufficientTrainingRowsError) Error() string {
	return fmt.Sprintf("not enough training rows for counter %s (rows=%d, min=%d)", e.CounterID, e.Rows, e.Min)
}
