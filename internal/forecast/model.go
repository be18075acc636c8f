package forecast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

// Prediction tables, one per model variant.
const (
	TableProphet = "bike_predictions_hourly_prophet"
	TableXGBoost = "bike_predictions_hourly_xgboost"
)

// Model names as exposed by the API and the notifications.
const (
	ModelProphet = "prophet"
	ModelXGBoost = "xgboost"
)

// Prediction is one forecast hour of one counter. Lower and upper bounds are only
// set by models that estimate an interval.
type Prediction struct {
	CounterID string    `db:"counter_id" json:"counter_id"`
	Timestamp time.Time `db:"timestamp_utc" json:"timestamp_utc"`
	YHat      float64   `db:"yhat" json:"yhat"`
	YHatLower *float64  `db:"yhat_lower" json:"yhat_lower,omitempty"`
	YHatUpper *float64  `db:"yhat_upper" json:"yhat_upper,omitempty"`
}

// MarshalJSON writes the timestamp in the naive UTC layout.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type alias Prediction
	return json.Marshal(struct {
		Timestamp string `json:"timestamp_utc"`
		alias
	}{
		Timestamp: common.FormatUTC(p.Timestamp),
		alias:     alias(p),
	})
}

// Model trains a per-counter regressor. Training is independent per counter.
type Model interface {
	Name() string
	Table() string
	Fit(ctx context.Context, counterID string, rows []FeatureRow) (Fitted, error)
}

// Fitted is a trained model of one counter.
type Fitted interface {
	// Predict returns one prediction per usable row, in row order.
	Predict(rows []FeatureRow) []Prediction
}
