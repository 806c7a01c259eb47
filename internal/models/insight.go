package models

import "time"

// DailyBillingRecord is the energy and cost of one breaker on one calendar day
type DailyBillingRecord struct {
	BreakerID      string  `json:"breaker_id"`
	Date           string  `json:"date"`
	TotalEnergyKWh float64 `json:"total_energy_kwh"`
	TotalCost      float64 `json:"total_cost"`
}

// BreakerTotal is the energy and cost of one breaker across all days
type BreakerTotal struct {
	BreakerID      string  `json:"breaker_id"`
	TotalEnergyKWh float64 `json:"total_energy_kwh"`
	TotalCost      float64 `json:"total_cost"`
}

// EnergyShare is the proportional consumption per breaker. Percentages are
// only populated when Sufficient is true.
type EnergyShare struct {
	Sufficient  bool               `json:"sufficient"`
	Warning     string             `json:"warning,omitempty"`
	TotalsKWh   map[string]float64 `json:"totals_kwh"`
	Percentages map[string]float64 `json:"percentages,omitempty"`
}

// AnomalyReport maps breaker_id to the sorted, unique dates flagged for it
type AnomalyReport map[string][]string

// Forecast modes
const (
	ForecastModeSnapshot = "snapshot"
	ForecastModeSequence = "sequence"
)

// ForecastResult is the projected consumption over a horizon and its cost
type ForecastResult struct {
	Mode                string    `json:"mode"`
	HorizonDays         int       `json:"horizon_days"`
	DailyPredictionsKWh []float64 `json:"daily_predictions_kwh"`
	TotalEnergyKWh      float64   `json:"total_energy_kwh"`
	EstimatedCost       float64   `json:"estimated_cost"`
	UnitPrice           float64   `json:"unit_price"`

	// Aliases kept for clients of the forecast endpoint
	ExpectedKWh  float64 `json:"expected_kwh"`
	ExpectedCost float64 `json:"expected_cost"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Device is operator-supplied metadata about equipment behind a breaker.
// ManualText carries text already extracted from the device's documentation.
type Device struct {
	ID         string `json:"id"`
	BreakerID  string `json:"breaker_id"`
	Name       string `json:"name"`
	ManualText string `json:"manual_text,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}
