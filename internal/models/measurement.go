package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for grouping and reporting
const DateLayout = "2006-01-02"

// timestampLayouts are accepted on the wire, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// Metrics holds the electrical readings of a single sample
type Metrics struct {
	Current        float64 `json:"current"`
	Voltage        float64 `json:"voltage"`
	ActivePower    float64 `json:"active_power"`
	ReactivePower  float64 `json:"reactive_power"`
	ApparentPower  float64 `json:"apparent_power"`
	PowerFactor    float64 `json:"power_factor"`
	Energy         float64 `json:"energy"`
	LeakageCurrent float64 `json:"leakage_current"`
	Temperature    float64 `json:"temperature"`
}

// DefaultMetrics returns the explicit values used when a producer has no
// reading for a field. Producers start from this and overwrite what they know.
func DefaultMetrics() Metrics {
	return Metrics{
		PowerFactor: 0.9,
		Temperature: 25,
	}
}

// Values returns the metrics keyed by their JSON names
func (m Metrics) Values() map[string]float64 {
	return map[string]float64{
		"current":         m.Current,
		"voltage":         m.Voltage,
		"active_power":    m.ActivePower,
		"reactive_power":  m.ReactivePower,
		"apparent_power":  m.ApparentPower,
		"power_factor":    m.PowerFactor,
		"energy":          m.Energy,
		"leakage_current": m.LeakageCurrent,
		"temperature":     m.Temperature,
	}
}

// Measurement is one sample from one breaker at one instant. It is never
// mutated after creation; corrections arrive as new measurements.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`
	BreakerID string    `json:"breaker_id"`
	Metrics   Metrics   `json:"metrics"`
}

// Key identifies the measurement in the store and in persisted records
func (m Measurement) Key() string {
	return m.BreakerID + "_" + m.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Date returns the calendar date of the timestamp in its own location
func (m Measurement) Date() string {
	return m.Timestamp.Format(DateLayout)
}

// Validate checks the fields that decoding alone cannot guarantee
func (m Measurement) Validate() error {
	if strings.TrimSpace(m.BreakerID) == "" {
		return &ValidationError{Field: "breaker_id", Message: "is required"}
	}
	if m.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "is required"}
	}
	for name, v := range m.Metrics.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "metrics." + name, Message: "must be a finite number"}
		}
	}
	return nil
}

// ParseTimestamp parses an absolute instant. Values without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

type wireMetrics struct {
	Current        *float64 `json:"current"`
	Voltage        *float64 `json:"voltage"`
	ActivePower    *float64 `json:"active_power"`
	ReactivePower  *float64 `json:"reactive_power"`
	ApparentPower  *float64 `json:"apparent_power"`
	PowerFactor    *float64 `json:"power_factor"`
	Energy         *float64 `json:"energy"`
	LeakageCurrent *float64 `json:"leakage_current"`
	Temperature    *float64 `json:"temperature"`
}

type wireMeasurement struct {
	Timestamp *string      `json:"timestamp"`
	BreakerID *string      `json:"breaker_id"`
	Metrics   *wireMetrics `json:"metrics"`
}

// UnmarshalJSON rejects payloads with absent fields instead of letting them
// decode to zero values.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var w wireMeasurement
	if err := json.Unmarshal(data, &w); err != nil {
		return &ValidationError{Field: "body", Message: err.Error()}
	}
	if w.Timestamp == nil {
		return &ValidationError{Field: "timestamp", Message: "is required"}
	}
	if w.BreakerID == nil {
		return &ValidationError{Field: "breaker_id", Message: "is required"}
	}
	if w.Metrics == nil {
		return &ValidationError{Field: "metrics", Message: "is required"}
	}
	ts, err := ParseTimestamp(*w.Timestamp)
	if err != nil {
		return &ValidationError{Field: "timestamp", Message: "cannot be parsed as an absolute instant"}
	}

	var metrics Metrics
	fields := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"current", w.Metrics.Current, &metrics.Current},
		{"voltage", w.Metrics.Voltage, &metrics.Voltage},
		{"active_power", w.Metrics.ActivePower, &metrics.ActivePower},
		{"reactive_power", w.Metrics.ReactivePower, &metrics.ReactivePower},
		{"apparent_power", w.Metrics.ApparentPower, &metrics.ApparentPower},
		{"power_factor", w.Metrics.PowerFactor, &metrics.PowerFactor},
		{"energy", w.Metrics.Energy, &metrics.Energy},
		{"leakage_current", w.Metrics.LeakageCurrent, &metrics.LeakageCurrent},
		{"temperature", w.Metrics.Temperature, &metrics.Temperature},
	}
	for _, f := range fields {
		if f.src == nil {
			return &ValidationError{Field: "metrics." + f.name, Message: "is required"}
		}
		*f.dst = *f.src
	}

	m.Timestamp = ts
	m.BreakerID = strings.TrimSpace(*w.BreakerID)
	m.Metrics = metrics
	return nil
}

// NewManualMeasurement builds a measurement from an operator-entered current
// and voltage, deriving active power in kW and one hour of energy in kWh.
func NewManualMeasurement(breakerID string, at time.Time, current, voltage float64) Measurement {
	metrics := DefaultMetrics()
	metrics.Current = current
	metrics.Voltage = voltage
	metrics.ActivePower = current * voltage / 1000
	metrics.Energy = metrics.ActivePower
	return Measurement{
		Timestamp: at,
		BreakerID: breakerID,
		Metrics:   metrics,
	}
}
