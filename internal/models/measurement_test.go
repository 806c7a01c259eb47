package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const validPayload = `{
	"timestamp": "2024-01-01T10:00:00Z",
	"breaker_id": "CB-01",
	"metrics": {
		"current": 12, "voltage": 230, "active_power": 2.8,
		"reactive_power": 0, "apparent_power": 0, "power_factor": 0.9,
		"energy": 2.0, "leakage_current": 0.01, "temperature": 25
	}
}`

func TestUnmarshalMeasurement(t *testing.T) {
	var m Measurement
	if err := json.Unmarshal([]byte(validPayload), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m.BreakerID != "CB-01" {
		t.Fatalf("unexpected breaker id %q", m.BreakerID)
	}
	if !m.Timestamp.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", m.Timestamp)
	}
	if m.Metrics.Energy != 2.0 || m.Metrics.LeakageCurrent != 0.01 {
		t.Fatalf("unexpected metrics %+v", m.Metrics)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid measurement, got %v", err)
	}
}

func TestUnmarshalMeasurementRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing timestamp", `{"breaker_id":"CB-01","metrics":{}}`, "timestamp"},
		{"missing breaker", `{"timestamp":"2024-01-01T10:00:00Z","metrics":{}}`, "breaker_id"},
		{"missing metrics", `{"timestamp":"2024-01-01T10:00:00Z","breaker_id":"CB-01"}`, "metrics"},
		{"missing energy", `{"timestamp":"2024-01-01T10:00:00Z","breaker_id":"CB-01","metrics":{
			"current":1,"voltage":1,"active_power":1,"reactive_power":0,"apparent_power":0,
			"power_factor":1,"leakage_current":0,"temperature":20}}`, "metrics.energy"},
		{"bad timestamp", `{"timestamp":"yesterday","breaker_id":"CB-01","metrics":{}}`, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Measurement
			err := json.Unmarshal([]byte(tt.payload), &m)
			if !errors.Is(err, ErrInvalidMeasurement) {
				t.Fatalf("expected invalid measurement, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestParseTimestampWithoutZone(t *testing.T) {
	ts, err := ParseTimestamp("2024-01-01T10:30:00")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ts.Location() != time.UTC || ts.Hour() != 10 || ts.Minute() != 30 {
		t.Fatalf("unexpected timestamp %v", ts)
	}
}

func TestValidateRejectsBlankBreaker(t *testing.T) {
	m := NewManualMeasurement("  ", time.Now(), 10, 230)
	if err := m.Validate(); !errors.Is(err, ErrInvalidMeasurement) {
		t.Fatalf("expected invalid measurement, got %v", err)
	}
}

func TestNewManualMeasurementDerivesPower(t *testing.T) {
	m := NewManualMeasurement("CB-01", time.Now(), 30, 230)
	if m.Metrics.ActivePower != 6.9 || m.Metrics.Energy != 6.9 {
		t.Fatalf("unexpected derived power %+v", m.Metrics)
	}
	if m.Metrics.PowerFactor != 0.9 || m.Metrics.Temperature != 25 {
		t.Fatalf("defaults not applied: %+v", m.Metrics)
	}
}

func TestMeasurementRoundTripJSON(t *testing.T) {
	m := NewManualMeasurement("CB-02", time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC), 10, 230)
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Measurement
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Key() != m.Key() || back.Metrics != m.Metrics {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, m)
	}
}
