package forecast

import (
	"sort"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// FeatureNames is the column order of snapshot rows
var FeatureNames = []string{"voltage", "current", "active_power"}

// DailyFeatures is one day of a breaker's history as fed to a sequence model
type DailyFeatures struct {
	Date        string  `json:"date"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	ActivePower float64 `json:"active_power"`
	EnergyKWh   float64 `json:"energy_kwh"`
	Samples     int     `json:"samples"`
}

func (d DailyFeatures) vector() []float64 {
	return []float64{d.Voltage, d.Current, d.ActivePower, d.EnergyKWh}
}

func selectBreaker(ms []models.Measurement, breakerID string) []models.Measurement {
	if breakerID == "" {
		return ms
	}
	out := make([]models.Measurement, 0, len(ms))
	for _, m := range ms {
		if m.BreakerID == breakerID {
			out = append(out, m)
		}
	}
	return out
}

// SnapshotFeatures averages voltage, current and active power over the
// breaker's measurements, or the whole fleet when breakerID is empty.
func SnapshotFeatures(ms []models.Measurement, breakerID string) ([]float64, error) {
	selected := selectBreaker(ms, breakerID)
	if len(selected) == 0 {
		return nil, &models.DataError{Component: "forecast", Message: noMeasurements(breakerID)}
	}

	var v, c, p float64
	for _, m := range selected {
		v += m.Metrics.Voltage
		c += m.Metrics.Current
		p += m.Metrics.ActivePower
	}
	n := float64(len(selected))
	return []float64{v / n, c / n, p / n}, nil
}

// DailyHistory builds one feature row per calendar day, oldest first.
// Electrical readings are averaged, energy is summed.
func DailyHistory(ms []models.Measurement, breakerID string) []DailyFeatures {
	byDay := make(map[string]*DailyFeatures)
	for _, m := range selectBreaker(ms, breakerID) {
		day := m.Date()
		d, ok := byDay[day]
		if !ok {
			d = &DailyFeatures{Date: day}
			byDay[day] = d
		}
		d.Voltage += m.Metrics.Voltage
		d.Current += m.Metrics.Current
		d.ActivePower += m.Metrics.ActivePower
		d.EnergyKWh += m.Metrics.Energy
		d.Samples++
	}

	out := make([]DailyFeatures, 0, len(byDay))
	for _, d := range byDay {
		n := float64(d.Samples)
		d.Voltage /= n
		d.Current /= n
		d.ActivePower /= n
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func noMeasurements(breakerID string) string {
	if breakerID == "" {
		return "no measurements"
	}
	return "no measurements for breaker " + breakerID
}
