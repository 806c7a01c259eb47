package insight

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/forecast"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

func sample() []models.Measurement {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	var ms []models.Measurement
	for _, id := range []string{"CB-01", "CB-02"} {
		for h := 0; h < 12; h++ {
			m := models.NewManualMeasurement(id, start.Add(time.Duration(h)*time.Hour), 10, 230)
			ms = append(ms, m)
		}
	}
	return ms
}

func newComposer(timeout time.Duration) *Composer {
	f := forecast.NewForecaster(2.1, 5, 3, nil)
	d := anomaly.NewDetector(anomaly.DefaultConfig(), nil)
	return NewComposer(f, d, 2.1, timeout, nil)
}

func TestComposeAllSections(t *testing.T) {
	c := newComposer(5 * time.Second)
	p := c.Compose(context.Background(), sample(), Options{Model: forecast.ConstantModel{Value: 4}, Horizon: 5})

	if p.ID == "" {
		t.Error("expected payload id")
	}
	if len(p.Billing.Daily) != 2 || !p.Billing.Share.Sufficient {
		t.Fatalf("unexpected billing %+v", p.Billing)
	}
	if !p.Anomalies.Available || !p.Leakage.Available {
		t.Fatalf("anomaly sections should be available: %+v %+v", p.Anomalies, p.Leakage)
	}
	if !p.Forecast.Available || p.Forecast.Result.TotalEnergyKWh != 20 || p.Forecast.Result.EstimatedCost != 42 {
		t.Fatalf("unexpected forecast %+v", p.Forecast)
	}
}

func TestComposeWithoutModelDegradesForecast(t *testing.T) {
	c := newComposer(5 * time.Second)
	p := c.Compose(context.Background(), sample(), Options{})

	if p.Forecast.Available || p.Forecast.Result != nil {
		t.Fatalf("forecast should be unavailable, got %+v", p.Forecast)
	}
	if p.Forecast.Error == "" {
		t.Error("unavailable forecast should carry a reason")
	}
	if !p.Anomalies.Available || len(p.Billing.Daily) == 0 {
		t.Fatal("billing and anomalies must survive a forecast failure")
	}
}

type slowModel struct{}

func (slowModel) Predict(_ context.Context, rows [][]float64) ([]float64, error) {
	time.Sleep(500 * time.Millisecond)
	return make([]float64, len(rows)), nil
}

func TestComposeTimeoutMarksForecastUnavailable(t *testing.T) {
	c := newComposer(50 * time.Millisecond)
	p := c.Compose(context.Background(), sample(), Options{Model: slowModel{}})

	if p.Forecast.Available {
		t.Fatal("slow forecast should be unavailable")
	}
	if p.Forecast.Error != "timed out" {
		t.Fatalf("expected timed out, got %q", p.Forecast.Error)
	}
}

func TestRenderContextDistinguishesUnavailableFromEmpty(t *testing.T) {
	p := Payload{
		Anomalies: AnomalySection{Section: Section{Available: true}, Report: models.AnomalyReport{}},
		Leakage:   AnomalySection{Section: Section{Available: true}, Report: models.AnomalyReport{"CB-02": {"2024-01-01", "2024-01-03"}}},
		Forecast:  ForecastSection{Section: Section{Error: "model unavailable"}},
	}
	devices := []models.Device{{ID: "1", BreakerID: "CB-02", Name: "Pump", Prompt: "runs\nat night"}}

	text := RenderContext(p, devices)
	for _, want := range []string{
		"device 1 on breaker CB-02 (Pump)",
		"note: runs at night",
		"Forecast: unavailable (model unavailable)",
		"Electrical faults: none",
		"  - CB-02: 2024-01-01, 2024-01-03",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("context missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "0.00 kWh") {
		t.Errorf("unavailable forecast rendered as zero:\n%s", text)
	}
}

func TestRenderContextForecastNumbers(t *testing.T) {
	p := Payload{
		Forecast: ForecastSection{
			Section: Section{Available: true},
			Result:  &models.ForecastResult{HorizonDays: 5, TotalEnergyKWh: 20, EstimatedCost: 42},
		},
	}
	text := RenderContext(p, nil)
	if !strings.Contains(text, "Forecast: 20.00 kWh over 5 days, estimated cost 42.00") {
		t.Fatalf("unexpected forecast line:\n%s", text)
	}
	if !strings.Contains(text, "Electrical faults: unavailable") {
		t.Fatalf("zero-value anomaly section should render unavailable:\n%s", text)
	}
}
