package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

func measurement(id string, ts time.Time, v, c, p, e float64) models.Measurement {
	metrics := models.DefaultMetrics()
	metrics.Voltage = v
	metrics.Current = c
	metrics.ActivePower = p
	metrics.Energy = e
	return models.Measurement{Timestamp: ts, BreakerID: id, Metrics: metrics}
}

func TestSnapshotConstantModel(t *testing.T) {
	f := NewForecaster(2.1, 5, 3, nil)
	result, err := f.Snapshot(context.Background(), ConstantModel{Value: 4.0}, []float64{230, 10, 2.3}, 5)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	want := []float64{4, 4, 4, 4, 4}
	if len(result.DailyPredictionsKWh) != len(want) {
		t.Fatalf("expected %d predictions, got %v", len(want), result.DailyPredictionsKWh)
	}
	for i, v := range want {
		if result.DailyPredictionsKWh[i] != v {
			t.Fatalf("day %d: expected %v, got %v", i, v, result.DailyPredictionsKWh[i])
		}
	}
	if result.TotalEnergyKWh != 20.0 {
		t.Errorf("expected total 20.0, got %v", result.TotalEnergyKWh)
	}
	if result.EstimatedCost != 42.0 {
		t.Errorf("expected cost 42.0, got %v", result.EstimatedCost)
	}
	if result.ExpectedKWh != result.TotalEnergyKWh || result.ExpectedCost != result.EstimatedCost {
		t.Errorf("aliases out of sync: %+v", result)
	}
	if result.Mode != models.ForecastModeSnapshot {
		t.Errorf("expected snapshot mode, got %s", result.Mode)
	}
}

func TestForecastLengthAndSum(t *testing.T) {
	model := &LinearModel{Coefficients: []float64{0.001, 0.37, 1.13}, Intercept: 0.123}
	f := NewForecaster(2.1, 7, 3, nil)
	for horizon := 1; horizon <= 30; horizon++ {
		result, err := f.Snapshot(context.Background(), model, []float64{229.7, 9.81, 2.2531}, horizon)
		if err != nil {
			t.Fatalf("horizon %d: %v", horizon, err)
		}
		if len(result.DailyPredictionsKWh) != horizon {
			t.Fatalf("horizon %d: got %d predictions", horizon, len(result.DailyPredictionsKWh))
		}
		var sum float64
		for _, v := range result.DailyPredictionsKWh {
			sum += v
		}
		if math.Abs(sum-result.TotalEnergyKWh) > 1e-9 {
			t.Fatalf("horizon %d: sum %v != total %v", horizon, sum, result.TotalEnergyKWh)
		}
	}
}

func TestSnapshotUsesDefaultHorizon(t *testing.T) {
	f := NewForecaster(2.1, 5, 3, nil)
	result, err := f.Snapshot(context.Background(), ConstantModel{Value: 1}, []float64{1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if result.HorizonDays != 5 {
		t.Fatalf("expected default horizon 5, got %d", result.HorizonDays)
	}
}

func TestSnapshotErrors(t *testing.T) {
	f := NewForecaster(2.1, 5, 3, nil)
	ctx := context.Background()

	if _, err := f.Snapshot(ctx, nil, []float64{1, 2, 3}, 5); !errors.Is(err, models.ErrModelUnavailable) {
		t.Errorf("nil model: expected ErrModelUnavailable, got %v", err)
	}
	if _, err := f.Snapshot(ctx, ConstantModel{Value: 1}, nil, 5); !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("empty features: expected ErrInsufficientData, got %v", err)
	}
	if _, err := f.Snapshot(ctx, ConstantModel{Value: 1}, []float64{math.NaN(), 1, 1}, 5); !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("NaN features: expected ErrInsufficientData, got %v", err)
	}

	short := &LinearModel{Coefficients: []float64{1, 1}}
	if _, err := f.Snapshot(ctx, short, []float64{1, 2, 3}, 5); err == nil {
		t.Error("expected error for feature width mismatch")
	}
}

type shortSequence struct{}

func (shortSequence) PredictHorizon(context.Context, []DailyFeatures, int) ([]float64, error) {
	return []float64{1, 2}, nil
}

func TestSequenceRejectsWrongLength(t *testing.T) {
	f := NewForecaster(2.1, 5, 3, nil)
	history := []DailyFeatures{{Date: "2024-01-01", Voltage: 230, Current: 10, ActivePower: 2.3, EnergyKWh: 5}}
	if _, err := f.Sequence(context.Background(), shortSequence{}, history, 5); err == nil {
		t.Fatal("expected error for wrong-length output")
	}
}

func TestForecastModeSelection(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var ms []models.Measurement
	for d := 0; d < 4; d++ {
		ms = append(ms, measurement("CB-01", start.AddDate(0, 0, d), 230, 10, 2.3, 5))
	}
	f := NewForecaster(2.1, 3, 3, nil)
	ctx := context.Background()

	result, err := f.Forecast(ctx, Input{
		Measurements:  ms,
		Model:         ConstantModel{Value: 1},
		SequenceModel: ConstantModel{Value: 2},
	})
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if result.Mode != models.ForecastModeSequence || result.TotalEnergyKWh != 6 {
		t.Fatalf("expected sequence forecast of 6 kWh, got %+v", result)
	}

	result, err = f.Forecast(ctx, Input{
		Measurements:  ms[:2],
		Model:         ConstantModel{Value: 1},
		SequenceModel: ConstantModel{Value: 2},
	})
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if result.Mode != models.ForecastModeSnapshot {
		t.Fatalf("expected snapshot fallback with two days of history, got %s", result.Mode)
	}

	if _, err := f.Forecast(ctx, Input{Measurements: ms[:2], SequenceModel: ConstantModel{Value: 2}}); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := f.Forecast(ctx, Input{Measurements: ms}); !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if _, err := f.Forecast(ctx, Input{BreakerID: "CB-09", Measurements: ms, Model: ConstantModel{Value: 1}}); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for unknown breaker, got %v", err)
	}
}

func TestSnapshotFeaturesAndHistory(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ms := []models.Measurement{
		measurement("CB-01", day.Add(time.Hour), 220, 10, 2, 1),
		measurement("CB-01", day.Add(2*time.Hour), 240, 20, 4, 2),
		measurement("CB-02", day.Add(time.Hour), 100, 1, 1, 9),
		measurement("CB-01", day.AddDate(0, 0, 1), 230, 15, 3, 4),
	}

	features, err := SnapshotFeatures(ms[:2], "CB-01")
	if err != nil {
		t.Fatalf("snapshot features: %v", err)
	}
	if features[0] != 230 || features[1] != 15 || features[2] != 3 {
		t.Fatalf("unexpected averages %v", features)
	}

	history := DailyHistory(ms, "CB-01")
	if len(history) != 2 {
		t.Fatalf("expected 2 days, got %+v", history)
	}
	if history[0].Date != "2024-01-01" || history[0].EnergyKWh != 3 || history[0].Samples != 2 {
		t.Fatalf("unexpected first day %+v", history[0])
	}
	if history[1].Date != "2024-01-02" {
		t.Fatalf("history not ordered: %+v", history)
	}
}

func TestLoadLinearModel(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "model.yaml")
	content := "features: [voltage, current, active_power]\ncoefficients: [0.0, 0.0, 24.0]\nintercept: 0.5\n"
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadLinearModel(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	preds, err := m.Predict(context.Background(), [][]float64{{230, 10, 2}})
	if err != nil || preds[0] != 48.5 {
		t.Fatalf("unexpected prediction %v, %v", preds, err)
	}

	jsonPath := filepath.Join(dir, "model.json")
	if err := os.WriteFile(jsonPath, []byte(`{"coefficients":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLinearModel(jsonPath); !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for empty model, got %v", err)
	}
	if _, err := LoadLinearModel(filepath.Join(dir, "missing.yaml")); !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for missing file, got %v", err)
	}
}

func TestHTTPModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		preds := make([]float64, len(req.Rows))
		for i := range preds {
			preds[i] = 3.333
		}
		json.NewEncoder(w).Encode(predictResponse{Predictions: preds})
	}))
	defer server.Close()

	f := NewForecaster(2.1, 3, 3, nil)
	result, err := f.Snapshot(context.Background(), NewHTTPModel(server.URL, time.Second), []float64{230, 10, 2.3}, 3)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if result.DailyPredictionsKWh[0] != 3.33 || result.TotalEnergyKWh != 9.99 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.EstimatedCost != 20.98 {
		t.Fatalf("expected cost 20.98, got %v", result.EstimatedCost)
	}
}

func TestHTTPModelUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPSequenceModel(server.URL, time.Second).PredictHorizon(context.Background(), nil, 3)
	if !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}
