package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Forecaster turns model predictions into a daily kWh projection and its cost.
// It holds no state between calls.
type Forecaster struct {
	UnitPrice      float64
	Horizon        int
	MinHistoryDays int

	logger *logger.Logger
	now    func() time.Time
}

// NewForecaster creates a forecaster. horizon is used when a call passes none.
func NewForecaster(unitPrice float64, horizon, minHistoryDays int, log *logger.Logger) *Forecaster {
	if log == nil {
		log = logger.NewNop()
	}
	return &Forecaster{
		UnitPrice:      unitPrice,
		Horizon:        horizon,
		MinHistoryDays: minHistoryDays,
		logger:         log.WithComponent("forecast"),
		now:            time.Now,
	}
}

// Input is everything a Forecast call needs
type Input struct {
	Measurements  []models.Measurement
	BreakerID     string
	Horizon       int
	Model         Model
	SequenceModel SequenceModel
}

// Forecast uses the sequence model when one is given and the history covers
// at least MinHistoryDays days, and the snapshot model otherwise.
func (f *Forecaster) Forecast(ctx context.Context, in Input) (models.ForecastResult, error) {
	if in.Model == nil && in.SequenceModel == nil {
		return models.ForecastResult{}, fmt.Errorf("%w: no forecasting model configured", models.ErrModelUnavailable)
	}

	if in.SequenceModel != nil {
		history := DailyHistory(in.Measurements, in.BreakerID)
		if len(history) >= f.MinHistoryDays && len(history) > 0 {
			return f.Sequence(ctx, in.SequenceModel, history, in.Horizon)
		}
		if in.Model == nil {
			return models.ForecastResult{}, &models.DataError{
				Component: "forecast",
				Message:   fmt.Sprintf("sequence model needs %d days of history, have %d", f.MinHistoryDays, len(history)),
			}
		}
		f.logger.Debug("Falling back to snapshot forecast", "history_days", len(history), "min", f.MinHistoryDays)
	}

	features, err := SnapshotFeatures(in.Measurements, in.BreakerID)
	if err != nil {
		return models.ForecastResult{}, err
	}
	return f.Snapshot(ctx, in.Model, features, in.Horizon)
}

// Snapshot scores the same feature vector once per day of the horizon.
// This assumes the readings stay stationary over the horizon.
func (f *Forecaster) Snapshot(ctx context.Context, model Model, features []float64, horizon int) (models.ForecastResult, error) {
	if model == nil {
		return models.ForecastResult{}, fmt.Errorf("%w: no snapshot model", models.ErrModelUnavailable)
	}
	horizon, err := f.horizon(horizon)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if err := checkFeatures(features); err != nil {
		return models.ForecastResult{}, err
	}

	rows := make([][]float64, horizon)
	for i := range rows {
		rows[i] = append([]float64(nil), features...)
	}
	preds, err := model.Predict(ctx, rows)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("snapshot prediction: %w", err)
	}
	return f.result(models.ForecastModeSnapshot, horizon, preds)
}

// Sequence asks a sequence model for horizon days ahead of history
func (f *Forecaster) Sequence(ctx context.Context, model SequenceModel, history []DailyFeatures, horizon int) (models.ForecastResult, error) {
	if model == nil {
		return models.ForecastResult{}, fmt.Errorf("%w: no sequence model", models.ErrModelUnavailable)
	}
	horizon, err := f.horizon(horizon)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if len(history) == 0 {
		return models.ForecastResult{}, &models.DataError{Component: "forecast", Message: "empty history"}
	}
	for _, d := range history {
		if err := checkFeatures(d.vector()); err != nil {
			return models.ForecastResult{}, err
		}
	}

	preds, err := model.PredictHorizon(ctx, history, horizon)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("sequence prediction: %w", err)
	}
	return f.result(models.ForecastModeSequence, horizon, preds)
}

func (f *Forecaster) horizon(h int) (int, error) {
	if h <= 0 {
		h = f.Horizon
	}
	if h <= 0 {
		return 0, &models.DataError{Component: "forecast", Message: "horizon must be at least one day"}
	}
	return h, nil
}

func checkFeatures(features []float64) error {
	if len(features) == 0 {
		return &models.DataError{Component: "forecast", Message: "empty feature vector"}
	}
	for _, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &models.DataError{Component: "forecast", Message: "feature vector contains NaN or Inf"}
		}
	}
	return nil
}

func (f *Forecaster) result(mode string, horizon int, preds []float64) (models.ForecastResult, error) {
	if len(preds) != horizon {
		return models.ForecastResult{}, fmt.Errorf("model returned %d predictions for a %d day horizon", len(preds), horizon)
	}

	daily := make([]float64, horizon)
	total := decimal.Zero
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return models.ForecastResult{}, fmt.Errorf("model returned a non-finite prediction for day %d", i+1)
		}
		rounded := decimal.NewFromFloat(p).Round(2)
		daily[i] = rounded.InexactFloat64()
		total = total.Add(rounded)
	}
	cost := total.Mul(decimal.NewFromFloat(f.UnitPrice)).Round(2)

	totalKWh := total.InexactFloat64()
	estimated := cost.InexactFloat64()

	f.logger.Debug("Forecast computed", "mode", mode, "horizon", horizon, "total_kwh", totalKWh, "cost", estimated)
	return models.ForecastResult{
		Mode:                mode,
		HorizonDays:         horizon,
		DailyPredictionsKWh: daily,
		TotalEnergyKWh:      totalKWh,
		EstimatedCost:       estimated,
		UnitPrice:           f.UnitPrice,
		ExpectedKWh:         totalKWh,
		ExpectedCost:        estimated,
		GeneratedAt:         f.now().UTC(),
	}, nil
}
