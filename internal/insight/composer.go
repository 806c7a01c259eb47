package insight

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/aggregator"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/forecast"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// TimedOut is the section error used when the time budget ran out
const TimedOut = "timed out"

// Section reports whether an optional part of the payload could be computed.
// An unavailable section carries the reason; an available one may still be empty.
type Section struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Billing is always computed
type Billing struct {
	Daily  []models.DailyBillingRecord `json:"daily"`
	Totals []models.BreakerTotal       `json:"totals"`
	Share  models.EnergyShare          `json:"energy_share"`
}

// AnomalySection wraps one profile's report
type AnomalySection struct {
	Section
	Profile string               `json:"profile"`
	Report  models.AnomalyReport `json:"report,omitempty"`
}

// ForecastSection wraps the forecast result
type ForecastSection struct {
	Section
	Result *models.ForecastResult `json:"result,omitempty"`
}

// Payload is one composition of billing, anomalies and forecast over a snapshot
type Payload struct {
	ID           string          `json:"id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	BreakerID    string          `json:"breaker_id,omitempty"`
	Measurements int             `json:"measurements"`
	Billing      Billing         `json:"billing"`
	Anomalies    AnomalySection  `json:"anomalies"`
	Leakage      AnomalySection  `json:"leakage"`
	Forecast     ForecastSection `json:"forecast"`
}

// Options select the models and scope of one composition. BreakerID scopes the
// forecast only; billing and anomalies always cover the whole fleet.
type Options struct {
	Model         forecast.Model
	SequenceModel forecast.SequenceModel
	BreakerID     string
	Horizon       int
}

// Composer runs the pipeline components over one snapshot
type Composer struct {
	Forecaster *forecast.Forecaster
	Detector   *anomaly.Detector
	UnitPrice  float64
	Timeout    time.Duration

	logger *logger.Logger
	now    func() time.Time
}

// NewComposer creates a composer. A zero timeout disables the wall-clock budget.
func NewComposer(f *forecast.Forecaster, d *anomaly.Detector, unitPrice float64, timeout time.Duration, log *logger.Logger) *Composer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Composer{
		Forecaster: f,
		Detector:   d,
		UnitPrice:  unitPrice,
		Timeout:    timeout,
		logger:     log.WithComponent("insight"),
		now:        time.Now,
	}
}

// Compose never fails as a whole. Billing is computed inline; the anomaly
// and forecast sections run concurrently and each degrades to unavailable on
// error or when the time budget runs out.
func (c *Composer) Compose(ctx context.Context, ms []models.Measurement, opts Options) Payload {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	p := Payload{
		ID:           uuid.NewString(),
		GeneratedAt:  c.now().UTC(),
		BreakerID:    opts.BreakerID,
		Measurements: len(ms),
		Billing: Billing{
			Daily:  aggregator.AggregateByDay(ms, c.UnitPrice),
			Totals: aggregator.TotalsByBreaker(ms, c.UnitPrice),
			Share:  aggregator.EnergyShare(ms),
		},
		Anomalies: AnomalySection{Profile: anomaly.ProfileFault.Name},
		Leakage:   AnomalySection{Profile: anomaly.ProfileLeakage.Name},
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.Anomalies = c.detect(ctx, ms, anomaly.ProfileFault)
	}()
	go func() {
		defer wg.Done()
		p.Leakage = c.detect(ctx, ms, anomaly.ProfileLeakage)
	}()
	go func() {
		defer wg.Done()
		p.Forecast = c.forecast(ctx, ms, opts)
	}()
	wg.Wait()

	c.logger.Info("Insights composed",
		"id", p.ID,
		"measurements", p.Measurements,
		"anomalies_available", p.Anomalies.Available,
		"leakage_available", p.Leakage.Available,
		"forecast_available", p.Forecast.Available,
	)
	return p
}

func (c *Composer) detect(ctx context.Context, ms []models.Measurement, profile anomaly.Profile) AnomalySection {
	section := AnomalySection{Profile: profile.Name}
	if c.Detector == nil {
		section.Error = "anomaly detector not configured"
		return section
	}

	var report models.AnomalyReport
	err := withBudget(ctx, func(ctx context.Context) error {
		var err error
		report, err = c.Detector.Detect(ctx, ms, profile)
		return err
	})
	if err != nil {
		c.logger.Warn("Anomaly section unavailable", "profile", profile.Name, "error", err)
		section.Error = describe(err)
		return section
	}
	section.Available = true
	section.Report = report
	return section
}

func (c *Composer) forecast(ctx context.Context, ms []models.Measurement, opts Options) ForecastSection {
	var section ForecastSection
	if c.Forecaster == nil {
		section.Error = "forecaster not configured"
		return section
	}

	var result models.ForecastResult
	err := withBudget(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.Forecaster.Forecast(ctx, forecast.Input{
			Measurements:  ms,
			BreakerID:     opts.BreakerID,
			Horizon:       opts.Horizon,
			Model:         opts.Model,
			SequenceModel: opts.SequenceModel,
		})
		return err
	})
	if err != nil {
		c.logger.Warn("Forecast section unavailable", "error", err)
		section.Error = describe(err)
		return section
	}
	section.Available = true
	section.Result = &result
	return section
}

// withBudget runs fn and gives up once ctx is done, even if fn ignores ctx.
// The abandoned goroutine writes only into its own buffered channel.
func withBudget(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	default:
		return err.Error()
	}
}
