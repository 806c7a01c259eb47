package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

const (
	measurementName  = "breaker_measurement"
	dailyBillingName = "daily_billing"
)

// Client represents an InfluxDB v2 client
type Client struct {
	client        influxdb2.Client
	writeAPI      api.WriteAPI
	blockingWrite api.WriteAPIBlocking
	queryAPI      api.QueryAPI
	config        config.InfluxDBConfig
	logger        *logger.Logger
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("influxdb")

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Add a health check to verify credentials
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	c := &Client{
		client:        client,
		writeAPI:      client.WriteAPI(cfg.Org, cfg.Bucket),
		blockingWrite: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:      client.QueryAPI(cfg.Org),
		config:        cfg,
		logger:        log,
	}

	// Async write failures are otherwise silent
	go func() {
		for err := range c.writeAPI.Errors() {
			c.logger.Error("Async write failed", "error", err)
		}
	}()

	log.Info("Connected to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

// Persist writes one measurement synchronously so the caller only
// acknowledges records that reached the database.
func (c *Client) Persist(ctx context.Context, m models.Measurement) (string, error) {
	location := fmt.Sprintf("influxdb://%s/%s/%s", c.config.Bucket, measurementName, m.Key())
	if err := c.blockingWrite.WritePoint(ctx, measurementPoint(m)); err != nil {
		return "", &models.PersistenceError{Op: "influxdb write", Location: location, Err: err}
	}
	return location, nil
}

// WriteDailyBilling writes daily billing rollups; the point time is the start of the day in UTC
func (c *Client) WriteDailyBilling(records []models.DailyBillingRecord) error {
	for _, r := range records {
		point, err := billingPoint(r)
		if err != nil {
			return err
		}
		c.writeAPI.WritePoint(point)
	}
	c.logger.Debug("Daily billing queued", "records", len(records))
	return nil
}

// LoadMeasurements reads every measurement recorded since the given instant
func (c *Client) LoadMeasurements(ctx context.Context, since time.Time) ([]models.Measurement, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		c.config.Bucket, since.UTC().Format(time.RFC3339), measurementName)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer result.Close()

	var out []models.Measurement
	skipped := 0
	for result.Next() {
		m, err := fromRecord(result.Record())
		if err != nil {
			skipped++
			continue
		}
		out = append(out, m)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}

	c.logger.Info("Measurements loaded from InfluxDB", "count", len(out), "skipped", skipped, "since", since)
	return out, nil
}

// Flush forces pending async writes out
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes and closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

func measurementPoint(m models.Measurement) *write.Point {
	fields := make(map[string]interface{}, 9)
	for name, v := range m.Metrics.Values() {
		fields[name] = v
	}
	return write.NewPoint(
		measurementName,
		map[string]string{"breaker_id": m.BreakerID},
		fields,
		m.Timestamp,
	)
}

func billingPoint(r models.DailyBillingRecord) (*write.Point, error) {
	day, err := time.Parse(models.DateLayout, r.Date)
	if err != nil {
		return nil, fmt.Errorf("billing record for %s has invalid date %q: %w", r.BreakerID, r.Date, err)
	}
	return write.NewPoint(
		dailyBillingName,
		map[string]string{"breaker_id": r.BreakerID},
		map[string]interface{}{
			"total_energy_kwh": r.TotalEnergyKWh,
			"total_cost":       r.TotalCost,
		},
		day,
	), nil
}

// fromRecord converts one pivoted row back into a measurement. Every metric
// column must be present; a partial row is an error rather than zeros.
func fromRecord(rec *query.FluxRecord) (models.Measurement, error) {
	id, ok := rec.ValueByKey("breaker_id").(string)
	if !ok || id == "" {
		return models.Measurement{}, fmt.Errorf("record without breaker_id")
	}

	var metrics models.Metrics
	fields := map[string]*float64{
		"current":         &metrics.Current,
		"voltage":         &metrics.Voltage,
		"active_power":    &metrics.ActivePower,
		"reactive_power":  &metrics.ReactivePower,
		"apparent_power":  &metrics.ApparentPower,
		"power_factor":    &metrics.PowerFactor,
		"energy":          &metrics.Energy,
		"leakage_current": &metrics.LeakageCurrent,
		"temperature":     &metrics.Temperature,
	}
	for name, dst := range fields {
		v, ok := rec.ValueByKey(name).(float64)
		if !ok {
			return models.Measurement{}, fmt.Errorf("record for %s missing field %s", id, name)
		}
		*dst = v
	}

	m := models.Measurement{Timestamp: rec.Time(), BreakerID: id, Metrics: metrics}
	return m, m.Validate()
}
