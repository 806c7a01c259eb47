package processor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	fail    bool
	records []models.DailyBillingRecord
}

func (s *recordingSink) WriteDailyBilling(records []models.DailyBillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("influxdb down")
	}
	s.records = append(s.records, records...)
	return nil
}

func batch(energies ...float64) []models.Measurement {
	var ms []models.Measurement
	for i, e := range energies {
		m := models.NewManualMeasurement("CB-01", time.Date(2024, 1, 1, 8+i, 0, 0, 0, time.UTC), 10, 230)
		m.Metrics.Energy = e
		ms = append(ms, m)
	}
	return ms
}

func testConfig() config.ProcessorConfig {
	return config.ProcessorConfig{WorkerCount: 2, QueueSize: 10, EnableAggregations: true}
}

func TestProcessorStoresBatchesAndRollsUpBilling(t *testing.T) {
	s := store.New(store.Options{})
	sink := &recordingSink{}
	p := NewProcessor(s, sink, testConfig(), 2.1, nil)

	ms := batch(2.0, 3.0, 1.5)
	if err := p.ProcessMessages(ms); err != nil {
		t.Fatal(err)
	}
	// Redelivered messages must not be counted twice
	if err := p.ProcessMessages(ms[:1]); err != nil {
		t.Fatal(err)
	}
	p.Stop()

	if s.Len() != 3 {
		t.Fatalf("expected 3 stored measurements, got %d", s.Len())
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one daily record, got %+v", sink.records)
	}
	r := sink.records[0]
	if r.BreakerID != "CB-01" || r.Date != "2024-01-01" || r.TotalEnergyKWh != 6.5 || r.TotalCost != 13.65 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestBillingRollupRequeuesOnFailure(t *testing.T) {
	s := store.New(store.Options{})
	s.Load(batch(2.0, 3.0))
	sink := &recordingSink{fail: true}
	a := newBillingRollup(s, sink, 2.1, 0, nil)

	a.update(batch(2.0))
	a.flush()
	if len(sink.records) != 0 {
		t.Fatal("failed flush should not record anything")
	}

	sink.fail = false
	a.flush()
	if len(sink.records) != 1 || sink.records[0].TotalEnergyKWh != 5 {
		t.Fatalf("expected requeued day with the full total, got %+v", sink.records)
	}
}

func TestProcessorWithoutAggregations(t *testing.T) {
	s := store.New(store.Options{})
	cfg := testConfig()
	cfg.EnableAggregations = false
	p := NewProcessor(s, &recordingSink{}, cfg, 2.1, nil)

	if err := p.ProcessMessages(batch(1.0)); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	if s.Len() != 1 {
		t.Fatalf("expected 1 stored measurement, got %d", s.Len())
	}
}

func TestProcessMessagesAfterStop(t *testing.T) {
	s := store.New(store.Options{})
	p := NewProcessor(s, nil, testConfig(), 2.1, nil)
	p.Stop()

	if err := p.ProcessMessages(batch(1.0)); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	// Stopping twice is harmless
	p.Stop()
	if s.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", s.Len())
	}
}
