package anomaly

import (
	"context"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// fleet builds hourly readings for three breakers over five days with small
// noise, plus one gross fault on CB-02 and one leakage spike on CB-03.
func fleet() []models.Measurement {
	rng := rand.New(rand.NewSource(1))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ms []models.Measurement
	for _, id := range []string{"CB-01", "CB-02", "CB-03"} {
		for h := 0; h < 5*24; h++ {
			metrics := models.DefaultMetrics()
			metrics.Voltage = 230 + rng.NormFloat64()
			metrics.Current = 10 + rng.NormFloat64()*0.2
			metrics.ActivePower = metrics.Voltage * metrics.Current / 1000
			metrics.Energy = metrics.ActivePower
			metrics.LeakageCurrent = 0.01 + rng.Float64()*0.002
			ms = append(ms, models.Measurement{
				Timestamp: start.Add(time.Duration(h) * time.Hour),
				BreakerID: id,
				Metrics:   metrics,
			})
		}
	}

	fault := ms[24*3+5]
	fault.Timestamp = time.Date(2024, 1, 3, 5, 30, 0, 0, time.UTC)
	fault.BreakerID = "CB-02"
	fault.Metrics.Voltage = 90
	fault.Metrics.Current = 80
	fault.Metrics.ActivePower = 7.2
	ms = append(ms, fault)

	leak := ms[10]
	leak.Timestamp = time.Date(2024, 1, 4, 7, 30, 0, 0, time.UTC)
	leak.BreakerID = "CB-03"
	leak.Metrics.LeakageCurrent = 3.5
	ms = append(ms, leak)
	return ms
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestDetectFlagsGrossFault(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	report, err := d.Detect(context.Background(), fleet(), ProfileFault)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !contains(report["CB-02"], "2024-01-03") {
		t.Fatalf("expected CB-02 fault on 2024-01-03, got %v", report)
	}
}

func TestDetectFlagsLeakageSpike(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	report, err := d.Detect(context.Background(), fleet(), ProfileLeakage)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !contains(report["CB-03"], "2024-01-04") {
		t.Fatalf("expected CB-03 leakage on 2024-01-04, got %v", report)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	ms := fleet()

	first, err := d.Detect(context.Background(), ms, ProfileFault)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := d.Detect(context.Background(), ms, ProfileFault)
		if err != nil {
			t.Fatalf("rerun: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestDetectDatesAreUniqueAndSorted(t *testing.T) {
	d := NewDetector(Config{Contamination: 0.5, Seed: 3}, nil)
	report, err := d.Detect(context.Background(), fleet(), ProfileFault)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	for id, dates := range report {
		for i := 1; i < len(dates); i++ {
			if dates[i-1] >= dates[i] {
				t.Fatalf("%s dates not strictly increasing: %v", id, dates)
			}
		}
	}
}

func TestDetectBelowFloorReturnsEmptyReport(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	ms := fleet()[:1]
	report, err := d.Detect(context.Background(), ms, ProfileFault)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if report == nil || len(report) != 0 {
		t.Fatalf("expected empty report, got %v", report)
	}
}

func TestDetectConstantReadingsFlagNothing(t *testing.T) {
	var ms []models.Measurement
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		ms = append(ms, models.NewManualMeasurement("CB-01", start.Add(time.Duration(i)*time.Hour), 10, 230))
	}
	report, err := NewDetector(DefaultConfig(), nil).Detect(context.Background(), ms, ProfileFault)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("expected no anomalies for identical readings, got %v", report)
	}
}

func TestDetectRejectsInvalidContamination(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil).WithContamination(0.9)
	if _, err := d.Detect(context.Background(), fleet(), ProfileFault); err == nil {
		t.Fatal("expected error for contamination above 0.5")
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("Leakage")
	if err != nil || p.Name != "leakage" {
		t.Fatalf("unexpected profile %v, %v", p.Name, err)
	}
	if _, err := ParseProfile("thermal"); err == nil {
		t.Fatal("expected unknown profile error")
	}
}

func TestPercentileInterpolates(t *testing.T) {
	got := percentile([]float64{4, 1, 3, 2}, 50)
	if got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
	if percentile([]float64{1, 2, 3}, 100) != 3 {
		t.Fatal("100th percentile should be the maximum")
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 || averagePathLength(2) != 1 {
		t.Fatal("unexpected small-n path lengths")
	}
	if c := averagePathLength(256); c < 10 || c > 11 {
		t.Fatalf("c(256) should be about 10.24, got %v", c)
	}
}
