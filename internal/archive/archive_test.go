package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

func TestPersistWritesOneFilePerMeasurement(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	m := models.NewManualMeasurement("CB-01", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 10, 230)

	loc, err := a.Persist(context.Background(), m)
	if err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if filepath.Dir(loc) != dir {
		t.Fatalf("unexpected location %q", loc)
	}
	if _, err := os.Stat(loc); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}

	loaded, err := a.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Key() != m.Key() || loaded[0].Metrics != m.Metrics {
		t.Fatalf("unexpected loaded records %+v", loaded)
	}
}

func TestPersistRefusesOverwrite(t *testing.T) {
	a, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	m := models.NewManualMeasurement("CB-01", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 10, 230)
	if _, err := a.Persist(context.Background(), m); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	if _, err := a.Persist(context.Background(), m); !errors.Is(err, models.ErrDuplicateMeasurement) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestFileNameSanitizesBreakerID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := models.Measurement{BreakerID: "panel/A 1", Timestamp: at}
	name := FileName(m)
	if filepath.Base(name) != name {
		t.Fatalf("file name must not contain separators: %q", name)
	}
	if name != "panel%2FA%201_20240101T000000.000000000Z.json" {
		t.Fatalf("unexpected file name %q", name)
	}

	seen := map[string]string{}
	for _, id := range []string{"CB-01", "CB 01", "CB/01", "CB:01", "CB%2001", "CB_01"} {
		name := FileName(models.Measurement{BreakerID: id, Timestamp: at})
		if other, ok := seen[name]; ok {
			t.Fatalf("%q and %q share file name %q", id, other, name)
		}
		seen[name] = id
	}
}

func TestPersistKeepsBreakersThatDifferOnlyInPunctuation(t *testing.T) {
	a, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"CB-01", "CB 01"} {
		if _, err := a.Persist(context.Background(), models.NewManualMeasurement(id, at, 1, 230)); err != nil {
			t.Fatalf("persist %q: %v", id, err)
		}
	}

	loaded, err := a.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 archived measurements, got %d", len(loaded))
	}
}

func TestImportFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	content := `[
		{"timestamp": "2024-01-01T10:00:00", "breaker_id": "CB-01", "voltage": 230, "current": 12, "active_power": 2.8, "energy": 2.0},
		{"timestamp": "2024-01-01T11:00:00", "breaker_id": "CB-02", "energy": 1.0, "leakage_current": 0.3},
		{"timestamp": "not a time", "breaker_id": "CB-03"},
		{"timestamp": "2024-01-01T12:00:00", "breaker_id": ""}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write import file: %v", err)
	}

	res, err := ImportFile(path, nil)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(res.Measurements) != 2 || res.Rejected != 2 {
		t.Fatalf("unexpected import result: %d accepted, %d rejected", len(res.Measurements), res.Rejected)
	}

	first := res.Measurements[0].Metrics
	if first.PowerFactor != 0.9 || first.Temperature != 25 || first.ReactivePower != 0 {
		t.Fatalf("defaults not applied: %+v", first)
	}
	second := res.Measurements[1].Metrics
	if second.Voltage != 0 || second.LeakageCurrent != 0.3 {
		t.Fatalf("unexpected second record: %+v", second)
	}
}

func TestRemoveAllowsRewrite(t *testing.T) {
	a, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := models.NewManualMeasurement("CB-01", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 10, 230)

	if _, err := a.Persist(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := a.Remove(context.Background(), m); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := a.Remove(context.Background(), m); err != nil {
		t.Fatalf("removing a missing file should succeed: %v", err)
	}
	if _, err := a.Persist(context.Background(), m); err != nil {
		t.Fatalf("persist after remove failed: %v", err)
	}
}
