package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Archive writes one JSON file per measurement under a base directory
type Archive struct {
	basePath string
	logger   *logger.Logger
}

// New ensures the directory exists and returns an archive rooted at it
func New(basePath string, log *logger.Logger) (*Archive, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, &models.PersistenceError{Op: "create_directory", Location: basePath, Err: err}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Archive{basePath: basePath, logger: log.WithComponent("archive")}, nil
}

// FileName returns the archive file name for a measurement
func FileName(m models.Measurement) string {
	ts := m.Timestamp.UTC().Format("20060102T150405.000000000Z")
	return escapeID(m.BreakerID) + "_" + ts + ".json"
}

// Persist writes the measurement to its own file. The file is created
// exclusively, so re-ingesting the same breaker and timestamp fails rather
// than overwriting the earlier record.
func (a *Archive) Persist(_ context.Context, m models.Measurement) (string, error) {
	path := filepath.Join(a.basePath, FileName(m))

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s already archived", models.ErrDuplicateMeasurement, m.Key())
		}
		return "", &models.PersistenceError{Op: "create_file", Location: path, Err: err}
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		file.Close()
		os.Remove(path)
		return "", &models.PersistenceError{Op: "encode_json", Location: path, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", &models.PersistenceError{Op: "close_file", Location: path, Err: err}
	}

	a.logger.Debug("Measurement archived", "path", path)
	return path, nil
}

// Remove deletes the measurement's file; a missing file is not an error
func (a *Archive) Remove(_ context.Context, m models.Measurement) error {
	path := filepath.Join(a.basePath, FileName(m))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &models.PersistenceError{Op: "remove_file", Location: path, Err: err}
	}
	return nil
}

// LoadAll reads every archived measurement file back. Unreadable files are
// logged and skipped.
func (a *Archive) LoadAll() ([]models.Measurement, error) {
	entries, err := os.ReadDir(a.basePath)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list_directory", Location: a.basePath, Err: err}
	}

	var out []models.Measurement
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(a.basePath, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("Skipping unreadable archive file", "path", path, "error", err)
			continue
		}
		var m models.Measurement
		if err := json.Unmarshal(data, &m); err != nil {
			a.logger.Warn("Skipping malformed archive file", "path", path, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// flatRecord is the layout of bulk exports: metrics inline, any of them optional
type flatRecord struct {
	Timestamp      string   `json:"timestamp"`
	BreakerID      string   `json:"breaker_id"`
	Current        *float64 `json:"current"`
	Voltage        *float64 `json:"voltage"`
	ActivePower    *float64 `json:"active_power"`
	ReactivePower  *float64 `json:"reactive_power"`
	ApparentPower  *float64 `json:"apparent_power"`
	PowerFactor    *float64 `json:"power_factor"`
	Energy         *float64 `json:"energy"`
	LeakageCurrent *float64 `json:"leakage_current"`
	Temperature    *float64 `json:"temperature"`
}

func (r flatRecord) toMeasurement() (models.Measurement, error) {
	ts, err := models.ParseTimestamp(r.Timestamp)
	if err != nil {
		return models.Measurement{}, &models.ValidationError{Field: "timestamp", Message: "cannot be parsed as an absolute instant"}
	}

	metrics := models.DefaultMetrics()
	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&metrics.Current, r.Current)
	apply(&metrics.Voltage, r.Voltage)
	apply(&metrics.ActivePower, r.ActivePower)
	apply(&metrics.ReactivePower, r.ReactivePower)
	apply(&metrics.ApparentPower, r.ApparentPower)
	apply(&metrics.PowerFactor, r.PowerFactor)
	apply(&metrics.Energy, r.Energy)
	apply(&metrics.LeakageCurrent, r.LeakageCurrent)
	apply(&metrics.Temperature, r.Temperature)

	m := models.Measurement{
		Timestamp: ts,
		BreakerID: strings.TrimSpace(r.BreakerID),
		Metrics:   metrics,
	}
	return m, m.Validate()
}

// ImportResult reports what a bulk import produced
type ImportResult struct {
	Measurements []models.Measurement
	Rejected     int
}

// ImportFile reads a JSON array of flat records. Absent metric fields are
// filled from models.DefaultMetrics; records that still fail validation are
// counted as rejected.
func ImportFile(path string, log *logger.Logger) (ImportResult, error) {
	if log == nil {
		log = logger.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to read import file: %w", err)
	}

	var records []flatRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return ImportResult{}, fmt.Errorf("failed to parse import file: %w", err)
	}

	result := ImportResult{Measurements: make([]models.Measurement, 0, len(records))}
	for i, r := range records {
		m, err := r.toMeasurement()
		if err != nil {
			log.Warn("Rejected import record", "index", i, "error", err)
			result.Rejected++
			continue
		}
		result.Measurements = append(result.Measurements, m)
	}

	log.Info("Import file parsed", "path", path, "accepted", len(result.Measurements), "rejected", result.Rejected)
	return result, nil
}

// escapeID percent-encodes every byte outside [A-Za-z0-9._-], '%' included,
// so distinct breaker IDs never share a file name.
func escapeID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
