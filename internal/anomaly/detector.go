package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Profile is a named feature subset the detector fits on
type Profile struct {
	Name     string
	Features []string
	extract  func(models.Metrics) []float64
}

var (
	// ProfileFault looks for electrical faults across voltage, current and active power
	ProfileFault = Profile{
		Name:     "fault",
		Features: []string{"voltage", "current", "active_power"},
		extract: func(m models.Metrics) []float64 {
			return []float64{m.Voltage, m.Current, m.ActivePower}
		},
	}

	// ProfileLeakage looks for abnormal leakage current
	ProfileLeakage = Profile{
		Name:     "leakage",
		Features: []string{"leakage_current"},
		extract: func(m models.Metrics) []float64 {
			return []float64{m.LeakageCurrent}
		},
	}
)

// ParseProfile resolves a profile by name
func ParseProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProfileFault.Name, "electrical", "electrical_fault":
		return ProfileFault, nil
	case ProfileLeakage.Name, "leakage_current":
		return ProfileLeakage, nil
	default:
		return Profile{}, fmt.Errorf("unknown anomaly profile %q", name)
	}
}

// Config configures a Detector
type Config struct {
	Contamination float64
	Seed          int64
	Trees         int
	SampleSize    int
	// MinSamples is the floor below which no model is fitted and the report is empty
	MinSamples int
}

// DefaultConfig mirrors the defaults of the pipeline configuration
func DefaultConfig() Config {
	return Config{
		Contamination: 0.05,
		Seed:          42,
		Trees:         100,
		SampleSize:    256,
		MinSamples:    2,
	}
}

// Detector flags anomalous measurements. One forest is fitted per call over
// the whole fleet, so outlier-ness is relative to every breaker's readings
// together rather than to a breaker's own history.
type Detector struct {
	cfg    Config
	logger *logger.Logger
}

// NewDetector creates a detector, filling unset fields from DefaultConfig
func NewDetector(cfg Config, log *logger.Logger) *Detector {
	def := DefaultConfig()
	if cfg.Contamination == 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees == 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize == 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = def.MinSamples
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Detector{cfg: cfg, logger: log.WithComponent("anomaly")}
}

// Config returns the effective configuration
func (d *Detector) Config() Config {
	return d.cfg
}

// WithContamination returns a copy of the detector using another contamination
func (d *Detector) WithContamination(c float64) *Detector {
	cfg := d.cfg
	cfg.Contamination = c
	return &Detector{cfg: cfg, logger: d.logger}
}

// Detect fits a forest over ms using profile's features and returns the
// dates of flagged measurements grouped by breaker. Several flagged readings
// on the same breaker and day collapse into one date. Fewer than MinSamples
// measurements yields an empty report.
func (d *Detector) Detect(ctx context.Context, ms []models.Measurement, profile Profile) (models.AnomalyReport, error) {
	report := models.AnomalyReport{}
	if profile.extract == nil {
		return nil, fmt.Errorf("anomaly profile %q has no feature extractor", profile.Name)
	}
	if d.cfg.Contamination <= 0 || d.cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination %v must be in (0, 0.5]", d.cfg.Contamination)
	}
	if len(ms) < d.cfg.MinSamples {
		d.logger.Debug("Too few measurements to fit", "profile", profile.Name, "count", len(ms), "min", d.cfg.MinSamples)
		return report, nil
	}

	rows := make([][]float64, len(ms))
	for i, m := range ms {
		rows[i] = profile.extract(m.Metrics)
	}

	forest, err := Fit(ctx, ForestConfig{
		Trees:         d.cfg.Trees,
		SampleSize:    d.cfg.SampleSize,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	}, rows)
	if err != nil {
		return nil, fmt.Errorf("fit %s profile: %w", profile.Name, err)
	}
	labels, err := forest.Predict(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("score %s profile: %w", profile.Name, err)
	}

	dates := make(map[string]map[string]struct{})
	flagged := 0
	for i, outlier := range labels {
		if !outlier {
			continue
		}
		flagged++
		id := ms[i].BreakerID
		if dates[id] == nil {
			dates[id] = make(map[string]struct{})
		}
		dates[id][ms[i].Date()] = struct{}{}
	}

	for id, set := range dates {
		list := make([]string, 0, len(set))
		for day := range set {
			list = append(list, day)
		}
		sort.Strings(list)
		report[id] = list
	}

	d.logger.Info("Anomaly detection completed",
		"profile", profile.Name,
		"measurements", len(ms),
		"flagged", flagged,
		"breakers", len(report),
	)
	return report, nil
}
