package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Persister durably writes a single measurement and returns where it landed
type Persister interface {
	Persist(ctx context.Context, m models.Measurement) (string, error)
}

// Filter narrows a query. Zero values match everything; From is inclusive, To exclusive.
type Filter struct {
	BreakerID string
	From      time.Time
	To        time.Time
}

func (f Filter) matches(m models.Measurement) bool {
	if f.BreakerID != "" && m.BreakerID != f.BreakerID {
		return false
	}
	if !f.From.IsZero() && m.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// BatchResult summarises an AppendBatch call
type BatchResult struct {
	Accepted   int
	Duplicates int
	Errors     []error
	// Stored holds the accepted measurements in input order
	Stored []models.Measurement
}

// Options configure a Store
type Options struct {
	Persister       Persister
	FutureTolerance time.Duration
	Logger          *logger.Logger
}

// Store is the append-only, in-memory measurement collection. Records are
// kept in insertion order and indexed by breaker_id + timestamp.
type Store struct {
	persister       Persister
	futureTolerance time.Duration
	logger          *logger.Logger
	nowFn           func() time.Time

	mu           sync.RWMutex
	measurements []models.Measurement
	index        map[string]int
}

// New creates an empty store
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		persister:       opts.Persister,
		futureTolerance: opts.FutureTolerance,
		logger:          log.WithComponent("store"),
		nowFn:           time.Now,
		index:           make(map[string]int),
	}
}

// Append validates, persists and stores one measurement. The returned
// location comes from the persister and is empty when none is configured.
// A record that fails validation or persistence never enters the store.
func (s *Store) Append(ctx context.Context, m models.Measurement) (string, error) {
	if err := s.validate(m); err != nil {
		return "", err
	}
	key := m.Key()

	// The key is reserved before the durable write so concurrent appends of the
	// same record cannot both persist.
	s.mu.Lock()
	if _, exists := s.index[key]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrDuplicateMeasurement, key)
	}
	s.index[key] = -1
	s.mu.Unlock()

	var location string
	if s.persister != nil {
		loc, err := s.persister.Persist(ctx, m)
		if err != nil {
			s.mu.Lock()
			delete(s.index, key)
			s.mu.Unlock()
			s.logger.Error("Failed to persist measurement", "key", key, "error", err)
			if errors.Is(err, models.ErrPersistenceFailure) || errors.Is(err, models.ErrDuplicateMeasurement) {
				return "", err
			}
			return "", &models.PersistenceError{Op: "append", Err: err}
		}
		location = loc
	}

	s.mu.Lock()
	s.index[key] = len(s.measurements)
	s.measurements = append(s.measurements, m)
	s.mu.Unlock()

	s.logger.Debug("Measurement appended", "key", key, "location", location)
	return location, nil
}

// AppendBatch appends each measurement independently so one bad record
// never drops the others.
func (s *Store) AppendBatch(ctx context.Context, ms []models.Measurement) BatchResult {
	var result BatchResult
	for _, m := range ms {
		if _, err := s.Append(ctx, m); err != nil {
			if errors.Is(err, models.ErrDuplicateMeasurement) {
				result.Duplicates++
				continue
			}
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Accepted++
		result.Stored = append(result.Stored, m)
	}
	return result
}

// Load imports historical measurements that are already durable elsewhere.
// They are validated but not re-persisted; existing keys are skipped.
func (s *Store) Load(ms []models.Measurement) (loaded int, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range ms {
		if err := m.Validate(); err != nil {
			skipped++
			continue
		}
		key := m.Key()
		if _, exists := s.index[key]; exists {
			skipped++
			continue
		}
		s.index[key] = len(s.measurements)
		s.measurements = append(s.measurements, m)
		loaded++
	}
	s.logger.Info("Measurements loaded", "loaded", loaded, "skipped", skipped)
	return loaded, skipped
}

// Query returns a copy of the matching measurements in insertion order
func (s *Store) Query(f Filter) []models.Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Measurement, 0, len(s.measurements))
	for _, m := range s.measurements {
		if f.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot returns a copy of every stored measurement
func (s *Store) Snapshot() []models.Measurement {
	return s.Query(Filter{})
}

// Get returns the measurement with the exact breaker id and timestamp
func (s *Store) Get(breakerID string, ts time.Time) (models.Measurement, bool) {
	key := models.Measurement{BreakerID: breakerID, Timestamp: ts}.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[key]
	if !ok || idx < 0 {
		return models.Measurement{}, false
	}
	return s.measurements[idx], true
}

// Breakers returns the sorted distinct breaker ids
func (s *Store) Breakers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, m := range s.measurements {
		seen[m.BreakerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored measurements
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.measurements)
}

func (s *Store) validate(m models.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Timestamp.After(s.nowFn().Add(s.futureTolerance)) {
		return &models.ValidationError{Field: "timestamp", Message: "must not be in the future"}
	}
	return nil
}
