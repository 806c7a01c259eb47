package store

import (
	"context"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Remover is implemented by persisters that can undo a write
type Remover interface {
	Remove(ctx context.Context, m models.Measurement) error
}

// MultiPersister writes every measurement to each persister in order. The
// first persister's location acknowledges the write; any failure fails it and
// earlier writes are removed where the persister supports it, so a retry
// does not collide with a half-written record.
type MultiPersister []Persister

func (mp MultiPersister) Persist(ctx context.Context, m models.Measurement) (string, error) {
	var location string
	for i, p := range mp {
		loc, err := p.Persist(ctx, m)
		if err != nil {
			mp.rollback(ctx, m, i)
			return "", err
		}
		if i == 0 {
			location = loc
		}
	}
	return location, nil
}

func (mp MultiPersister) rollback(ctx context.Context, m models.Measurement, failed int) {
	for i := failed - 1; i >= 0; i-- {
		if r, ok := mp[i].(Remover); ok {
			_ = r.Remove(ctx, m)
		}
	}
}

// PersisterFunc adapts a function to the Persister interface
type PersisterFunc func(ctx context.Context, m models.Measurement) (string, error)

func (f PersisterFunc) Persist(ctx context.Context, m models.Measurement) (string, error) {
	return f(ctx, m)
}
