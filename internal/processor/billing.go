package processor

import (
	"sort"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/aggregator"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

// zoneSlack widens store queries so a calendar date in any timestamp's own
// zone falls inside the queried instant range.
const zoneSlack = 14 * time.Hour

// billingRollup tracks which breaker days received measurements and, on
// flush, rewrites their complete daily totals from the store. Points for the
// same breaker and day overwrite each other in InfluxDB, so every flush
// writes the whole day.
type billingRollup struct {
	source    Store
	sink      BillingSink
	unitPrice float64
	logger    *logger.Logger

	mutex sync.Mutex
	dirty map[string]map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

func newBillingRollup(source Store, sink BillingSink, unitPrice float64, interval time.Duration, log *logger.Logger) *billingRollup {
	if log == nil {
		log = logger.NewNop()
	}
	a := &billingRollup{
		source:    source,
		sink:      sink,
		unitPrice: unitPrice,
		logger:    log,
		dirty:     make(map[string]map[string]struct{}),
		done:      make(chan struct{}),
	}

	// Start periodic flusher
	if interval > 0 {
		a.wg.Add(1)
		go a.periodicFlush(interval)
	}
	return a
}

func (a *billingRollup) update(ms []models.Measurement) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, m := range ms {
		days, ok := a.dirty[m.BreakerID]
		if !ok {
			days = make(map[string]struct{})
			a.dirty[m.BreakerID] = days
		}
		days[m.Date()] = struct{}{}
	}
}

func (a *billingRollup) flush() {
	a.mutex.Lock()
	pending := a.dirty
	a.dirty = make(map[string]map[string]struct{})
	a.mutex.Unlock()

	if len(pending) == 0 {
		return
	}

	records := a.collect(pending)
	if err := a.sink.WriteDailyBilling(records); err != nil {
		a.logger.Error("Error writing daily billing", "records", len(records), "error", err)
		metrics.BillingFlushes.WithLabelValues("error").Inc()
		a.requeue(pending)
		return
	}
	metrics.BillingFlushes.WithLabelValues("ok").Inc()
	a.logger.Debug("Daily billing flushed", "records", len(records))
}

// collect recomputes the full totals of every pending breaker day
func (a *billingRollup) collect(pending map[string]map[string]struct{}) []models.DailyBillingRecord {
	breakers := make([]string, 0, len(pending))
	for id := range pending {
		breakers = append(breakers, id)
	}
	sort.Strings(breakers)

	var records []models.DailyBillingRecord
	for _, id := range breakers {
		days := pending[id]
		var first, last time.Time
		for day := range days {
			t, err := time.Parse(models.DateLayout, day)
			if err != nil {
				continue
			}
			if first.IsZero() || t.Before(first) {
				first = t
			}
			if t.After(last) {
				last = t
			}
		}
		if first.IsZero() {
			continue
		}

		ms := a.source.Query(store.Filter{
			BreakerID: id,
			From:      first.Add(-zoneSlack),
			To:        last.Add(24*time.Hour + zoneSlack),
		})
		for _, r := range aggregator.AggregateByDay(ms, a.unitPrice) {
			if _, ok := days[r.Date]; ok {
				records = append(records, r)
			}
		}
	}
	return records
}

func (a *billingRollup) requeue(pending map[string]map[string]struct{}) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for id, days := range pending {
		current, ok := a.dirty[id]
		if !ok {
			current = make(map[string]struct{})
			a.dirty[id] = current
		}
		for day := range days {
			current[day] = struct{}{}
		}
	}
}

func (a *billingRollup) periodicFlush(interval time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

func (a *billingRollup) stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}
