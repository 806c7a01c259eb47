package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

// ErrStopped is returned for batches offered after Stop
var ErrStopped = errors.New("processor stopped")

// Store is where processed batches land
type Store interface {
	AppendBatch(ctx context.Context, ms []models.Measurement) store.BatchResult
	Query(f store.Filter) []models.Measurement
}

// BillingSink receives daily billing rollups
type BillingSink interface {
	WriteDailyBilling(records []models.DailyBillingRecord) error
}

// Processor processes incoming measurement batches
type Processor struct {
	store   Store
	config  config.ProcessorConfig
	queue   chan []models.Measurement
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	billing *billingRollup
	logger  *logger.Logger
}

// NewProcessor creates a new processor and starts its workers. The billing
// rollup runs only when aggregations are enabled and a sink is given.
func NewProcessor(s Store, sink BillingSink, cfg config.ProcessorConfig, unitPrice float64, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	p := &Processor{
		store:  s,
		config: cfg,
		queue:  make(chan []models.Measurement, cfg.QueueSize),
		logger: log.WithComponent("processor"),
	}

	// Initialize aggregators if enabled
	if cfg.EnableAggregations && sink != nil {
		p.billing = newBillingRollup(s, sink, unitPrice, cfg.FlushInterval, p.logger)
	}

	// Start workers
	p.wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go p.worker(i)
	}

	p.logger.Info("Processor started", "workers", cfg.WorkerCount, "queue_size", cfg.QueueSize, "aggregations", p.billing != nil)
	return p
}

// ProcessMessages queues a batch of measurements. A full queue drops the batch.
func (p *Processor) ProcessMessages(ms []models.Measurement) error {
	// Create a copy of the batch to avoid concurrent modification
	batch := make([]models.Measurement, len(ms))
	copy(batch, ms)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.logger.Error("Batch offered after stop", "count", len(ms))
		metrics.MeasurementsRejected.WithLabelValues("kafka", "stopped").Add(float64(len(ms)))
		return ErrStopped
	}

	// Add to queue
	select {
	case p.queue <- batch:
		return nil
	default:
		// Queue is full, log and drop messages
		p.logger.Warn("Processing queue is full, dropping messages", "count", len(ms))
		metrics.MeasurementsRejected.WithLabelValues("kafka", "queue_full").Add(float64(len(ms)))
		return nil
	}
}

// worker appends batches from the queue to the store
func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for batch := range p.queue {
		result := p.store.AppendBatch(context.Background(), batch)

		metrics.MeasurementsIngested.WithLabelValues("kafka").Add(float64(result.Accepted))
		if result.Duplicates > 0 {
			metrics.MeasurementsRejected.WithLabelValues("kafka", "duplicate").Add(float64(result.Duplicates))
		}
		if len(result.Errors) > 0 {
			metrics.MeasurementsRejected.WithLabelValues("kafka", "error").Add(float64(len(result.Errors)))
			p.logger.Warn("Batch partially rejected",
				"worker", id,
				"accepted", result.Accepted,
				"errors", len(result.Errors),
				"first_error", result.Errors[0],
			)
		}

		// Process aggregations if enabled
		if p.billing != nil && len(result.Stored) > 0 {
			p.billing.update(result.Stored)
		}
	}
}

// Stop drains the queue, stops the workers and flushes the rollup.
// Later calls to ProcessMessages return ErrStopped.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	// Final flush for aggregators
	if p.billing != nil {
		p.billing.stop()
	}
	p.logger.Info("Processor stopped")
}
