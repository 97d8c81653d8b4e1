package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/domain/calls"
)

// Inspector analyses a finished call tree, e.g. to detect N+1 queries.
type Inspector interface {
	Inspect(record calls.Record)
}

type Config struct {
	Service string
	// BufferSize bounds the records waiting for the background goroutine.
	BufferSize int
	// ReportTimeout bounds a single Report call.
	ReportTimeout time.Duration
}

// Dispatcher hands finished call trees from request goroutines to a single
// background goroutine that stores, inspects and reports them. Submit never
// blocks: when the buffer is full the record is dropped and counted.
//
// It implements domain.Collector and domain.RecordSink.
type Dispatcher struct {
	config     Config
	store      domain.StoreWriter
	reporter   domain.Reporter
	inspectors []Inspector
	logger     zerolog.Logger

	// mu orders Submit's send against Stop so that no record is accepted
	// after the background goroutine's final drain.
	mu      sync.RWMutex
	stopped bool

	records   chan calls.Record
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

var (
	_ domain.Collector  = (*Dispatcher)(nil)
	_ domain.RecordSink = (*Dispatcher)(nil)
)

// NewDispatcher returns a stopped Dispatcher. reporter may be nil.
func NewDispatcher(config Config, store domain.StoreWriter, reporter domain.Reporter, logger zerolog.Logger, inspectors ...Inspector) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.ReportTimeout <= 0 {
		config.ReportTimeout = 5 * time.Second
	}
	return &Dispatcher{
		config:     config,
		store:      store,
		reporter:   reporter,
		inspectors: inspectors,
		logger:     logger,
		records:    make(chan calls.Record, config.BufferSize),
		done:       make(chan struct{}),
	}
}

// Start launches the background goroutine. Calling it again has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// Stop processes the records already buffered and waits for the background
// goroutine to exit. Records submitted afterwards are dropped. Every record
// Submit accepted is processed, even when Start was never called.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.done)
		d.mu.Unlock()
	})
	d.wg.Wait()
	for {
		select {
		case record := <-d.records:
			d.process(record)
		default:
			return
		}
	}
}

// Submit queues record for processing. Records without an ID get a random
// one.
func (d *Dispatcher) Submit(record calls.Record) bool {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Service == "" {
		record.Service = d.config.Service
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.drop(record, "dispatcher stopped")
		return false
	}
	select {
	case d.records <- record:
		return true
	default:
		d.drop(record, "buffer full")
		return false
	}
}

func (d *Dispatcher) drop(record calls.Record, reason string) {
	if d.store != nil {
		d.store.AddDropped(1)
	}
	d.logger.Debug().Str("label", record.Label).Str("reason", reason).Msg("call tree dropped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case record := <-d.records:
			d.process(record)
		case <-d.done:
			for {
				select {
				case record := <-d.records:
					d.process(record)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) process(record calls.Record) {
	if d.store != nil {
		d.store.AddRecord(record)
	}
	for _, in := range d.inspectors {
		in.Inspect(record)
	}
	if d.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ReportTimeout)
	defer cancel()
	if err := d.reporter.Report(ctx, record); err != nil {
		d.logger.Error().Err(err).Str("label", record.Label).Msg("collector: error reporting call tree")
	}
}
