package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/straja-ai/postscore/internal/redact"
)

// Sink consumes analysis events (stdout, file, webhook).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Metrics is a point-in-time copy of the delivery counters.
type Metrics struct {
	Enqueued    uint64
	Dropped     uint64
	SinkSuccess map[string]uint64
	SinkFailure map[string]uint64
}

type sinkCounters struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// Emitter buffers events and delivers them to sinks from background
// workers, so the request path never waits on a sink.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	counters        map[string]*sinkCounters
	shutdownTimeout time.Duration

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
}

// NewEmitter starts background workers to deliver events to the provided sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Second
	}

	em := &Emitter{
		queue:           make(chan *Event, queueSize),
		sinks:           sinks,
		counters:        make(map[string]*sinkCounters, len(sinks)),
		shutdownTimeout: shutdownTimeout,
	}
	for _, s := range sinks {
		em.counters[s.Name()] = &sinkCounters{}
	}

	for i := 0; i < workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

// Emit enqueues ev without blocking. A full queue or a closed emitter
// drops the event and counts it.
func (e *Emitter) Emit(_ context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		if e.dropped.Add(1) == 1 {
			redact.Logf("events: queue full, dropping events")
		}
	}
}

// Close stops accepting new events and waits briefly to drain the queue.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Logf("events: shutdown timed out with %d events queued", len(e.queue))
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Logf("events: sink %s close error: %v", s.Name(), err)
		}
	}
}

// MetricsSnapshot copies current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	if e == nil {
		return Metrics{}
	}
	out := Metrics{
		Enqueued:    e.enqueued.Load(),
		Dropped:     e.dropped.Load(),
		SinkSuccess: make(map[string]uint64, len(e.counters)),
		SinkFailure: make(map[string]uint64, len(e.counters)),
	}
	for name, c := range e.counters {
		out.SinkSuccess[name] = c.success.Load()
		out.SinkFailure[name] = c.failure.Load()
	}
	return out
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		for _, s := range e.sinks {
			c := e.counters[s.Name()]
			if err := s.Deliver(context.Background(), ev); err != nil {
				redact.Logf("events: sink %s failed for %s: %v", s.Name(), ev.ID, err)
				c.failure.Add(1)
				continue
			}
			c.success.Add(1)
		}
	}
}
