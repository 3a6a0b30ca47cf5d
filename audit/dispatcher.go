package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull selects non-blocking emission: a full buffer drops the
	// event and bumps the dropped counter. When unset, Emit waits for
	// space, the caller's context, or Close.
	DropIfFull bool
}

// AlertFunc is invoked for CRITICAL events, from the dispatcher side,
// never from the caller of Emit.
type AlertFunc func(ctx context.Context, event Event)

// Dispatcher asynchronously forwards audit events to a sink. A nil
// *Dispatcher is valid and discards everything, which is how a disabled
// audit configuration is represented.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	alert     AlertFunc
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	alertWG   sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker goroutine. Returns nil when the
// configuration disables auditing; alert and logger may be nil.
func NewDispatcher(cfg Config, sink Sink, alert AlertFunc, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		alert:  alert,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver forwards one event to the sink and fans out critical alerts.
// A panicking sink loses only its own event; a panicking alert is
// contained the same way.
func (d *Dispatcher) deliver(event Event) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.dropped.Add(1)
				d.logger.Error("audit sink panicked", "panic", r, "event_type", event.Type)
			}
		}()
		d.sink.Emit(context.Background(), event)
	}()

	if event.Severity == SeverityCritical && d.alert != nil {
		d.alertWG.Add(1)
		go func() {
			defer d.alertWG.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("audit alert panicked", "panic", r, "event_type", event.Type)
				}
			}()
			d.alert(context.Background(), event)
		}()
	}
}

// Emit queues an event for delivery. It never panics, including after
// Close; undeliverable events are counted, not surfaced.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
			d.dropped.Add(1)
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
		d.dropped.Add(1)
	}
}

// Close drains buffered events, waits for in-flight alerts, and stops the
// worker. Safe to call more than once and on a nil dispatcher.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
		d.alertWG.Wait()
		// Emits that raced the shutdown may still sit in the buffer.
		for {
			select {
			case <-d.ch:
				d.dropped.Add(1)
			default:
				return
			}
		}
	})
}

// Dropped counts events that never reached the sink: buffer-full and
// post-close drops, canceled blocking emits, and sink panics.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
