package acctguard

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher hands events to a sink on one worker goroutine so sink
// latency never lands on a login or OTP request. Events reach the sink in
// Emit order.
type auditDispatcher struct {
	sink   AuditSink
	queue  chan AuditEvent
	block  bool
	onDrop func()

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// newAuditDispatcher returns nil when auditing is disabled; every method is
// safe on a nil dispatcher.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink, onDrop func()) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:     sink,
		queue:    make(chan AuditEvent, max(cfg.BufferSize, 1)),
		block:    !cfg.DropIfFull,
		onDrop:   onDrop,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer close(d.finished)

	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(context.Background(), ev)
		case <-d.quit:
			for len(d.queue) > 0 {
				d.sink.Emit(context.Background(), <-d.queue)
			}
			return
		}
	}
}

func (d *auditDispatcher) stopped() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// Emit queues ev. A full queue either drops ev (DropIfFull) or waits for
// room, ctx cancellation or Close.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil || d.stopped() {
		return
	}

	if !d.block {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop()
			}
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close rejects further events, delivers the queued ones and returns once the
// worker has exited.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.quit) })
	<-d.finished
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
