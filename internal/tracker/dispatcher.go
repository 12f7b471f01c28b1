package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/models"
)

const DefaultFlushInterval = 30 * time.Second

// Sender delivers event batches to the collector.
//
// Send is the at-least-once path: an error means the batch was not accepted
// and will be retried by the dispatcher on its next flush.
//
// Beacon is the at-most-once teardown path. It has no result; delivery may
// silently fail.
type Sender interface {
	Send(ctx context.Context, events []models.EventInput) error
	Beacon(events []models.EventInput)
}

// Dispatcher buffers events in memory and flushes them on an interval.
type Dispatcher struct {
	sender   Sender
	clock    clock.Clock
	interval time.Duration

	mu       sync.Mutex
	queue    []models.EventInput
	flushing bool
	closed   bool
	inflight sync.WaitGroup

	stopChan chan struct{}
	done     chan struct{}
}

func NewDispatcher(sender Sender, clk clock.Clock, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Dispatcher{
		sender:   sender,
		clock:    clk,
		interval: interval,
	}
}

// Enqueue appends an event. Events enqueued after Close are dropped.
func (d *Dispatcher) Enqueue(e models.EventInput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, e)
}

// Pending returns a copy of the queued events.
func (d *Dispatcher) Pending() []models.EventInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.EventInput(nil), d.queue...)
}

// Flush sends the whole queue as one batch. The queue is emptied before the
// request is made; on failure the batch is put back ahead of anything queued
// in the meantime. An empty queue sends nothing, and so does a closed
// dispatcher.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || len(d.queue) == 0 {
		d.mu.Unlock()
		return nil
	}
	batch := d.queue
	d.queue = nil
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	if err := d.sender.Send(ctx, batch); err != nil {
		d.mu.Lock()
		d.queue = append(batch, d.queue...)
		d.mu.Unlock()
		return err
	}
	return nil
}

// Start runs the interval flush loop until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stopChan != nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.stopChan = make(chan struct{})
	d.done = make(chan struct{})
	stop, done := d.stopChan, d.done
	d.mu.Unlock()

	go d.loop(ctx, stop, done)
}

func (d *Dispatcher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			d.flushInBackground(ctx)
		}
	}
}

// flushInBackground keeps at most one interval flush in flight, so a retried
// batch can never be overtaken by a newer one.
func (d *Dispatcher) flushInBackground(ctx context.Context) {
	d.mu.Lock()
	if d.flushing {
		d.mu.Unlock()
		return
	}
	d.flushing = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.flushing = false
			d.mu.Unlock()
		}()
		if err := d.Flush(ctx); err != nil {
			log.Printf("tracker: flush failed, %d events kept for retry: %v", len(d.Pending()), err)
		}
	}()
}

// Close stops the interval loop, waits for a flush still in flight, and hands
// whatever is queued (a failed in-flight batch included) to one Beacon call.
// Later calls do nothing.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	stop, done := d.stopChan, d.done
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	d.inflight.Wait()

	d.mu.Lock()
	remaining := d.queue
	d.queue = nil
	d.mu.Unlock()

	if len(remaining) > 0 {
		d.sender.Beacon(remaining)
	}
}
