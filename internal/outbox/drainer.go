package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
)

// Drainer periodically replays ready outbox items through the invoker.
type Drainer struct {
	queue    *Queue
	doer     invoke.Doer
	interval time.Duration
	log      *logging.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	draining  bool
}

// NewDrainer creates a Drainer. interval <= 0 uses 30s.
func NewDrainer(queue *Queue, doer invoke.Doer, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Drainer{
		queue:    queue,
		doer:     doer,
		interval: interval,
		log:      logging.Component("outbox"),
	}
}

// Start launches the drain loop.
func (d *Drainer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)

	d.log.Info("outbox drainer started", logging.Fields{"interval": d.interval.String()})
}

// Stop ends the drain loop and waits for it.
func (d *Drainer) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("outbox drainer stopped")
}

// IsRunning reports whether the loop is active.
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRunning
}

func (d *Drainer) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain replays every ready item once and returns how many succeeded. A
// drain already in progress makes it return zero at once.
func (d *Drainer) Drain(ctx context.Context) int {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return 0
	}
	d.draining = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.draining = false
		d.mu.Unlock()
	}()

	done := 0
	for ctx.Err() == nil {
		item := d.queue.Dequeue()
		if item == nil {
			break
		}

		err := d.doer.Invoke(ctx, item.Command, item.Args, nil, invoke.Notify(false))
		if err != nil {
			_ = d.queue.Failed(item.ID, err)
			continue
		}
		if err := d.queue.Complete(item.ID); err != nil {
			d.log.Error("failed to complete outbox item", err, logging.Fields{"id": item.ID})
			continue
		}
		done++
	}

	if done > 0 {
		d.log.Info("outbox drained", logging.Fields{"completed": done})
	}
	return done
}
