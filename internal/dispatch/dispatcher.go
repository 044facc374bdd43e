package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"modelhub-worker/pkg/models"
)

// queueDepth bounds how many undelivered jobs we hold. The hub
// redelivers on the next poll, so dropping under pressure is safe.
const queueDepth = 64

// idlePollWindow is how long the dispatcher waits for a job before
// emitting a liveness poll instead.
const idlePollWindow = 5 * time.Second

// Queue is the FIFO between the link's receive loop and the
// dispatcher. The buffered channel is both the queue and its counting
// signal.
type Queue struct {
	ch chan models.Job
}

func NewQueue() *Queue {
	return &Queue{ch: make(chan models.Job, queueDepth)}
}

// Enqueue never blocks the receive loop; a full queue drops the job
// and lets the hub redeliver it later.
func (q *Queue) Enqueue(job models.Job) {
	select {
	case q.ch <- job:
	default:
		log.Printf("[Dispatch] Queue full, dropping job %d (hub will redeliver)", job.ID)
	}
}

// Gate is the enable/disable switch two loops block on. Disabled means
// administratively paused: the link may stay up, but nothing dequeues.
type Gate struct {
	mu      sync.Mutex
	enabled bool
	ready   chan struct{} // closed while enabled
}

func NewGate(enabled bool) *Gate {
	g := &Gate{ready: make(chan struct{})}
	if enabled {
		g.enabled = true
		close(g.ready)
	}
	return g
}

func (g *Gate) Set(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if enabled == g.enabled {
		return
	}
	g.enabled = enabled
	if enabled {
		close(g.ready)
	} else {
		g.ready = make(chan struct{})
	}
}

func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Wait blocks until the gate is enabled or ctx is cancelled.
func (g *Gate) Wait(ctx context.Context) {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	select {
	case <-ready:
	case <-ctx.Done():
	}
}

// Processor executes one job to completion, including its status
// reporting.
type Processor interface {
	Process(ctx context.Context, job models.Job)
}

// Poller sends a liveness poll; failures are the transport's problem.
type Poller interface {
	Poll(ctx context.Context)
}

// Dispatcher is the single consumer of the job queue. One job is in
// flight at a time: downloads are disk- and bandwidth-bound, and
// parallel jobs would defeat the free-space guard.
type Dispatcher struct {
	queue      *Queue
	gate       *Gate
	processor  Processor
	poller     Poller
	idleWindow time.Duration
}

func NewDispatcher(queue *Queue, gate *Gate, processor Processor, poller Poller) *Dispatcher {
	return &Dispatcher{
		queue:      queue,
		gate:       gate,
		processor:  processor,
		poller:     poller,
		idleWindow: idlePollWindow,
	}
}

// Run drains the queue until ctx is cancelled. When the idle window
// elapses without a job, a poll keeps the hub's liveness view current.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(d.idleWindow)
	defer timer.Stop()

	for ctx.Err() == nil {
		d.gate.Wait(ctx)
		if ctx.Err() != nil {
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.idleWindow)

		select {
		case job := <-d.queue.ch:
			log.Printf("[Dispatch] Processing job %d (%s)", job.ID, job.TargetPath)
			d.processor.Process(ctx, job)
		case <-timer.C:
			d.poller.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}
