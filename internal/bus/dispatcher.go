package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// DepthRecorder receives the queue depth of the async dispatcher
type DepthRecorder interface {
	QueueDepth(n int)
}

// AsyncDispatcher queues events and publishes them from one worker
// goroutine, preserving hand-off order. Dispatch blocks only while the
// buffer is full.
type AsyncDispatcher struct {
	bus   *Bus
	queue chan event.Event
	depth DepthRecorder
	wg    sync.WaitGroup
	once  sync.Once

	closeMu sync.RWMutex
	closed  bool

	startMu   sync.Mutex
	started   bool
	workerCtx context.Context
}

// NewAsyncDispatcher creates a dispatcher with a bounded queue
func NewAsyncDispatcher(b *Bus, bufferSize int, depth DepthRecorder) *AsyncDispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &AsyncDispatcher{
		bus:   b,
		queue: make(chan event.Event, bufferSize),
		depth: depth,
	}
}

// Start launches the worker. Handlers receive ctx without its cancellation
// so that a drain on shutdown still completes.
func (d *AsyncDispatcher) Start(ctx context.Context) {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.workerCtx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go d.run()
	log.Info().Int("buffer", cap(d.queue)).Msg("Event dispatcher started")
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.bus.Dispatch(d.workerCtx, ev)
		if d.depth != nil {
			d.depth.QueueDepth(len(d.queue))
		}
	}
}

// Dispatch enqueues events in order. Events dispatched after Close are
// delivered synchronously.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, events ...event.Event) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		d.bus.Dispatch(ctx, events...)
		return
	}

	for _, ev := range events {
		d.queue <- ev
	}
	if d.depth != nil {
		d.depth.QueueDepth(len(d.queue))
	}
}

// Close stops accepting events and waits until the queue is drained.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.queue)
		d.closeMu.Unlock()

		d.startMu.Lock()
		started := d.started
		d.startMu.Unlock()

		if !started {
			// nothing consumed the queue; deliver what is left inline
			for ev := range d.queue {
				d.bus.Dispatch(context.Background(), ev)
			}
			return
		}
		d.wg.Wait()
		log.Info().Msg("Event dispatcher drained")
	})
}
