package trellis

import (
	"sync"

	"github.com/golang/glog"
)

// TriggerKind is what caused a state transition.
type TriggerKind int

const (
	// Local is a commit of this replica's own ops.
	Local TriggerKind = iota

	// Import is a merge of remote changes.
	Import

	// Checkout is a move of the visible version.
	Checkout
)

// String returns the trigger name.
func (k TriggerKind) String() string {
	switch k {
	case Local:
		return "local"
	case Import:
		return "import"
	case Checkout:
		return "checkout"
	default:
		return "unknown"
	}
}

// EventBatch bundles every container diff produced by one transition.
type EventBatch struct {
	By     TriggerKind
	Origin string
	From   Frontiers
	To     Frontiers
	Events []ContainerDiff
}

// filter returns the part of the batch at or below id, or nil.
func (b *EventBatch) filter(id ContainerID) *EventBatch {
	var events []ContainerDiff
	for _, e := range b.Events {
		if e.under(id) {
			events = append(events, e)
		}
	}
	if len(events) == 0 {
		return nil
	}
	out := *b
	out.Events = events
	return &out
}

// delivery is one queued batch with the subscribers registered when it
// was produced. A delivery with a done channel and no batch is a flush
// marker.
type delivery struct {
	batch   *EventBatch
	targets []eventSubscriber
	done    chan struct{}
}

// dispatcher delivers event batches in order on its own goroutine. The
// goroutine starts with a delivery and exits when the queue drains.
type dispatcher struct {
	tag string

	mu      sync.Mutex
	queue   []delivery
	running bool
	closed  bool
}

func newDispatcher(tag string) *dispatcher {
	return &dispatcher{tag: tag}
}

func (d *dispatcher) enqueue(item delivery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, item)
	if !d.running {
		d.running = true
		go d.run()
	}
	return true
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.queue = nil
			d.running = false
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(item)
	}
}

func (d *dispatcher) deliver(item delivery) {
	if item.done != nil {
		close(item.done)
		return
	}
	glog.V(2).Infof("[%s] deliver %s batch with %d events to %d subscribers\n",
		d.tag, item.batch.By, len(item.batch.Events), len(item.targets))
	for _, sub := range item.targets {
		batch := item.batch
		if sub.target != nil {
			if batch = batch.filter(*sub.target); batch == nil {
				continue
			}
		}
		handleCallback(d.tag, func() {
			sub.fn(batch)
		})
	}
}

// flush blocks until everything queued before the call is delivered.
func (d *dispatcher) flush() {
	done := make(chan struct{})
	if !d.enqueue(delivery{done: done}) {
		return
	}
	<-done
}

// close delivers what is queued and refuses later deliveries.
func (d *dispatcher) close() {
	d.flush()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
