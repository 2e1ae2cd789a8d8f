package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

const anyType Type = "*"

// Dispatcher fans committed events out to in-process subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[Type]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	dropped     atomic.Int64
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs a dispatcher whose subscriptions buffer bufferSize events.
func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher{
		subscribers: make(map[Type]map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a stream for the given event types, or for every type when
// none are given. The subscription ends when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, eventTypes ...Type) (<-chan Event, func()) {
	if len(eventTypes) == 0 {
		eventTypes = []Type{anyType}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(eventTypes, sub)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(eventTypes, sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return nil
	}
	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers[event.Type])+len(d.subscribers[anyType]))
	for _, sub := range d.subscribers[event.Type] {
		targets = append(targets, sub)
	}
	for _, sub := range d.subscribers[anyType] {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
			d.dropped.Add(1)
		}
	}
	return nil
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(eventTypes []Type, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, eventType := range eventTypes {
		if _, ok := d.subscribers[eventType]; !ok {
			d.subscribers[eventType] = make(map[int64]*subscriber)
		}
		d.subscribers[eventType][sub.id] = sub
	}
}

func (d *Dispatcher) unregister(eventTypes []Type, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, eventType := range eventTypes {
		subs := d.subscribers[eventType]
		if subs == nil {
			continue
		}
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(d.subscribers, eventType)
		}
	}
}
