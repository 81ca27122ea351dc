package local

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/logger"
)

const DefaultQueueSize = 4096

type publishRequest struct {
	topic string
	event events.Event
}

type subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s.topic, s.id)
}

// allTopics keys subscribers registered through SubscribeAll.
const allTopics = ""

// Bus delivers events from a single goroutine, so every subscriber sees
// events in publish order.
type Bus struct {
	subs      map[string]map[uint64]events.Handler
	mu        sync.RWMutex
	nextID    atomic.Uint64
	publishCh chan publishRequest
	done      chan struct{}
	closed    bool
	logger    *slog.Logger
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		subs:      make(map[string]map[uint64]events.Handler),
		publishCh: make(chan publishRequest, queueSize),
		done:      make(chan struct{}),
		logger:    logger.Get(logger.Events),
	}

	go b.publishLoop()

	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		return
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish channel full, dropping event", "topic", topic)
	}
}

func (b *Bus) publishLoop() {
	defer close(b.done)

	for req := range b.publishCh {
		b.mu.RLock()
		handlers := make([]events.Handler, 0, len(b.subs[req.topic])+len(b.subs[allTopics]))
		for _, h := range b.subs[req.topic] {
			handlers = append(handlers, h)
		}
		for _, h := range b.subs[allTopics] {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			b.deliver(h, req)
		}
	}
}

func (b *Bus) deliver(h events.Handler, req publishRequest) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "topic", req.topic, "panic", r)
		}
	}()
	h(req.event)
	b.delivered.Add(1)
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]events.Handler)
	}
	b.subs[topic][id] = handler
	handlerCount := len(b.subs[topic])
	b.mu.Unlock()

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", handlerCount)

	return &subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) SubscribeAll(handler events.Handler) events.Subscription {
	return b.Subscribe(allTopics, handler)
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topicSubs, ok := b.subs[topic]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]events.TopicStats, 0, len(b.subs))
	for topic, subs := range b.subs {
		if topic == allTopics {
			topic = "*"
		}
		topics = append(topics, events.TopicStats{
			Topic:       topic,
			Subscribers: len(subs),
		})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	return events.Stats{
		Topics:       topics,
		PublishChLen: len(b.publishCh),
		PublishChCap: cap(b.publishCh),
		Published:    b.published.Load(),
		Delivered:    b.delivered.Load(),
		Dropped:      b.dropped.Load(),
	}
}

// Close delivers everything already queued, then stops the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.publishCh)
	}
	b.mu.Unlock()

	<-b.done
	return nil
}
