package main

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const eventQueueSize = 20

type EventType string

const (
	EventVoteCast      EventType = "vote.cast"
	EventTransfer      EventType = "transfer.applied"
	EventBountyPlaced  EventType = "bounty.placed"
	EventBountyClaimed EventType = "bounty.claimed"
	EventBountyExpired EventType = "bounty.expired"
	EventVotesReset    EventType = "votes.reset"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

func NewEvent(eventType EventType, data any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// Event payloads consumed by chat/notification collaborators.
type VoteCastEvent struct {
	VoterID        string
	TargetID       string
	Week           string
	VotesRemaining int
}

type TransferEvent struct {
	Record TransferRecord
}

type BountyEvent struct {
	Bounty    Bounty
	ClaimedBy string
	Amount    int64
}

type ResetEvent struct {
	AccountsReset int
	Week          string
}

type subscriberID int

// eventSubscriber owns one delivery channel. The per-subscriber mutex and
// closed flag keep a concurrent unsubscribe from closing the channel out
// from under an in-flight send.
type eventSubscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *eventSubscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- evt
}

func (s *eventSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// EventBus fans domain events out to in-process subscribers. Publish blocks
// on each subscriber channel, preserving delivery order per subscriber;
// consumers that need decoupling drain their channel from a goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[subscriberID]*eventSubscriber
	lastID      subscriberID
	metrics     *coreMetrics
	log         *zap.Logger
}

func NewEventBus(metrics *coreMetrics, log *zap.Logger) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[EventType]map[subscriberID]*eventSubscriber),
		metrics:     metrics,
		log:         log,
	}
}

func (b *EventBus) Subscribe(eventType EventType) (subscriberID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	id := b.lastID
	sub := &eventSubscriber{ch: make(chan Event, eventQueueSize)}
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[subscriberID]*eventSubscriber)
	}
	b.subscribers[eventType][id] = sub
	return id, sub.ch
}

// SubscribeFunc drains a subscription on a goroutine and invokes fn per
// event. The goroutine exits when the subscriber is unsubscribed or the
// bus is stopped.
func (b *EventBus) SubscribeFunc(eventType EventType, fn func(Event)) subscriberID {
	id, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			fn(evt)
		}
	}()
	return id
}

func (b *EventBus) Unsubscribe(eventType EventType, id subscriberID) {
	b.mu.Lock()
	var sub *eventSubscriber
	if subs, ok := b.subscribers[eventType]; ok {
		if s, ok := subs[id]; ok {
			sub = s
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, eventType)
			}
		}
	}
	b.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

func (b *EventBus) Publish(evt Event) {
	b.mu.RLock()
	subs := b.subscribers[evt.Type]
	snapshot := make([]*eventSubscriber, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.deliver(evt)
	}
	if b.metrics != nil {
		b.metrics.eventsPublished.WithLabelValues(string(evt.Type)).Inc()
	}
	b.log.Debug("event published", zap.String("type", string(evt.Type)))
}

// Stop closes every subscriber channel so SubscribeFunc goroutines exit.
func (b *EventBus) Stop() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[EventType]map[subscriberID]*eventSubscriber)
	b.mu.Unlock()

	for _, byID := range subs {
		for _, sub := range byID {
			sub.close()
		}
	}
}
