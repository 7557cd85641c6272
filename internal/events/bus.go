// Package events carries session changes, user notices and activity records
// between components over an in-process event bus.
package events

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Bus is a typed facade over EventBus. Synchronous handlers run while the bus
// lock is held, so they must not publish on the same bus.
type Bus struct {
	bus evbus.Bus
}

func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Subscription detaches a handler from the bus.
type Subscription interface {
	Unsubscribe() error
}

type subscription struct {
	bus     evbus.Bus
	topic   string
	handler interface{}
}

func (s *subscription) Unsubscribe() error {
	return s.bus.Unsubscribe(s.topic, s.handler)
}

func (b *Bus) subscribe(topic string, fn interface{}) (Subscription, error) {
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return nil, err
	}
	return &subscription{bus: b.bus, topic: topic, handler: fn}, nil
}

func (b *Bus) PublishSession(ev SessionEvent) {
	b.bus.Publish(TopicSessionChanged, ev)
}

func (b *Bus) OnSession(fn func(SessionEvent)) (Subscription, error) {
	return b.subscribe(TopicSessionChanged, fn)
}

func (b *Bus) PublishNotice(level NoticeLevel, message string) {
	b.bus.Publish(TopicNotice, Notice{Level: level, Message: message, Time: time.Now()})
}

func (b *Bus) OnNotice(fn func(Notice)) (Subscription, error) {
	return b.subscribe(TopicNotice, fn)
}

func (b *Bus) PublishNavigation(path string) {
	b.bus.Publish(TopicNavigation, Navigation{Path: path})
}

func (b *Bus) OnNavigation(fn func(Navigation)) (Subscription, error) {
	return b.subscribe(TopicNavigation, fn)
}

func (b *Bus) PublishActivity(ev ActivityEvent) {
	b.bus.Publish(TopicActivity, ev)
}

// OnActivityAsync runs fn off the publisher's goroutine, one event at a time.
func (b *Bus) OnActivityAsync(fn func(ActivityEvent)) (Subscription, error) {
	if err := b.bus.SubscribeAsync(TopicActivity, fn, true); err != nil {
		return nil, err
	}
	return &subscription{bus: b.bus, topic: TopicActivity, handler: fn}, nil
}

// WaitAsync blocks until asynchronous handlers have finished.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
