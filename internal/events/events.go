package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DeviceStatusUpdated         = "deviceStatusUpdated"
	DeviceGroupStatusUpdated    = "deviceGroupStatusUpdated"
	OverviewDeviceStatusUpdated = "overviewDeviceStatusUpdated"
	ChatCreated                 = "chatCreated"
	ChatDeleted                 = "chatDeleted"

	// AllTopics subscribes to every topic on a [Bus].
	AllTopics = "*"
)

const defaultBuffer = 16

// MessageAddedTopic is the topic carrying new messages of one chat.
func MessageAddedTopic(chatID string) string {
	return "messageAdded-" + chatID
}

// Event is one published notification.
type Event struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Payload returns ev's payload as T. Events from a [Bus] carry the published value itself; events
// decoded from NATS carry raw JSON, which is unmarshalled into T.
func Payload[T any](ev Event) (T, error) {
	var out T
	switch p := ev.Payload.(type) {
	case T:
		return p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("failed to decode %s payload: %w", ev.Topic, err)
		}
		return out, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("failed to encode %s payload: %w", ev.Topic, err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("failed to decode %s payload: %w", ev.Topic, err)
		}
		return out, nil
	}
}

// Publisher sends payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Subscriber delivers events of a topic until the returned cancel func is called.
type Subscriber interface {
	Subscribe(topic string) (<-chan Event, func())
}

// Bus is an in-process [Publisher] and [Subscriber].
//
// Each subscriber has a bounded buffer; events that do not fit are dropped for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	buffer int
	closed bool
	logger *log.Logger
}

// NewBus creates a [Bus]. A non-positive buffer uses the default of 16 events.
func NewBus(logger *log.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[string]map[int]chan Event), buffer: buffer, logger: logger}
}

// Publish delivers payload to every subscriber of topic and of [AllTopics]. It never blocks.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := Event{Topic: topic, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errBusClosed
	}

	for _, key := range []string{topic, AllTopics} {
		for id, ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
				if b.logger != nil {
					b.logger.Warn("dropping event for slow subscriber", "topic", topic, "subscriber", id)
				}
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic. Calling the returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[topic][id]; ok {
				delete(b.subs[topic], id)
				close(sub)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}

var errBusClosed = errors.New("event bus closed")

type fanout []Publisher

// Fanout publishes to every publisher, returning their joined errors.
func Fanout(publishers ...Publisher) Publisher {
	return fanout(publishers)
}

func (f fanout) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a [Publisher] that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, any) error { return nil }
