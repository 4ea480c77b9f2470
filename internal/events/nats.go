package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix namespaces every NATS subject.
const SubjectPrefix = "pihome."

// Subject maps a topic onto its NATS subject. [AllTopics] maps onto every pihome subject.
func Subject(topic string) string {
	if topic == AllTopics {
		return SubjectPrefix + ">"
	}
	return SubjectPrefix + topic
}

// ConnectNATS dials url with reconnect handling that reports to logger.
func ConnectNATS(url string, logger *log.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("pihome"),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "subject", subjectOf(sub), "error", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func subjectOf(sub *nats.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.Subject
}

// NATSPublisher publishes events as JSON on [Subject] subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *log.Logger
}

// NewNATSPublisher creates a [NATSPublisher] over an established connection.
func NewNATSPublisher(conn *nats.Conn, logger *log.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, logger: logger}
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.conn == nil || !p.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}

	data, err := encodeEvent(topic, payload, time.Now())
	if err != nil {
		return err
	}

	if err := p.conn.Publish(Subject(topic), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	p.logger.Debug("published event", "subject", Subject(topic), "bytes", len(data))
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func encodeEvent(topic string, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(Event{Topic: topic, Payload: payload, At: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return data, nil
}

// NATSSubscriber delivers events published by any process on [Subject] subjects. Payloads arrive as
// [json.RawMessage]; read them with [Payload].
type NATSSubscriber struct {
	conn   *nats.Conn
	buffer int
	logger *log.Logger
}

// NewNATSSubscriber creates a [NATSSubscriber]. A non-positive buffer uses the default of 16 events.
func NewNATSSubscriber(conn *nats.Conn, buffer int, logger *log.Logger) *NATSSubscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &NATSSubscriber{conn: conn, buffer: buffer, logger: logger}
}

// Subscribe follows topic until the returned func is called. As with a [Bus], events that do not fit
// the buffer are dropped. A failed subscription yields a closed channel.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, s.buffer)

	var mu sync.Mutex
	closed := false

	sub, err := s.conn.Subscribe(Subject(topic), func(m *nats.Msg) {
		ev, err := decodeEvent(m.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable event", "subject", m.Subject, "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping event for slow subscriber", "subject", m.Subject)
		}
	})
	if err != nil {
		s.logger.Error("failed to subscribe", "subject", Subject(topic), "error", err)
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Debug("unsubscribe failed", "subject", Subject(topic), "error", err)
			}
			mu.Lock()
			defer mu.Unlock()
			closed = true
			close(ch)
		})
	}
}

func decodeEvent(data []byte) (Event, error) {
	var raw struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
		At      time.Time       `json:"at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return Event{Topic: raw.Topic, Payload: raw.Payload, At: raw.At}, nil
}
