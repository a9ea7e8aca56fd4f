package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"nftescrow/core/events"
	"nftescrow/core/types"
)

const defaultQueueSize = 1024

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON payload written for each event.
type Message struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Publisher forwards committed events to a Kafka topic. Emit never blocks the
// ledger: events are queued and written by Run.
type Publisher struct {
	writer  Writer
	logger  *slog.Logger
	timeout time.Duration
	queue   chan kafka.Message

	mu      sync.Mutex
	dropped uint64
}

// NewWriter builds a kafka-go writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewPublisher wraps writer. queueSize <= 0 selects the default.
func NewPublisher(writer Writer, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("kafka: writer required")
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer:  writer,
		logger:  logger.With("component", "kafka"),
		timeout: 10 * time.Second,
		queue:   make(chan kafka.Message, queueSize),
	}, nil
}

// Emit implements events.Emitter.
func (p *Publisher) Emit(evt events.Event) {
	withPayload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := withPayload.Event()
	if payload == nil {
		return
	}
	value, err := json.Marshal(Message{Type: payload.Type, Attributes: payload.Attributes})
	if err != nil {
		p.logger.Error("encode event", slog.String("type", payload.Type), slog.Any("error", err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(payload.Attributes["order"]),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(payload.Type)},
		},
	}
	select {
	case p.queue <- msg:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("event queue full, dropping", slog.String("type", payload.Type))
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run writes queued events until ctx is cancelled, then drains what is left
// and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("close writer", slog.Any("error", err))
		}
	}()
	for {
		select {
		case msg := <-p.queue:
			p.write(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.write(msg)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Publisher) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish event", slog.String("key", string(msg.Key)), slog.Any("error", err))
	}
}
