package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var (
	errMissingProducer = errors.New("events: kafka producer is required")
	errMissingTopic    = errors.New("events: kafka topic is required")
	errPublisherClosed = errors.New("events: kafka publisher is closed")
)

// KafkaPublisherConfig describes the Kafka sink.
type KafkaPublisherConfig struct {
	Producer sarama.AsyncProducer
	Topic    string
	Logger   *zap.Logger
}

// KafkaPublisher writes events to a topic keyed by thread root, so every event
// of one thread lands on the same partition in commit order. Publish only
// enqueues; delivery results are logged as the producer reports them.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// one request in flight keeps retries from reordering a partition.
	config.Net.MaxOpenRequests = 1
	return config
}

// NewAsyncProducer dials brokers with acknowledgements from every in-sync replica.
func NewAsyncProducer(brokers []string) (sarama.AsyncProducer, error) {
	producer, err := sarama.NewAsyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher constructs the Kafka sink and starts draining delivery reports.
func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if cfg.Producer == nil {
		return nil, errMissingProducer
	}
	if cfg.Topic == "" {
		return nil, errMissingTopic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := &KafkaPublisher{
		producer: cfg.Producer,
		topic:    cfg.Topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go publisher.drain()
	return publisher, nil
}

// Publish implements Publisher. It blocks only while the producer's input
// buffer is full, and gives up when ctx is done.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	key := event.RootID
	if key == "" {
		key = event.CommentID
	}
	message := &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: event,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPublisherClosed
	}
	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: enqueue %s: %w", event.Type, ctx.Err())
	}
}

func (p *KafkaPublisher) drain() {
	defer close(p.done)
	successes := p.producer.Successes()
	failures := p.producer.Errors()
	for successes != nil || failures != nil {
		select {
		case message, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			event, _ := message.Metadata.(Event)
			p.logger.Debug("event published",
				zap.String("type", string(event.Type)),
				zap.String("comment_id", event.CommentID),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset))
		case failure, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			fields := []zap.Field{zap.Error(failure.Err)}
			if failure.Msg != nil {
				if event, ok := failure.Msg.Metadata.(Event); ok {
					fields = append(fields, zap.String("type", string(event.Type)), zap.String("comment_id", event.CommentID))
				}
			}
			p.logger.Warn("event delivery failed", fields...)
		}
	}
}

// Close flushes buffered events and waits until every delivery report has
// been logged.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	<-p.done
	return nil
}
