package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrProducerClosed = errors.New("bus: producer is closed")

// Message is a record to publish.
type Message struct {
	Topic     string
	Key       string // partition key
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer publishes records. KafkaProducer talks to a broker; StubProducer
// keeps them in memory.
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	PublishJSON(ctx context.Context, topic, key string, value any) error
	Close()
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	clientID string
	linger   time.Duration
	acks     kgo.Acks
}

// WithClientID sets the client id, also stamped into the "producer" header.
func WithClientID(id string) ProducerOption {
	return func(c *producerConfig) { c.clientID = id }
}

// WithLinger sets how long records wait for batching.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// WithLeaderAck waits for the leader only instead of all in-sync replicas.
func WithLeaderAck() ProducerOption {
	return func(c *producerConfig) { c.acks = kgo.LeaderAck() }
}

// KafkaProducer is a franz-go backed Producer.
type KafkaProducer struct {
	client         *kgo.Client
	defaultHeaders map[string]string

	mu     sync.RWMutex
	closed bool
}

// NewProducer connects lazily to brokers; kgo dials on first produce.
func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("bus: no brokers configured")
	}

	cfg := &producerConfig{
		clientID: "poolwatch",
		linger:   5 * time.Millisecond,
		acks:     kgo.AllISRAcks(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.clientID),
		kgo.RequiredAcks(cfg.acks),
		kgo.ProducerLinger(cfg.linger),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if cfg.acks != kgo.AllISRAcks() {
		// idempotent writes require all-ISR acks
		kopts = append(kopts, kgo.DisableIdempotentWrite())
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("bus: create kafka client: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("client_id", cfg.clientID).
		Msg("bus: kafka producer created")

	return &KafkaProducer{
		client:         client,
		defaultHeaders: defaultHeaders(cfg.clientID),
	}, nil
}

func defaultHeaders(clientID string) map[string]string {
	return map[string]string{
		"producer":       clientID,
		"schema_version": SchemaVersion,
	}
}

// toRecord converts msg into a kgo.Record. Missing default headers and an
// event_id are filled in; the caller's map is not modified.
func (p *KafkaProducer) toRecord(msg Message) *kgo.Record {
	headers := make(map[string]string, len(msg.Headers)+len(p.defaultHeaders)+1)
	for k, v := range p.defaultHeaders {
		headers[k] = v
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if _, ok := headers["event_id"]; !ok {
		headers["event_id"] = uuid.New().String()
	}

	rec := &kgo.Record{
		Topic:     msg.Topic,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
		Headers:   make([]kgo.RecordHeader, 0, len(headers)),
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return rec
}

// Publish sends msg and waits for the broker acknowledgement.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrProducerClosed
	}

	results := p.client.ProduceSync(ctx, p.toRecord(msg))
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", msg.Topic, err)
	}

	r := results[0].Record
	log.Debug().
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("bus: record published")
	return nil
}

// PublishJSON marshals value and publishes it.
func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Close flushes buffered records and closes the client.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("bus: flush on close failed")
	}
	p.client.Close()
	log.Info().Msg("bus: kafka producer closed")
}

// StubProducer records messages in memory.
type StubProducer struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewStubProducer() *StubProducer {
	return &StubProducer{}
}

// FailWith makes subsequent publishes return err.
func (p *StubProducer) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *StubProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *StubProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Messages returns a copy of everything published so far.
func (p *StubProducer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *StubProducer) Close() {}
