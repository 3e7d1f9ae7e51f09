package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamQueue is the Broker driver's configured NATS JetStream backing.
// It maps visibility timeout to AckWait, redelivery count to JetStream's
// delivery metadata, and the poison sink to a companion stream — grounded
// on the same nats.go dependency the ingestion pipeline already used for
// pub/sub and DLQ publishing.
type JetStreamQueue struct {
	js       jetstream.JetStream
	name     string
	poison   string
	opts     Options
	stream   jetstream.Stream
	consumer jetstream.Consumer
	log      *slog.Logger
	cancel   context.CancelFunc
}

// NewJetStreamQueue connects (lazily creating, idempotently) the named
// stream and its poison companion: `connect(name, ...)`.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, name string, opts Options, log *slog.Logger) (*JetStreamQueue, error) {
	if log == nil {
		log = slog.Default()
	}
	normalized, err := domain.NormalizeQueueName(name)
	if err != nil {
		return nil, err
	}
	poisonName, err := PoisonName(normalized, opts.PoisonSuffix)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "jetstream connect", err)
	}

	subject := streamSubject(normalized)
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(normalized),
		Subjects:  []string{subject},
		MaxAge:    opts.MessageTTL,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "create stream", err)
	}

	poisonSubject := streamSubject(poisonName)
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(poisonName),
		Subjects:  []string{poisonSubject},
		Retention: jetstream.LimitsPolicy,
	}); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "create poison stream", err)
	}

	return &JetStreamQueue{
		js:     js,
		name:   normalized,
		poison: poisonName,
		opts:   opts,
		stream: stream,
		log:    log,
	}, nil
}

func streamName(normalized string) string {
	return "km-" + normalized
}

func streamSubject(normalized string) string {
	return "km." + normalized
}

// Enqueue publishes payload and waits for the broker's durability ack.
func (q *JetStreamQueue) Enqueue(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := q.js.Publish(ctx, streamSubject(q.name), payload)
	if err != nil {
		return domain.NewError(domain.KindTransientIO, "enqueue", err)
	}
	return nil
}

// Subscribe binds a durable pull consumer with AckWait(FetchLockSecs) and
// MaxAckPending(FetchBatchSize), and begins processing in a background
// goroutine until Close is called.
func (q *JetStreamQueue) Subscribe(h Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName(q.name), jetstream.ConsumerConfig{
		Durable:       "km-worker-" + q.name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Duration(q.opts.FetchLockSecs) * time.Second,
		MaxAckPending: q.opts.FetchBatchSize,
	})
	if err != nil {
		return domain.NewError(domain.KindConfiguration, "create consumer", err)
	}
	q.consumer = consumer

	go q.pollLoop(ctx, h)
	return nil
}

// pollLoop is the bounded-polling fallback used when the
// broker has no native long-poll/push primitive wired up.
func (q *JetStreamQueue) pollLoop(ctx context.Context, h Handler) {
	delay := time.Duration(q.opts.PollDelayMsecs) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := q.consumer.Fetch(q.opts.FetchBatchSize, jetstream.FetchMaxWait(delay))
		if err != nil {
			time.Sleep(delay)
			continue
		}
		for msg := range msgs.Messages() {
			q.handle(msg, h)
		}
	}
}

func (q *JetStreamQueue) handle(msg jetstream.Msg, h Handler) {
	meta, err := msg.Metadata()
	dequeueCount := 1
	if err == nil {
		dequeueCount = int(meta.NumDelivered)
	}

	if dequeueCount > q.opts.MaxRetriesBeforePoison {
		if pubErr := q.publishPoison(msg.Data()); pubErr != nil {
			q.log.Error("queue: poison publish failed", "queue", q.name, "error", pubErr)
		}
		_ = msg.Term()
		return
	}

	hErr := h(Message{Data: msg.Data(), DequeueCount: dequeueCount})
	if hErr != nil {
		delay := time.Duration(dequeueCount) * time.Second
		_ = msg.NakWithDelay(delay)
		return
	}
	_ = msg.Ack()
}

func (q *JetStreamQueue) publishPoison(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := q.js.Publish(ctx, streamSubject(q.poison), data)
	return err
}

// Close stops the background poll loop.
func (q *JetStreamQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	return nil
}

var _ Queue = (*JetStreamQueue)(nil)
