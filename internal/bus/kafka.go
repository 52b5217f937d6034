package bus

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig configures the Kafka-backed Bus.
type KafkaConfig struct {
	Brokers []string

	// DeadLetterTopic receives messages whose handler kept failing for
	// HandlerRetryMax, so a poison message cannot block its partition
	// forever. Empty disables parking: transient failures then retry
	// without bound and only poison messages are dropped.
	DeadLetterTopic string
	HandlerRetryMax time.Duration
}

// Kafka is the production Bus. Publishing is synchronous with acks from all
// replicas; consuming fetches, runs the handler to completion, and only then
// commits the offset, so an unhandled message is redelivered after a crash.
type Kafka struct {
	cfg    KafkaConfig
	log    *logrus.Entry
	writer *kafkago.Writer

	mu      sync.Mutex
	readers []*kafkago.Reader
	groups  map[string]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafka(cfg KafkaConfig, log *logrus.Entry) *Kafka {
	if cfg.DeadLetterTopic != "" && cfg.HandlerRetryMax <= 0 {
		cfg.HandlerRetryMax = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Kafka{
		cfg: cfg,
		log: log,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		groups: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish writes m and retries transient broker errors with backoff. It
// does not return success until the broker acknowledged the write; an
// in-flight event is never silently dropped.
func (k *Kafka) Publish(ctx context.Context, m Message) error {
	msg := kafkago.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Time:    time.Now(),
		Headers: toKafkaHeaders(m.Headers),
	}
	op := func() error {
		if err := k.writer.WriteMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(publishPolicy(), ctx)); err != nil {
		return errors.Wrapf(err, "publish to %s", m.Topic)
	}
	return nil
}

func (k *Kafka) Subscribe(topic, group string, h Handler) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrBusClosed
	}
	if _, dup := k.groups[topic+"/"+group]; dup {
		return ErrDuplicateGroup
	}
	k.groups[topic+"/"+group] = struct{}{}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit explicitly, after the handler succeeds
	})
	k.readers = append(k.readers, r)

	k.wg.Add(1)
	go k.consume(r, topic, group, h)
	return nil
}

// consume is the serial loop of one (topic, group) subscription: at most one
// handler runs at a time, so per-partition order is preserved.
func (k *Kafka) consume(r *kafkago.Reader, topic, group string, h Handler) {
	defer k.wg.Done()
	log := k.log.WithFields(logrus.Fields{"topic": topic, "group": group})

	for {
		fm, err := r.FetchMessage(k.ctx)
		if err != nil {
			if k.ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("fetch failed")
			select {
			case <-k.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		m := Message{Topic: fm.Topic, Key: fm.Key, Value: fm.Value, Headers: fromKafkaHeaders(fm.Headers)}
		if !k.handle(log, m, h) {
			// Shutting down mid-message: the offset stays uncommitted and
			// the broker redelivers after restart.
			return
		}
		if err := r.CommitMessages(k.ctx, fm); err != nil {
			if k.ctx.Err() != nil {
				return
			}
			// The handler already ran; redelivery after restart is the
			// at-least-once contract working as intended.
			log.WithError(err).Error("offset commit failed")
		}
	}
}

// handle runs h with backoff until it succeeds or the message is declared
// undeliverable and parked. It returns false only on shutdown.
func (k *Kafka) handle(log *logrus.Entry, m Message, h Handler) bool {
	op := func() error {
		err := h(k.ctx, m)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(k.handlerPolicy(), k.ctx))
	if err == nil {
		return true
	}
	if k.ctx.Err() != nil {
		return false
	}

	if k.cfg.DeadLetterTopic != "" {
		dl := Message{Topic: k.cfg.DeadLetterTopic, Key: m.Key, Value: m.Value, Headers: m.Headers}
		for {
			perr := k.Publish(k.ctx, dl)
			if perr == nil {
				log.WithError(err).Error("message parked on dead-letter topic")
				return true
			}
			if k.ctx.Err() != nil {
				return false
			}
			log.WithError(perr).Error("dead-letter publish failed, retrying")
		}
	}
	log.WithError(err).Error("dropping poison message")
	return true
}

// handlerPolicy bounds per-message retries when a dead-letter topic exists;
// without one, transient failures retry without bound.
func (k *Kafka) handlerPolicy() backoff.BackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = 200 * time.Millisecond
	p.MaxInterval = 15 * time.Second
	p.MaxElapsedTime = k.cfg.HandlerRetryMax
	return p
}

func publishPolicy() backoff.BackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = 100 * time.Millisecond
	p.MaxInterval = 5 * time.Second
	p.MaxElapsedTime = 30 * time.Second
	return p
}

func toKafkaHeaders(h map[string]string) []kafkago.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]kafkago.Header, 0, len(h))
	for key, val := range h {
		out = append(out, kafkago.Header{Key: key, Value: []byte(val)})
	}
	return out
}

func fromKafkaHeaders(hs []kafkago.Header) map[string]string {
	if len(hs) == 0 {
		return nil
	}
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

// Close stops all consumers, waits for in-flight handlers, then closes the
// writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := k.readers
	k.mu.Unlock()

	k.cancel()
	for _, r := range readers {
		_ = r.Close()
	}
	k.wg.Wait()
	return k.writer.Close()
}
