package bus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Memory is an in-process Bus with the same delivery contract as the Kafka
// implementation: per-subscription ordering, ack on nil, redelivery of the
// same message on error. It lets the whole choreography run and be tested in
// one process without a broker.
type Memory struct {
	log        *logrus.Entry
	retryDelay time.Duration

	mu     sync.Mutex
	subs   map[string][]*memorySub // topic -> subscribers
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memorySub struct {
	topic, group string
	handler      Handler

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Message
	done  bool
}

// NewMemory returns a started in-memory bus. retryDelay is the pause before a
// failed message is redelivered; zero picks a default suited to tests.
func NewMemory(log *logrus.Entry, retryDelay time.Duration) *Memory {
	if retryDelay <= 0 {
		retryDelay = 25 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		log:        log,
		retryDelay: retryDelay,
		subs:       make(map[string][]*memorySub),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish appends m to the queue of every group subscribed to its topic.
// Messages published to a topic nobody has subscribed to yet are dropped;
// subscriptions are wired before traffic starts.
func (b *Memory) Publish(_ context.Context, m Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	targets := make([]*memorySub, len(b.subs[m.Topic]))
	copy(targets, b.subs[m.Topic])
	b.mu.Unlock()

	for _, s := range targets {
		s.enqueue(m)
	}
	return nil
}

func (b *Memory) Subscribe(topic, group string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs[topic] {
		if s.group == group {
			return ErrDuplicateGroup
		}
	}

	s := &memorySub{topic: topic, group: group, handler: h}
	s.cond = sync.NewCond(&s.mu)
	b.subs[topic] = append(b.subs[topic], s)

	b.wg.Add(1)
	go b.consume(s)
	return nil
}

// consume delivers s's queue one message at a time. A failed handler keeps
// the message at the head of the queue, so redelivery preserves order.
func (b *Memory) consume(s *memorySub) {
	defer b.wg.Done()
	for {
		m, ok := s.next()
		if !ok {
			return
		}

		err := s.handler(b.ctx, m)
		switch {
		case err == nil:
			s.dequeue()
		case IsPermanent(err):
			b.log.WithError(err).WithFields(logrus.Fields{
				"topic": s.topic, "group": s.group,
			}).Error("dropping poison message")
			s.dequeue()
		default:
			b.log.WithError(err).WithFields(logrus.Fields{
				"topic": s.topic, "group": s.group,
			}).Warn("handler failed, will redeliver")
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(b.retryDelay):
			}
		}
	}
}

func (s *memorySub) enqueue(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	s.cond.Signal()
}

// next blocks until a message is available or the subscription is shut down.
func (s *memorySub) next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.done {
		s.cond.Wait()
	}
	if s.done {
		return Message{}, false
	}
	return s.queue[0], true
}

func (s *memorySub) dequeue() {
	s.mu.Lock()
	s.queue = s.queue[1:]
	s.mu.Unlock()
}

func (s *memorySub) shutdown() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Close stops all consumers and waits for in-flight handlers to return.
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	b.cancel()
	for _, s := range all {
		s.shutdown()
	}
	b.wg.Wait()
	return nil
}
