package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Bus routes envelopes from publishers to per-topic subscribers.
// Delivery never blocks a publisher: when a subscriber's buffer is full
// the oldest queued event is discarded in favor of the newest.
type Bus struct {
	logger hclog.Logger

	mu        sync.RWMutex
	topics    map[Topic]map[uint64]*Subscription
	buffers   map[Topic]int
	observers []Observer
	lastID    uint64
}

// Observer receives every published envelope synchronously. Observers
// must not block; they run on the publisher's goroutine.
type Observer interface {
	OnPublish(Envelope)
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger hclog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default subscriber buffer size for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.buffers[topic] = size
	}
}

// New constructs a bus with default topic buffer sizes.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger: hclog.NewNullLogger(),
		topics: make(map[Topic]map[uint64]*Subscription),
		buffers: map[Topic]int{
			TopicBridgeLifecycle: 64,
			TopicBridgeCommand:   256,
			TopicHealthProbe:     64,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterObserver attaches an observer to every future publish.
// Nil-bus and nil-observer calls are no-ops.
func (b *Bus) RegisterObserver(obs Observer) {
	if b == nil || obs == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, obs)
	b.mu.Unlock()
}

// publish stamps the envelope and fans it out to topic subscribers and
// observers.
func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.mu.RLock()
	observers := b.observers
	for _, sub := range b.topics[env.Topic] {
		sub.deliver(ctx, env, b.logger)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(env)
	}
}

// Subscribe registers a subscriber for the given topic.
// If b is nil the returned Subscription has a closed channel and Close is a no-op.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		return deadSubscription()
	}

	cfg := subscriptionConfig{buffer: b.buffers[topic]}
	if cfg.buffer <= 0 {
		cfg.buffer = 1
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic: topic,
		id:    atomic.AddUint64(&b.lastID, 1),
		name:  cfg.name,
		ch:    make(chan Envelope, cfg.buffer),
		done:  make(chan struct{}),
		bus:   b,
	}

	b.mu.Lock()
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Shutdown closes all subscriptions and empties routing tables.
// If b is nil the call is a no-op.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.topics, topic)
	}
}

func deadSubscription() *Subscription {
	ch := make(chan Envelope)
	close(ch)
	done := make(chan struct{})
	close(done)
	sub := &Subscription{ch: ch, done: done}
	sub.closed.Store(true)
	return sub
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	buffer int
	name   string
	ctx    context.Context
}

// WithSubscriptionBuffer overrides the channel buffer for a subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.buffer = size
		}
	}
}

// WithSubscriptionName records an identifier used in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription when ctx is cancelled. A nil
// context is ignored.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription is one consumer's view of a topic.
type Subscription struct {
	topic Topic
	id    uint64
	name  string
	ch    chan Envelope
	done  chan struct{} // closed together with the subscription

	bus     *Bus
	closed  atomic.Bool
	dropped atomic.Uint64
}

// C exposes the event channel.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped reports how many events were discarded because the subscriber
// channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	if s.bus == nil {
		close(s.ch)
		return
	}

	s.bus.mu.Lock()
	if subs := s.bus.topics[s.topic]; subs != nil {
		delete(subs, s.id)
	}
	close(s.ch)
	s.bus.mu.Unlock()
}

// closeLocked is Shutdown's variant; the bus lock is already held and
// the routing tables are being torn down wholesale.
func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	close(s.ch)
}

func (s *Subscription) deliver(ctx context.Context, env Envelope, logger hclog.Logger) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}

	select {
	case s.ch <- env:
		return
	default:
	}

	// Buffer full: drop the oldest queued event, then retry once. The
	// second send can still lose the race against a slow consumer.
	select {
	case <-s.ch:
		s.recordDrop(logger)
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.recordDrop(logger)
	}
}

func (s *Subscription) recordDrop(logger hclog.Logger) {
	count := s.dropped.Add(1)
	if logger == nil {
		return
	}
	name := s.name
	if name == "" {
		name = "subscription"
	}
	logger.Warn("dropped event", "count", count, "subscriber", name, "topic", s.topic)
}
