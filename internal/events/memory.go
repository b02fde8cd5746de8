package events

import (
	"context"
	"hash/fnv"
	"sync"
)

// DefaultMemoryPartitions is the partition count used by NewMemoryBroker.
const DefaultMemoryPartitions = 4

// MemoryBroker is an in-process Broker. Each consumer group receives every
// message published after the group was created; messages published to a topic
// with no groups are held until the first group subscribes. Within a group, a
// partition hands out one delivery at a time, so messages sharing a key are
// processed in order.
type MemoryBroker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string]*memTopic
	changed    chan struct{}
	closed     bool
}

type memTopic struct {
	backlog [][]memEntry
	groups  map[string]*memGroup
}

type memGroup struct {
	parts []*memPartition
	next  int
}

type memPartition struct {
	queue    []memEntry
	inFlight bool
}

type memEntry struct {
	msg     Message
	attempt int
}

// NewMemoryBroker constructs a MemoryBroker with the given partition count.
func NewMemoryBroker(partitions int) *MemoryBroker {
	if partitions <= 0 {
		partitions = DefaultMemoryPartitions
	}
	return &MemoryBroker{
		partitions: partitions,
		topics:     make(map[string]*memTopic),
		changed:    make(chan struct{}),
	}
}

func (b *MemoryBroker) Name() string { return "memory" }

// Publish appends payload to every group of topic.
func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Topic: topic, Key: key, Payload: append([]byte(nil), payload...)}
	entry := memEntry{msg: msg, attempt: 1}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	t := b.topicLocked(topic)
	p := b.partitionFor(key)
	if len(t.groups) == 0 {
		t.backlog[p] = append(t.backlog[p], entry)
		return nil
	}
	for _, g := range t.groups {
		g.parts[p].queue = append(g.parts[p].queue, entry)
	}
	b.broadcastLocked()
	return nil
}

// Subscribe joins group on topic. Subscriptions sharing a group compete for
// messages.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic, group string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t := b.topicLocked(topic)
	g, ok := t.groups[group]
	if !ok {
		g = &memGroup{parts: make([]*memPartition, b.partitions)}
		for i := range g.parts {
			g.parts[i] = &memPartition{}
			if len(t.groups) == 0 {
				g.parts[i].queue = t.backlog[i]
				t.backlog[i] = nil
			}
		}
		t.groups[group] = g
		b.broadcastLocked()
	}
	return &memSubscription{broker: b, group: g, done: make(chan struct{})}, nil
}

// Pending reports how many messages of group on topic are queued or in flight.
func (b *MemoryBroker) Pending(topic, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	g, ok := t.groups[group]
	if !ok {
		n := 0
		for _, q := range t.backlog {
			n += len(q)
		}
		return n
	}
	n := 0
	for _, p := range g.parts {
		n += len(p.queue)
		if p.inFlight {
			n++
		}
	}
	return n
}

// Close wakes all waiting subscriptions and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.broadcastLocked()
	return nil
}

func (b *MemoryBroker) topicLocked(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{
			backlog: make([][]memEntry, b.partitions),
			groups:  make(map[string]*memGroup),
		}
		b.topics[name] = t
	}
	return t
}

func (b *MemoryBroker) partitionFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

func (b *MemoryBroker) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

type memSubscription struct {
	broker    *MemoryBroker
	group     *memGroup
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memSubscription) Next(ctx context.Context) (Delivery, error) {
	for {
		s.broker.mu.Lock()
		if s.broker.closed {
			s.broker.mu.Unlock()
			return nil, ErrClosed
		}
		select {
		case <-s.done:
			s.broker.mu.Unlock()
			return nil, ErrClosed
		default:
		}
		if d := s.takeLocked(); d != nil {
			s.broker.mu.Unlock()
			return d, nil
		}
		changed := s.broker.changed
		s.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case <-changed:
		}
	}
}

func (s *memSubscription) takeLocked() *memDelivery {
	g := s.group
	for i := 0; i < len(g.parts); i++ {
		idx := (g.next + i) % len(g.parts)
		p := g.parts[idx]
		if p.inFlight || len(p.queue) == 0 {
			continue
		}
		entry := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight = true
		g.next = (idx + 1) % len(g.parts)
		return &memDelivery{broker: s.broker, part: p, entry: entry}
	}
	return nil
}

func (s *memSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

type memDelivery struct {
	broker  *MemoryBroker
	part    *memPartition
	entry   memEntry
	settled bool
}

func (d *memDelivery) Message() Message { return d.entry.msg }
func (d *memDelivery) Attempt() int     { return d.entry.attempt }

func (d *memDelivery) Ack(ctx context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	d.part.inFlight = false
	d.broker.broadcastLocked()
	return nil
}

// Nack puts the message back at the head of its partition.
func (d *memDelivery) Nack(ctx context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	retry := memEntry{msg: d.entry.msg, attempt: d.entry.attempt + 1}
	d.part.queue = append([]memEntry{retry}, d.part.queue...)
	d.part.inFlight = false
	d.broker.broadcastLocked()
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
