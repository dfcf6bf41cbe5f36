package events

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

// ------------------ AMQP ------------------

type fakeChannel struct {
	mu          sync.Mutex
	exchanges   []string
	queues      []string
	bindings    []string
	published   []amqp.Publishing
	routingKeys []string
	confirms    chan amqp.Confirmation
	closeNotify chan *amqp.Error
	deliveries  chan amqp.Delivery
	consuming   bool
	prefetch    int

	nack       bool
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == amqp.ExchangeTopic && durable {
		f.exchanges = append(f.exchanges, name)
	}
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if durable {
		f.queues = append(f.queues, name)
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, name+"<-"+key+"@"+exchange)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) ConsumeWithContext(_ context.Context, _, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consuming = true
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.routingKeys = append(f.routingKeys, key)
	if f.confirms != nil {
		f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: !f.nack}
	}
	return nil
}

func (f *fakeChannel) Confirm(bool) error { return nil }

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = c
	return c
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeNotify = c
	return c
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) isConsuming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consuming
}

func (f *fakeChannel) drop(err *amqp.Error) {
	f.mu.Lock()
	c := f.closeNotify
	f.mu.Unlock()
	c <- err
}

type fakeConnection struct {
	mu      sync.Mutex
	queued  []*fakeChannel
	opened  []*fakeChannel
	closed  bool
	newChan func() *fakeChannel
}

func newFakeConnection(queued ...*fakeChannel) *fakeConnection {
	return &fakeConnection{queued: queued, newChan: newFakeChannel}
}

func (c *fakeConnection) Channel() (AMQPChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ch *fakeChannel
	if len(c.queued) > 0 {
		ch, c.queued = c.queued[0], c.queued[1:]
	} else {
		ch = c.newChan()
	}
	c.opened = append(c.opened, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(r chan *amqp.Error) chan *amqp.Error { return r }

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) channels() []*fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeChannel(nil), c.opened...)
}

// fakeDialer falla las primeras failFirst llamadas con un error de red.
type fakeDialer struct {
	mu        sync.Mutex
	conn      *fakeConnection
	failFirst int
	calls     int
}

func (d *fakeDialer) Dial(string) (AMQPConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failFirst {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return d.conn, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) snapshot() (acks, nacks []uint64, requeue []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...), append([]uint64(nil), a.nacks...), append([]bool(nil), a.requeue...)
}

// ------------------ Kafka ------------------

type fakeKafkaWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures []error
	calls    int
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if len(w.failures) > 0 {
		err := w.failures[0]
		w.failures = w.failures[1:]
		return err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

type fakeKafkaReader struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []kafka.Message
	fetchErrs []error
	fetches   []time.Time
}

func newFakeKafkaReader() *fakeKafkaReader {
	return &fakeKafkaReader{messages: make(chan kafka.Message, 16)}
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches = append(r.fetches, time.Now())
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	r.mu.Unlock()

	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

func (r *fakeKafkaReader) fetchTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.fetches...)
}

func (r *fakeKafkaReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		out = append(out, m.Offset)
	}
	return out
}
