package mqtt

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// transport is the slice of the connection manager the tracker needs.
type transport interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) (uint16, error)
}

// DeliveryMetrics counts delivery outcomes. Implementations must be safe for
// concurrent use; a nil value disables counting.
type DeliveryMetrics interface {
	MessagePublished(topic string)
	MessageAcked()
	MessageDropped()
	MessageQueued()
}

// TrackerConfig tunes at-least-once delivery behavior.
type TrackerConfig struct {
	AckTimeout    time.Duration
	AckRetries    int
	CheckInterval time.Duration
}

type pendingDelivery struct {
	topic       string
	payload     []byte
	qos         byte
	retained    bool
	deadline    time.Time
	retriesLeft int
}

type queuedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// Tracker provides application-level at-least-once delivery on top of the
// transport: tracked publishes stay pending until the receiving device echoes
// the transport message id on the ack topic, with timed retries in between.
// Messages published while disconnected land in an in-memory queue that
// drains on reconnect; the queue does not survive a process restart.
type Tracker struct {
	tr      transport
	cfg     TrackerConfig
	metrics DeliveryMetrics
	log     *zap.Logger

	mu      sync.Mutex
	pending map[uint16]*pendingDelivery
	queue   []queuedMessage

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewTracker returns a stopped Tracker; call Start to run the sweep loop.
func NewTracker(tr transport, cfg TrackerConfig, metrics DeliveryMetrics, log *zap.Logger) *Tracker {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.AckRetries <= 0 {
		cfg.AckRetries = 3
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	return &Tracker{
		tr:      tr,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		pending: make(map[uint16]*pendingDelivery),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (t *Tracker) Start() {
	go t.loop()
}

// Stop halts the sweep loop and waits for it to exit.
func (t *Tracker) Stop() {
	close(t.stop)
	<-t.done
}

// Publish sends one message. QoS 0 is fire-and-forget; QoS 1 and up register
// a pending delivery that the receiving device must acknowledge, with timed
// retries until the budget runs out. Messages sent while disconnected are
// queued.
func (t *Tracker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !t.tr.IsConnected() {
		t.enqueue(queuedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	mid, err := t.tr.Publish(topic, qos, retained, payload)
	if err != nil {
		t.log.Warn("publish failed, queueing message", zap.String("topic", topic), zap.Error(err))
		t.enqueue(queuedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	if t.metrics != nil {
		t.metrics.MessagePublished(topic)
	}
	if qos >= 1 {
		t.track(mid, topic, qos, retained, payload, t.cfg.AckRetries)
	}
	return nil
}

func (t *Tracker) track(mid uint16, topic string, qos byte, retained bool, payload []byte, retries int) {
	t.mu.Lock()
	t.pending[mid] = &pendingDelivery{
		topic:       topic,
		payload:     payload,
		qos:         qos,
		retained:    retained,
		deadline:    time.Now().Add(t.cfg.AckTimeout),
		retriesLeft: retries,
	}
	t.mu.Unlock()
}

func (t *Tracker) enqueue(msg queuedMessage) {
	t.mu.Lock()
	t.queue = append(t.queue, msg)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.MessageQueued()
	}
}

// HandleAck consumes a device acknowledgment of the form {"message_id": id}
// and releases the matching pending delivery. Satisfies the router Handler
// signature.
func (t *Tracker) HandleAck(topic string, payload []byte) {
	var ack struct {
		MessageID uint16 `json:"message_id"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.log.Warn("malformed ack payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	t.mu.Lock()
	_, ok := t.pending[ack.MessageID]
	delete(t.pending, ack.MessageID)
	t.mu.Unlock()

	if ok {
		if t.metrics != nil {
			t.metrics.MessageAcked()
		}
		t.log.Debug("delivery acknowledged", zap.Uint16("message_id", ack.MessageID))
	}
}

// PendingCount reports the number of deliveries awaiting acknowledgment.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// QueuedCount reports the number of messages waiting for a connection.
func (t *Tracker) QueuedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// NotifyConnected nudges the drain loop after the transport reconnects.
func (t *Tracker) NotifyConnected() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.wake:
			t.drain()
		case now := <-ticker.C:
			t.sweep(now)
			t.drain()
		}
	}
}

// sweep retries timed-out deliveries and drops those with no retries left.
func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	var expired []*pendingDelivery
	for mid, pd := range t.pending {
		if now.Before(pd.deadline) {
			continue
		}
		delete(t.pending, mid)
		expired = append(expired, pd)
	}
	t.mu.Unlock()

	for _, pd := range expired {
		if pd.retriesLeft <= 0 {
			if t.metrics != nil {
				t.metrics.MessageDropped()
			}
			t.log.Warn("delivery dropped after retry budget exhausted",
				zap.String("topic", pd.topic))
			continue
		}
		t.retry(pd)
	}
}

func (t *Tracker) retry(pd *pendingDelivery) {
	if !t.tr.IsConnected() {
		t.enqueue(queuedMessage{topic: pd.topic, payload: pd.payload, qos: pd.qos, retained: pd.retained})
		return
	}
	mid, err := t.tr.Publish(pd.topic, pd.qos, pd.retained, pd.payload)
	if err != nil {
		t.enqueue(queuedMessage{topic: pd.topic, payload: pd.payload, qos: pd.qos, retained: pd.retained})
		return
	}
	t.log.Debug("delivery retried", zap.String("topic", pd.topic), zap.Int("retries_left", pd.retriesLeft-1))
	t.track(mid, pd.topic, pd.qos, pd.retained, pd.payload, pd.retriesLeft-1)
}

// drain flushes the offline queue while the transport stays connected.
func (t *Tracker) drain() {
	for t.tr.IsConnected() {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		msg := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		mid, err := t.tr.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if err != nil {
			// Put it back and give up until the next tick.
			t.mu.Lock()
			t.queue = append([]queuedMessage{msg}, t.queue...)
			t.mu.Unlock()
			return
		}
		if t.metrics != nil {
			t.metrics.MessagePublished(msg.topic)
		}
		if msg.qos >= 1 {
			t.track(mid, msg.topic, msg.qos, msg.retained, msg.payload, t.cfg.AckRetries)
		}
	}
}
