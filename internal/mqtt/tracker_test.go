package mqtt

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	nextMID   uint16
	published []string
	failNext  bool
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, fmt.Errorf("transport down")
	}
	f.nextMID++
	f.published = append(f.published, topic)
	return f.nextMID, nil
}

func (f *fakeTransport) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func newTestTracker(tr *fakeTransport) *Tracker {
	return NewTracker(tr, TrackerConfig{
		AckTimeout:    30 * time.Second,
		AckRetries:    2,
		CheckInterval: time.Hour,
	}, nil, zap.NewNop())
}

func TestTrackerQueuesWhileDisconnected(t *testing.T) {
	tr := &fakeTransport{}
	tracker := newTestTracker(tr)

	require.NoError(t, tracker.Publish("a/b", 1, false, []byte("x")))
	assert.Equal(t, 1, tracker.QueuedCount())
	assert.Empty(t, tr.publishedTopics())

	tr.mu.Lock()
	tr.connected = true
	tr.mu.Unlock()
	tracker.drain()

	assert.Equal(t, 0, tracker.QueuedCount())
	assert.Equal(t, []string{"a/b"}, tr.publishedTopics())
}

func TestTrackerAckReleasesPending(t *testing.T) {
	tr := &fakeTransport{connected: true}
	tracker := newTestTracker(tr)

	require.NoError(t, tracker.Publish("a/b", 1, false, []byte("x")))
	assert.Equal(t, 1, tracker.PendingCount())

	tracker.HandleAck("consultease/ack", []byte(`{"message_id": 1}`))
	assert.Equal(t, 0, tracker.PendingCount())

	// Unknown and malformed acks are ignored.
	tracker.HandleAck("consultease/ack", []byte(`{"message_id": 99}`))
	tracker.HandleAck("consultease/ack", []byte(`not json`))
	assert.Equal(t, 0, tracker.PendingCount())
}

func TestTrackerRetriesThenDrops(t *testing.T) {
	tr := &fakeTransport{connected: true}
	tracker := newTestTracker(tr)

	require.NoError(t, tracker.Publish("a/b", 1, false, []byte("x")))
	require.Equal(t, 1, tracker.PendingCount())

	past := time.Now().Add(time.Hour)
	tracker.sweep(past) // retry 1
	tracker.sweep(past) // retry 2
	assert.Len(t, tr.publishedTopics(), 3)
	assert.Equal(t, 1, tracker.PendingCount())

	tracker.sweep(past) // budget exhausted, dropped
	assert.Equal(t, 0, tracker.PendingCount())
	assert.Len(t, tr.publishedTopics(), 3)
}

func TestTrackerRetryWhileDisconnectedRequeues(t *testing.T) {
	tr := &fakeTransport{connected: true}
	tracker := newTestTracker(tr)

	require.NoError(t, tracker.Publish("a/b", 1, false, []byte("x")))

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()

	tracker.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, tracker.PendingCount())
	assert.Equal(t, 1, tracker.QueuedCount())
}

func TestTrackerPublishFailureQueues(t *testing.T) {
	tr := &fakeTransport{connected: true, failNext: true}
	tracker := newTestTracker(tr)

	require.NoError(t, tracker.Publish("a/b", 0, false, []byte("x")))
	assert.Equal(t, 1, tracker.QueuedCount())
}

func TestTrackerStartStop(t *testing.T) {
	tr := &fakeTransport{connected: true}
	tracker := NewTracker(tr, TrackerConfig{CheckInterval: 10 * time.Millisecond}, nil, zap.NewNop())

	tracker.Start()
	tracker.NotifyConnected()
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()
}
