package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/consultease/central/pkg/config"
)

// Seam for tests.
var newPahoClient = paho.NewClient

const (
	beaconOnline  = `{"status":"online"}`
	beaconOffline = `{"status":"offline"}`

	// defaultQoS is used for subscriptions and ordinary publishes.
	defaultQoS byte = 1
)

// Manager owns the broker connection: it dials, watches for drops, reconnects
// with exponential backoff, replays subscriptions after each reconnect, and
// maintains the retained system presence beacon. Outbound traffic goes
// through the embedded delivery tracker so publishes survive broker outages.
type Manager struct {
	cfg     config.MQTTConfig
	topics  Topics
	router  *Router
	tracker *Tracker
	log     *zap.Logger

	client paho.Client

	lost chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewManager wires a Manager from configuration. Call Start to connect.
func NewManager(cfg config.MQTTConfig, metrics DeliveryMetrics, log *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		topics: NewTopics(cfg.BaseTopic),
		router: NewRouter(log),
		log:    log,
		lost:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	m.tracker = NewTracker(m, TrackerConfig{
		AckTimeout:    cfg.AckTimeout,
		AckRetries:    cfg.AckRetries,
		CheckInterval: cfg.AckCheckInterval,
	}, metrics, log)

	// The ack subscription is part of the core topic set, registered before
	// the first connect so onConnect replays it like any other.
	m.router.Add(m.topics.Ack(), m.tracker.HandleAck)

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetWill(m.topics.SystemStatus(), beaconOffline, defaultQoS, true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost).
		SetDefaultPublishHandler(m.onMessage)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = newPahoClient(opts)
	return m
}

// Topics exposes the topic tree rooted at the configured base.
func (m *Manager) Topics() Topics { return m.topics }

// Start launches the delivery tracker and the reconnect worker. The first
// connection attempt happens asynchronously; a broker that is down at boot
// does not block startup.
func (m *Manager) Start() {
	m.tracker.Start()
	go m.reconnectLoop()
}

// Stop publishes the retained offline beacon, waits out the configured grace
// so in-flight traffic settles, then tears the connection down.
func (m *Manager) Stop() {
	close(m.stop)

	if m.client.IsConnected() {
		token := m.client.Publish(m.topics.SystemStatus(), defaultQoS, true, beaconOffline)
		token.WaitTimeout(m.cfg.ConnectTimeout)
		time.Sleep(m.cfg.OfflineGrace)
	}

	m.client.Disconnect(250)
	m.tracker.Stop()
	<-m.done
}

// Subscribe registers a handler for a topic pattern, subscribing on the
// broker when the pattern is new.
func (m *Manager) Subscribe(pattern string, h Handler) error {
	fresh := m.router.Add(pattern, h)
	if !fresh || !m.client.IsConnected() {
		return nil
	}
	token := m.client.Subscribe(pattern, defaultQoS, nil)
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe %s: timeout", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	return nil
}

// Unsubscribe removes a handler, dropping the broker subscription once the
// pattern has no handlers left.
func (m *Manager) Unsubscribe(pattern string, h Handler) error {
	if !m.router.Remove(pattern, h) || !m.client.IsConnected() {
		return nil
	}
	token := m.client.Unsubscribe(pattern)
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", pattern)
	}
	return token.Error()
}

// IsConnected reports broker connectivity. Part of the tracker's transport.
func (m *Manager) IsConnected() bool {
	return m.client.IsConnected()
}

// Publish writes one message to the broker and returns the transport message
// id used for acknowledgment matching. Part of the tracker's transport.
func (m *Manager) Publish(topic string, qos byte, retained bool, payload []byte) (uint16, error) {
	token := m.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return 0, fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("publish %s: %w", topic, err)
	}
	if mt, ok := token.(interface{ MessageID() uint16 }); ok {
		return mt.MessageID(), nil
	}
	return 0, nil
}

// Send publishes a fire-and-forget JSON payload at QoS 0; the message is
// queued if the broker is unreachable.
func (m *Manager) Send(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return m.tracker.Publish(topic, 0, false, payload)
}

// SendTracked publishes a JSON payload at QoS 1 that the receiving device
// must acknowledge on the ack topic; unacked messages are retried.
func (m *Manager) SendTracked(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return m.tracker.Publish(topic, defaultQoS, false, payload)
}

// SendPlain publishes a bare string payload, used for the legacy desk-unit
// display topics.
func (m *Manager) SendPlain(topic, message string) error {
	return m.tracker.Publish(topic, 0, false, []byte(message))
}

// SendRetained publishes a retained JSON payload, used for presence state
// that late subscribers must observe.
func (m *Manager) SendRetained(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return m.tracker.Publish(topic, 0, true, payload)
}

// PendingDeliveries reports deliveries awaiting device acknowledgment.
func (m *Manager) PendingDeliveries() int { return m.tracker.PendingCount() }

// QueuedMessages reports messages parked while the broker is unreachable.
func (m *Manager) QueuedMessages() int { return m.tracker.QueuedCount() }

func (m *Manager) onMessage(_ paho.Client, msg paho.Message) {
	m.router.Dispatch(msg.Topic(), msg.Payload())
}

func (m *Manager) onConnect(_ paho.Client) {
	m.log.Info("broker connected", zap.String("broker", m.cfg.BrokerURL))

	for _, pattern := range m.router.Patterns() {
		token := m.client.Subscribe(pattern, defaultQoS, nil)
		if !token.WaitTimeout(m.cfg.ConnectTimeout) || token.Error() != nil {
			m.log.Error("resubscribe failed", zap.String("pattern", pattern), zap.Error(token.Error()))
		}
	}

	token := m.client.Publish(m.topics.SystemStatus(), defaultQoS, true, beaconOnline)
	token.WaitTimeout(m.cfg.ConnectTimeout)

	m.tracker.NotifyConnected()
}

func (m *Manager) onConnectionLost(_ paho.Client, err error) {
	m.log.Warn("broker connection lost", zap.Error(err))
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// reconnectLoop owns every connection attempt. Backoff doubles from the
// configured floor to the ceiling and resets after a successful connect.
func (m *Manager) reconnectLoop() {
	defer close(m.done)

	delay := m.cfg.ReconnectMinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := m.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}

	for {
		token := m.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			m.log.Warn("broker connect failed",
				zap.String("broker", m.cfg.BrokerURL),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-m.stop:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		delay = m.cfg.ReconnectMinDelay
		if delay <= 0 {
			delay = time.Second
		}

		if !m.watchConnection() {
			return
		}
	}
}

// watchConnection blocks while the connection is healthy, polling liveness
// every second alongside the lost callback. Returns false on shutdown.
func (m *Manager) watchConnection() bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return false
		case <-m.lost:
			return true
		case <-ticker.C:
			if !m.client.IsConnected() {
				m.log.Warn("broker connection no longer alive")
				return true
			}
		}
	}
}
