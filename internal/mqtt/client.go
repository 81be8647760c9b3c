package mqtt

import (
	"errors"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	subscribeTimeout  = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

// ErrNotConnected is returned when publishing on a disconnected client.
var ErrNotConnected = errors.New("mqtt: client not connected")

// Options configures a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// WillTopic and WillPayload set the last-will message, published
	// retained by the broker if the prop drops off the network.
	WillTopic   string
	WillPayload string
}

// Client wraps the Paho MQTT client for the Alchemy Machine.
type Client struct {
	client paho.Client
	opts   Options
	mu     sync.Mutex

	// subscriptions are restored on every reconnect.
	subMu         sync.RWMutex
	subscriptions map[string]paho.MessageHandler

	cbMu      sync.RWMutex
	onConnect func()
	onLost    func(error)
}

// NewClient creates a new MQTT client but does not connect.
// The client reconnects on its own once connected.
func NewClient(o Options) *Client {
	c := &Client{
		opts:          o,
		subscriptions: make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		// Registration handlers subscribe from inside a callback.
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleLost(err) })

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, o.WillPayload, 1, true)
	}

	c.client = paho.NewClient(opts)
	return c
}

// SetOnConnect registers a callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.cbMu.Lock()
	c.onConnect = fn
	c.cbMu.Unlock()
}

// SetOnConnectionLost registers a callback run when the broker drops us.
func (c *Client) SetOnConnectionLost(fn func(error)) {
	c.cbMu.Lock()
	c.onLost = fn
	c.cbMu.Unlock()
}

func (c *Client) handleConnect() {
	c.subMu.RLock()
	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, 1, handler)
	}
	c.subMu.RUnlock()

	c.cbMu.RLock()
	fn := c.onConnect
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleLost(err error) {
	log.Printf("mqtt: connection lost: %v", err)

	c.cbMu.RLock()
	fn := c.onLost
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return &ConnectTimeoutError{}
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// Subscribe subscribes to a topic with the given handler. The subscription
// is remembered and restored after reconnects.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(subscribeTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends a non-retained QoS 1 message.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained sends a retained QoS 1 message.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(disconnectQuiesce)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// BrokerURL returns the broker this client talks to.
func (c *Client) BrokerURL() string {
	return c.opts.BrokerURL
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// StartWithRetry attempts to connect and subscribe, logging errors but not crashing.
// Returns true if connected, false otherwise. The prop keeps running on
// local sensors while the broker is away; paho keeps retrying.
func (c *Client) StartWithRetry(subs map[string]paho.MessageHandler) bool {
	for topic, handler := range subs {
		c.subMu.Lock()
		c.subscriptions[topic] = handler
		c.subMu.Unlock()
	}

	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", c.opts.BrokerURL, err)
		return false
	}

	for topic, handler := range subs {
		if err := c.Subscribe(topic, handler); err != nil {
			log.Printf("mqtt: failed to subscribe to %s: %v", topic, err)
			return false
		}
		log.Printf("mqtt: connected and subscribed to %s", topic)
	}
	return true
}
