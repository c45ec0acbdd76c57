package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/events"
)

const (
	clientIDPrefix = "thermo-bridge-"
	statusOnline   = "online"
	statusOffline  = "offline"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("MQTT client not connected")

// Config for the MQTT publisher.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Broker address, e.g. "tcp://localhost:1883".
	Broker   string `mapstructure:"broker"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ClientID is derived from the machine id when empty.
	ClientID string `mapstructure:"client_id"`
	// Readings go to <DataTopic>/<event>.
	DataTopic string `mapstructure:"data_topic"`
	// StatusTopic carries a retained online/offline flag.
	StatusTopic    string        `mapstructure:"status_topic"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      int           `mapstructure:"keep_alive"` // seconds
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	// Encoding is json or cbor.
	Encoding string `mapstructure:"encoding"`
	// Source names the device in every message.
	Source string `mapstructure:"source"`
	// Buffer is the bus subscription capacity. Events arriving while it is
	// full are dropped by the bus.
	Buffer int `mapstructure:"buffer"`
}

// generateClientID derives a stable id from the machine id, falling back
// to random hex.
func generateClientID() string {
	if id, err := machineid.ProtectedID("thermo-bridge"); err == nil && len(id) >= 12 {
		return clientIDPrefix + id[:12]
	}
	b := make([]byte, 4)
	rand.Read(b)
	return clientIDPrefix + hex.EncodeToString(b)
}

// DefaultConfig returns the publisher defaults. The publisher is disabled
// unless configured.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		DataTopic:      "thermo/telemetry",
		StatusTopic:    "thermo/status",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
		AutoReconnect:  true,
		Encoding:       EncodingJSON,
		Buffer:         64,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if c.DataTopic == "" {
		return errors.New("mqtt data topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.QoS)
	}
	if _, err := NewCodec(c.Encoding); err != nil {
		return err
	}
	if c.Buffer < 0 {
		return fmt.Errorf("negative mqtt buffer %d", c.Buffer)
	}
	return nil
}

// TelemetryMessage is the broker payload for one reading.
type TelemetryMessage struct {
	ID        uuid.UUID          `json:"id" cbor:"id"`
	Event     string             `json:"event" cbor:"event"`
	Source    string             `json:"source,omitempty" cbor:"source,omitempty"`
	Channels  map[string]float64 `json:"channels" cbor:"channels"`
	Timestamp time.Time          `json:"timestamp" cbor:"timestamp"`
}

// Client publishes bus events to an MQTT broker. Broker round trips run on
// its own goroutine, so a slow broker costs bus drops, never a stalled
// producer of events.
type Client struct {
	config     Config
	codec      Codec
	bus        *events.Bus
	sub        *events.Subscription
	mqttClient mqttLib.Client
	newClient  func(*mqttLib.ClientOptions) mqttLib.Client
	mu         sync.Mutex
	logger     *log.Logger
	now        func() time.Time
	published  uint64
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(f func(*mqttLib.ClientOptions) mqttLib.Client) Option {
	return func(c *Client) {
		c.newClient = f
	}
}

// NewClient validates config and prepares the client; Start connects.
// With a nil bus the client only publishes through Publish.
func NewClient(config Config, bus *events.Bus, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	codec, err := NewCodec(config.Encoding)
	if err != nil {
		return nil, err
	}
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	if config.Buffer == 0 {
		config.Buffer = DefaultConfig().Buffer
	}

	c := &Client{
		config:    config,
		codec:     codec,
		bus:       bus,
		newClient: mqttLib.NewClient,
		logger:    log.New(os.Stdout, "[MQTT-Client] ", log.LstdFlags|log.Lshortfile),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Options builds the paho options for the configured broker.
func (c *Client) Options() *mqttLib.ClientOptions {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(c.config.AutoReconnect)

	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		c.logger.Println("MQTT authentication: ENABLED")
	} else {
		c.logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	if c.config.StatusTopic != "" {
		opts.SetWill(c.config.StatusTopic, statusOffline, c.config.QoS, true)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.onConnectionLostHandler)
	opts.SetReconnectingHandler(c.onReconnectingHandler)
	return opts
}

// Start connects to the broker.
func (c *Client) Start() error {
	c.logger.Printf("Starting MQTT client, broker: %s, client id: %s", c.config.Broker, c.config.ClientID)

	client := c.newClient(c.Options())
	c.mu.Lock()
	c.mqttClient = client
	c.mu.Unlock()

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	if c.bus != nil {
		c.sub = c.bus.Subscribe(c.config.Buffer)
		c.wg.Add(1)
		go c.publishLoop(c.sub)
	}

	c.logger.Println("MQTT client started successfully")
	return nil
}

// Stop ends the publish loop, marks the bridge offline and disconnects.
func (c *Client) Stop() error {
	c.logger.Println("Stopping MQTT client...")

	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.sub != nil {
			c.sub.Close()
		}
	})
	c.wg.Wait()

	client := c.client()
	if client == nil || !client.IsConnected() {
		return nil
	}
	if err := c.publishStatus(client, statusOffline); err != nil {
		c.logger.Printf("Failed to publish offline status: %v", err)
	}
	client.Disconnect(1000)
	c.logger.Println("MQTT client disconnected")
	return nil
}

// publishLoop forwards bus events to the broker until Stop.
func (c *Client) publishLoop(sub *events.Subscription) {
	defer c.wg.Done()
	c.logger.Println("Starting telemetry publish loop")

	for {
		select {
		case <-c.stopChan:
			c.logger.Println("Telemetry publish loop stopped")
			return
		case ev, ok := <-sub.C():
			if !ok {
				c.logger.Println("Bus subscription closed")
				return
			}
			if err := c.Publish(ev.Name, ev.Reading); err != nil {
				c.logger.Printf("Failed to publish telemetry #%d: %v", ev.Seq, err)
			}
		}
	}
}

func (c *Client) client() mqttLib.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mqttClient
}

func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Println("Connected to MQTT broker")
	if err := c.publishStatus(client, statusOnline); err != nil {
		c.logger.Printf("Failed to publish online status: %v", err)
	}
}

func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Printf("Connection lost: %v", err)
}

func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Println("Attempting to reconnect to MQTT broker...")
}

func (c *Client) publishStatus(client mqttLib.Client, status string) error {
	if c.config.StatusTopic == "" {
		return nil
	}
	token := client.Publish(c.config.StatusTopic, c.config.QoS, true, status)
	return c.await(token, c.config.StatusTopic)
}

func (c *Client) await(token mqttLib.Token, topic string) error {
	if c.config.PublishTimeout > 0 {
		if !token.WaitTimeout(c.config.PublishTimeout) {
			return fmt.Errorf("timed out publishing to topic %s", topic)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// NewMessage builds the broker payload for a reading.
func (c *Client) NewMessage(event string, r common.Reading) TelemetryMessage {
	return TelemetryMessage{
		ID:        uuid.New(),
		Event:     event,
		Source:    c.config.Source,
		Channels:  r.Floats(),
		Timestamp: c.now().UTC(),
	}
}

// Topic returns the data topic for an event.
func (c *Client) Topic(event string) string {
	return fmt.Sprintf("%s/%s", c.config.DataTopic, event)
}

// Publish sends one reading to <data_topic>/<event>.
func (c *Client) Publish(event string, r common.Reading) error {
	client := c.client()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	msg := c.NewMessage(event, r)
	payload, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry message: %w", err)
	}

	topic := c.Topic(event)
	if err := c.await(client.Publish(topic, c.config.QoS, false, payload), topic); err != nil {
		return err
	}

	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	return nil
}

// IsConnected returns true if the client is connected to the broker.
func (c *Client) IsConnected() bool {
	client := c.client()
	return client != nil && client.IsConnected()
}

// Published returns the number of readings delivered to the broker.
func (c *Client) Published() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}
