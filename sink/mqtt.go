// Package sink holds the observers that consume optimization events:
// MQTT publishing, Postgres run records, debug renderings, an in-memory run
// tracker and Prometheus metrics.
package sink

import (
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
)

// Connection owns the broker connection used by the Publisher.
type Connection struct {
	client      mqtt.Client
	log         logger.ILogger
	isConnected bool
	mu          sync.RWMutex
}

// ConnectMQTT builds a client for the configured broker and connects in the
// background. MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME and MQTT_PASSWORD
// override the config. An empty broker disables MQTT and returns nil.
func ConnectMQTT(cfg field.MQTTConfig, log logger.ILogger) *Connection {
	if log == nil {
		log = logger.NullLogger{}
	}

	broker := envOr("MQTT_BROKER", cfg.Broker)
	if broker == "" {
		log.Infof("MQTT disabled: no broker configured")
		return nil
	}

	c := &Connection{log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", cfg.ClientID, "tmifield"))
	if username := envOr("MQTT_USERNAME", cfg.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", cfg.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return c
}

// Client returns the underlying client, nil for a nil connection.
func (c *Connection) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func (c *Connection) connectWithRetry() {
	retryDelay := time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.log.Infof("Connecting to MQTT broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Infof("Connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.log.Warnf("MQTT connection failed: %v", token.Error())
		} else {
			c.log.Warnf("MQTT connection timeout")
		}

		c.log.Infof("Retrying MQTT connection in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (c *Connection) onConnect(mqtt.Client) {
	c.log.Infof("MQTT connected")
	c.setConnected(true)
}

func (c *Connection) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warnf("MQTT connection lost: %v", err)
	c.setConnected(false)
}

func (c *Connection) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.log.Infof("MQTT reconnecting...")
}

// IsConnected reports the last known connection state.
func (c *Connection) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *Connection) setConnected(v bool) {
	c.mu.Lock()
	c.isConnected = v
	c.mu.Unlock()
}

// Disconnect closes the broker connection.
func (c *Connection) Disconnect() {
	if c == nil || c.client == nil {
		return
	}
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Infof("Disconnected from MQTT broker")
	}
	c.setConnected(false)
}

// envOr returns the environment variable key if set, otherwise the first
// non-empty fallback.
func envOr(key string, fallbacks ...string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	for _, v := range fallbacks {
		if v != "" {
			return v
		}
	}
	return ""
}
