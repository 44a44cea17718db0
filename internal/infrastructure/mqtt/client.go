package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldforge/nvlbridge/internal/infrastructure/config"
)

// Client is the bridge's broker connection, wrapping paho.mqtt.golang.
//
// It owns connection state, reconnection with backoff, and the tracked
// subscription set that is re-established after every reconnect. All
// methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions is restored on every reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected mirrors the broker link state.
	connected bool
	connMu    sync.RWMutex

	// Connection event callbacks, optional.
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger receives handler errors and recovered panics, optional.
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging surface this package needs.
// Satisfied by logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription is one tracked topic/handler pair.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one delivered message. Paho invokes handlers
// on its own goroutines; blocking here stalls delivery. The returned
// error is logged and otherwise ignored, it never affects broker-side
// acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and blocks until the first
// connection succeeds or times out.
//
// The will (if its topic is non-empty) is registered with the broker
// before dialing, so an unclean exit is announced even if the bridge
// never gets to publish a status itself. Auto-reconnect with backoff is
// enabled; after every reconnect the tracked subscriptions are restored.
//
// Parameters:
//   - cfg: broker address, credentials, TLS and keepalive settings
//   - will: Last Will registration; an empty topic disables it
//
// Returns:
//   - *Client: connected client ready for use
//   - error: wrapped ErrConnectionFailed if the first dial fails
func Connect(cfg config.MQTTConfig, will WillMessage) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureWill(opts, will)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Paho fires OnConnectHandler asynchronously; mark connected here so
	// IsConnected is true the moment Connect returns. The handler still
	// runs and takes care of subscription restoration.
	c.setConnected(true)

	return c, nil
}

// handleConnect runs on initial connect and on every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect runs when paho reports the link lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(state bool) {
	c.connMu.Lock()
	c.connected = state
	c.connMu.Unlock()
}

// restoreSubscriptions replays every tracked subscription. Errors are
// ignored here; a failed replay is retried on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// The bridge publishes its own final status before tearing the client
// down, so no farewell is published here; the registered will stays
// unused because this disconnect is clean.
//
// Returns:
//   - error: Always nil; closing a never-connected client is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	// Quiesce so in-flight publishes drain before the socket closes.
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)

	return nil
}

// HealthCheck reports whether the broker link is up. It honours ctx
// cancellation but performs no network round-trip of its own.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the broker link is currently up. Both the
// tracked state and paho's own view are consulted so a lost connection
// reads false promptly even before the lost-connection handler runs.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback fired on initial connect and on
// every reconnect, after subscriptions have been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback fired when the link drops; err
// carries paho's reason.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger attaches a logger for handler errors and recovered panics.
// Without one, both are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho's callback shape, adding
// panic recovery so a broken handler cannot kill paho's delivery
// goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
