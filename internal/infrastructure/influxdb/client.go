package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fieldforge/nvlbridge/internal/infrastructure/config"
)

// Timeouts and batching fallbacks for the sink.
const (
	// connectTimeout bounds the startup connectivity ping.
	connectTimeout = 10 * time.Second

	// pingTimeout bounds health-check pings after startup.
	pingTimeout = 5 * time.Second

	// defaultBatchSize is used when config leaves batch_size unset.
	defaultBatchSize = 100

	// defaultFlushSeconds is used when config leaves flush_interval unset.
	defaultFlushSeconds = 10

	// millisPerSecond converts the configured flush seconds to the
	// milliseconds the InfluxDB options API wants.
	millisPerSecond = 1000
)

// Client is the bridge's telemetry sink, wrapping the InfluxDB v2 API.
//
// The sink is optional: with influxdb.enabled false the bridge never
// constructs one and runs MQTT-only. Writes go through the non-blocking
// batched WriteAPI, so the decode path hands off points without waiting
// on the network; write failures surface asynchronously through the
// SetOnError callback.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected bool
	mu        sync.RWMutex

	// onError receives async write failures.
	onError func(err error)
}

// Connect builds the sink and verifies the server is reachable.
//
// The client authenticates with the configured token, pings the server
// (bounded by ctx and a 10-second cap), and wires the batched write API
// with the configured batch size and flush interval. A failed ping is
// fatal: a sink that was never reachable is a config problem, unlike a
// sink that drops out later.
//
// Parameters:
//   - ctx: Bounds the connectivity ping
//   - cfg: The influxdb configuration section
//
// Returns:
//   - *Client: Verified sink ready for writes
//   - error: ErrDisabled if the section is disabled, or a wrapped
//     ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushSeconds
	}

	// #nosec G115 -- both values forced positive above
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushSeconds)*millisPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	go c.forwardWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// forwardWriteErrors drains the WriteAPI error channel into the
// optional callback. The channel closes when the client closes.
func (c *Client) forwardWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending points and shuts the sink down.
//
// Returns:
//   - error: Always nil; the underlying client's Close has no error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()

	return nil
}

// HealthCheck pings the server to verify the sink is still reachable.
//
// Parameters:
//   - ctx: Bounds the ping together with a 5-second cap
//
// Returns:
//   - error: nil when healthy, ErrNotConnected or a ping error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected reports the last known connection state. It does not
// probe the server; HealthCheck does.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers a callback for asynchronous write failures.
// Without one, failed writes are dropped silently.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush pushes all buffered points to the server, blocking until done.
// A no-op on a closed or never-connected client.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}

	c.writeAPI.Flush()
}
