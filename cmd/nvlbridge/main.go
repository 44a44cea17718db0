// NVL Bridge - WAGO network variable lists to MQTT
//
// This is the main entry point for the NVL bridge. The bridge listens
// for NVL datagrams broadcast by CODESYS/WAGO controllers, decodes them
// against a variable schema, and publishes the values to MQTT for
// Home Assistant, Node-RED, and similar consumers. Values can optionally
// be historised into InfluxDB.
//
// For the wire format and schema reference, see: docs/protocol.md
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fieldforge/nvlbridge/internal/bridges/nvl"
	"github.com/fieldforge/nvlbridge/internal/infrastructure/config"
	"github.com/fieldforge/nvlbridge/internal/infrastructure/influxdb"
	"github.com/fieldforge/nvlbridge/internal/infrastructure/logging"
	"github.com/fieldforge/nvlbridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// instanceIDLength is the number of UUID characters kept for generated
// instance identifiers.
const instanceIDLength = 8

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NVL bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Compile the variable schema before touching the network so a broken
	// schema fails fast with every violation listed.
	table, listenPort, err := loadSchema(cfg, log)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	// Resolve the instance identity reported in status payloads
	instanceID := cfg.NVL.InstanceID
	if instanceID == "" {
		instanceID = "nvlbridge-" + uuid.NewString()[:instanceIDLength]
	}
	log.Info("instance identity resolved", "instance_id", instanceID)

	// Register a Last Will on the status topic so consumers learn about
	// an unclean death from the broker itself
	topics := nvl.NewTopicScheme(cfg.MQTT.TopicBase)
	lwtPayload, err := json.Marshal(nvl.NewLWTMessage(instanceID, version))
	if err != nil {
		return fmt.Errorf("building will payload: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WillMessage{
		Topic:    topics.Status(),
		Payload:  lwtPayload,
		QoS:      byte(cfg.MQTT.QoS),
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var recorder nvl.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		recorder = &influxRecorder{client: influxClient}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the UDP listener and decode bridge
	bridge, listener, err := startBridge(ctx, cfg, table, listenPort, mqttClient, recorder, instanceID, log)
	if err != nil {
		return fmt.Errorf("starting NVL bridge: %w", err)
	}
	defer func() {
		log.Info("stopping NVL bridge")
		// Close the receiver before stopping the bridge so no datagram
		// arrives mid-teardown; the final status publish still finds
		// the broker connected.
		if closeErr := listener.Close(); closeErr != nil {
			log.Error("error closing UDP listener", "error", closeErr)
		}
		bridge.Stop()
	}()

	// Refresh the retained status as soon as a lost broker connection
	// returns; the periodic reporter would otherwise leave the LWT
	// payload standing until its next tick
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if pubErr := bridge.PublishHealth(); pubErr != nil {
			log.Warn("status refresh after reconnect failed", "error", pubErr)
		}
	})

	// Verify all connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Snapshot pipeline counters into InfluxDB alongside the values
	if influxClient != nil {
		go recordStats(ctx, influxClient, bridge, listener, instanceID, cfg.NVL.GetHealthInterval())
		log.Info("stats recording started", "interval", cfg.NVL.GetHealthInterval())
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Listener, then bridge (final status publish)
	// 2. InfluxDB (if enabled)
	// 3. MQTT

	log.Info("NVL bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NVLBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NVLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadSchema compiles the routing table from the configured source.
//
// The schema comes either from an external schema file or from inline
// config; the two are mutually exclusive (validated at config load). A
// schema file may carry its own listen port, which overrides
// listener.port so one document can describe the whole PLC contract.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - nvl.Table: Compiled routing table
//   - int: Effective UDP listen port
//   - error: If the schema cannot be loaded or compiled
func loadSchema(cfg *config.Config, log *logging.Logger) (nvl.Table, int, error) {
	defaults := nvl.SchemaDefaults{
		ByteOrder:   cfg.NVL.ByteOrder,
		HeaderBytes: cfg.NVL.HeaderBytes,
	}
	port := cfg.Listener.Port

	if cfg.NVL.SchemaFile != "" {
		sf, err := nvl.LoadSchemaFile(cfg.NVL.SchemaFile)
		if err != nil {
			return nil, 0, fmt.Errorf("reading schema file: %w", err)
		}
		if sf.Port != 0 {
			port = sf.Port
		}

		table, err := nvl.CompileSchema(sf.NVLs, defaults)
		if err != nil {
			return nil, 0, err
		}
		log.Info("schema compiled",
			"source", cfg.NVL.SchemaFile,
			"groups", len(table),
			"port", port,
		)
		return table, port, nil
	}

	table, err := nvl.CompileSchema(cfg.NVL.NVLs, defaults)
	if err != nil {
		return nil, 0, err
	}
	log.Info("schema compiled", "source", "inline", "groups", len(table), "port", port)
	return table, port, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Listener health is verified during startBridge - Listen() binds
	// the socket and starts the read loop before returning successfully.

	return nil
}

// startBridge binds the UDP listener and starts the decode bridge.
//
// On any failure after the socket is bound, the listener is closed
// before returning so the port is released.
//
// Parameters:
//   - ctx: Context bounding the bridge's background reporting
//   - cfg: Application configuration
//   - table: Compiled routing table
//   - port: Effective UDP listen port
//   - mqttClient: MQTT client for publishing/subscribing
//   - recorder: Optional telemetry sink (nil when InfluxDB is disabled)
//   - instanceID: Instance identity for status payloads
//   - log: Logger instance
//
// Returns:
//   - *nvl.Bridge: Running bridge
//   - *nvl.UDPListener: Bound listener feeding the bridge
//   - error: If the listener or bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, table nvl.Table, port int, mqttClient *mqtt.Client, recorder nvl.Recorder, instanceID string, log *logging.Logger) (*nvl.Bridge, *nvl.UDPListener, error) {
	listener, err := nvl.Listen(nvl.ListenerConfig{
		Bind:        cfg.Listener.Bind,
		Port:        port,
		ReadTimeout: cfg.Listener.GetReadTimeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("starting UDP listener: %w", err)
	}
	log.Info("UDP listener started", "addr", listener.LocalAddr().String())

	// Create MQTT adapter to satisfy the bridge's client interface
	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	bridge, err := nvl.NewBridge(nvl.BridgeOptions{
		Config: nvl.BridgeConfig{
			TopicBase:      cfg.MQTT.TopicBase,
			QoS:            byte(cfg.MQTT.QoS),
			Retain:         cfg.MQTT.Retain,
			OnChange:       cfg.NVL.OnChange,
			EchoSubscribe:  cfg.NVL.EchoSubscribe,
			InstanceID:     instanceID,
			Version:        version,
			HealthInterval: cfg.NVL.GetHealthInterval(),
		},
		Table:    table,
		MQTT:     mqttAdapter,
		Receiver: listener,
		Recorder: recorder,
		Logger:   log,
	})
	if err != nil {
		// Release the port on error
		_ = listener.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		_ = listener.Close()
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("NVL bridge started")

	return bridge, listener, nil
}

// recordStats periodically snapshots pipeline counters into InfluxDB.
//
// Counters are cumulative; dashboards derive rates downstream. The loop
// exits when the context is cancelled.
func recordStats(ctx context.Context, sink *influxdb.Client, bridge *nvl.Bridge, listener *nvl.UDPListener, instanceID string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := bridge.Stats()
			ls := listener.Stats()
			sink.WriteBridgeStats(instanceID, map[string]uint64{
				"datagrams":                s.Datagrams,
				"drops_too_short":          s.DropsTooShort,
				"drops_not_pdo":            s.DropsNotPDO,
				"drops_implausible_length": s.DropsImplausible,
				"drops_truncated":          s.DropsTruncated,
				"drops_checksum":           s.DropsChecksum,
				"drops_decode":             s.DropsDecode,
				"unknown_cobs":             s.UnknownCOBs,
				"identity_mismatches":      s.IdentityMismatches,
				"sequence_gaps":            s.SequenceGaps,
				"fields_decoded":           s.FieldsDecoded,
				"published":                s.Published,
				"suppressed":               s.Suppressed,
				"publish_errors":           s.PublishErrors,
				"listener_datagrams_rx":    ls.DatagramsRx,
				"listener_bytes_rx":        ls.BytesRx,
				"listener_read_errors":     ls.ReadErrors,
			})
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements nvl.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements nvl.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements nvl.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// influxRecorder adapts the InfluxDB client to the bridge's Recorder
// interface so decoded values are historised as they publish.
type influxRecorder struct {
	client *influxdb.Client
}

// RecordValue implements nvl.Recorder.
func (r *influxRecorder) RecordValue(group, field string, value float64, unit string) {
	r.client.WriteFieldValue(group, field, value, unit)
}
