package influxdb

import "errors"

// Sentinel errors for the telemetry sink, matched with errors.Is.
var (
	// ErrNotConnected: the client holds no verified InfluxDB connection.
	// Writes against a disconnected client are silently discarded
	// instead, so this surfaces only from health checks.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed: the startup ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled: influxdb.enabled is false; the bridge runs MQTT-only.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
