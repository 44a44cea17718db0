// Package influxdb provides the optional telemetry sink for the NVL bridge.
//
// It wraps the official influxdb-client-go v2 library with the bridge's
// patterns for connection management, batched writing, and health
// monitoring.
//
// # Purpose
//
// MQTT carries current values; InfluxDB keeps their history. This
// package stores:
//   - Decoded NVL variable values (nvl_values measurement)
//   - Bridge pipeline counters for dashboards (bridge_stats measurement)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "fieldforge",
//	    Bucket:  "nvl",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Historise a decoded value
//	client.WriteFieldValue("climate", "temperature", 21.5, "°C")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. A failed write never blocks or fails the
// bridge's dispatch path. Connection and health check errors are
// returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). This reduces network overhead when PLCs push values
// on short cyclic timers.
package influxdb
