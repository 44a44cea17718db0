package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteFieldValue records one decoded NVL variable.
//
// This is the primary method for historising plant telemetry. The write
// is non-blocking; data is batched and sent asynchronously. Booleans
// arrive here already widened to 0/1 by the bridge.
//
// Points land in the nvl_values measurement, tagged by group and field
// so Flux queries can filter per variable. The unit tag is attached only
// when the schema declares one.
//
// Parameters:
//   - group: The message group name (e.g., "climate")
//   - field: The variable name within the group (e.g., "temperature")
//   - value: The scaled numeric value
//   - unit: Unit of measurement from the schema ("" for unitless)
//
// Example:
//
//	client.WriteFieldValue("climate", "temperature", 21.5, "°C")
//	client.WriteFieldValue("plant_io", "pump_running", 1, "")
func (c *Client) WriteFieldValue(group string, field string, value float64, unit string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"group": group,
		"field": field,
	}
	if unit != "" {
		tags["unit"] = unit
	}

	point := write.NewPoint(
		"nvl_values",
		tags,
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBridgeStats records a snapshot of the bridge's pipeline counters.
//
// Counters are cumulative since process start; rate and drop-ratio
// panels derive deltas downstream. One point per snapshot keeps the
// counters aligned on a single timestamp.
//
// Parameters:
//   - instanceID: The bridge instance the snapshot belongs to
//   - counters: Counter name to cumulative count
func (c *Client) WriteBridgeStats(instanceID string, counters map[string]uint64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(counters))
	for name, count := range counters {
		fields[name] = count
	}

	point := write.NewPoint(
		"bridge_stats",
		map[string]string{
			"instance": instanceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("listener_stats",
//	    map[string]string{"instance": "bridge-01"},
//	    map[string]interface{}{"datagrams_rx": 1042, "read_timeouts": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
