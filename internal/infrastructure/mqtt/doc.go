// Package mqtt provides MQTT client connectivity for the NVL bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) registration for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes decoded NVL values and its own status over MQTT;
// the broker decouples the PLC-facing side from whatever consumes the
// values (Home Assistant, Node-RED, recorders).
//
//	WAGO PLC → UDP listener → NVL bridge → MQTT Broker → Consumers
//
// This package is transport only. Topic construction and payload shapes
// belong to the bridge; the will payload is supplied by the caller at
// Connect time rather than built here.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff between configured delays
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	will := mqtt.WillMessage{Topic: "wago/nvl/bridge/status", Payload: lwt, QoS: 1, Retained: true}
//	client, err := mqtt.Connect(cfg.MQTT, will)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a decoded value
//	client.Publish("wago/nvl/climate/temperature", payload, 1, true)
//
//	// Echo everything the bridge emits (diagnostics)
//	err = client.Subscribe("wago/nvl/#", 0,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
