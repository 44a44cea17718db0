// Package nvl implements the CODESYS network variable list bridge.
//
// This package receives NVL broadcast datagrams from PLC controllers
// (WAGO 750 series and other CODESYS 2.x targets) over UDP, decodes them
// against a configured schema, and republishes the values over MQTT.
//
// # Architecture
//
// The bridge is a one-way translator from the fieldbus to the broker:
//
//	┌─────────────────┐   UDP    ┌─────────────────┐   MQTT
//	│  PLC (CODESYS)  │─────────►│   NVL Bridge    │─────────► Broker
//	│  NVL broadcast  │          │   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// One datagram flows through the pipeline in strict sequence:
//
//	ParseHeader → VerifyChecksum → routing lookup → DecodeFields
//	            → LastValueCache → Publish
//
// # Key Responsibilities
//
//   - Bind the UDP socket and read NVL broadcast datagrams
//   - Validate the fixed 20-byte header and additive checksum
//   - Route datagrams to message groups by COB-ID
//   - Decode IEC 61131-3 scalar variables with byte order, scale and
//     rounding rules
//   - Suppress unchanged values when on-change publishing is enabled
//   - Publish diagnostics for unroutable COB-IDs
//   - Publish health status and counters
//
// # Schema
//
// Datagram payloads are opaque without a schema: a list of message
// groups, each keyed by COB-ID with an ordered variable list. Schemas
// load from YAML and compile into a routing table at startup:
//
//	table, err := nvl.CompileSchema(groups, nvl.SchemaDefaults{})
//	if err != nil {
//	    return err // every violation, in one error
//	}
//
// # Concurrency
//
// The decode path is deliberately single-threaded: the UDP receive loop
// dispatches each datagram synchronously, so the decode pipeline, the
// last-value cache and sequence tracking run without locks. Status
// reporting runs on its own goroutine and touches only atomic counters.
//
// # References
//
//   - CODESYS network variables: 3S-Smart Software Solutions, CoDeSys 2.3
//     network functionality documentation
//   - WAGO 750 series controllers: https://www.wago.com
package nvl
