// Package config loads and validates the bridge's configuration.
//
// Loading is a three-layer overlay resolved once at startup: hardcoded
// defaults, then the YAML file, then NVLBRIDGE_* environment variables.
// Validation collects every violation into a single error so a broken
// file surfaces all its problems on the first run.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err // lists every problem at once
//	}
//
// The NVL schema section is only shape-checked here; compiling and
// validating the message groups belongs to the nvl package, which owns
// the format.
//
// Secrets (the MQTT password and the InfluxDB token) belong in the
// environment, not the file. String() and MarshalJSON render the loaded
// document with secrets masked, so passing the whole config to the
// structured logger is safe.
package config
