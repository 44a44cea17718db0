package nvl

import (
	"fmt"
	"strings"
)

// DefaultTopicBase is the topic prefix used when none is configured.
// Matches the topic the original WAGO listener deployment published on.
const DefaultTopicBase = "wago/nvl"

// TopicScheme builds the bridge's MQTT topics under a configurable base.
// Using these helpers keeps topic naming consistent between the value
// path, the diagnostics path, and the status reporter.
//
//	scheme := TopicScheme{Base: "wago/nvl"}
//	scheme.Value("boiler", "temp")  // "wago/nvl/boiler/temp"
//	scheme.UnknownCOB(999)          // "wago/nvl/unknown_cob/999"
type TopicScheme struct {
	// Base is the topic prefix, without a trailing slash.
	Base string
}

// NewTopicScheme returns a scheme for the given base, falling back to
// DefaultTopicBase when empty. A trailing slash is trimmed.
func NewTopicScheme(base string) TopicScheme {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = DefaultTopicBase
	}
	return TopicScheme{Base: base}
}

// Value returns the topic for a decoded variable.
//
// Example: wago/nvl/boiler/temp
func (t TopicScheme) Value(group, field string) string {
	return fmt.Sprintf("%s/%s/%s", t.Base, group, field)
}

// UnknownCOB returns the diagnostic topic for an unroutable COB-ID.
//
// Example: wago/nvl/unknown_cob/999
func (t TopicScheme) UnknownCOB(cob uint16) string {
	return fmt.Sprintf("%s/unknown_cob/%d", t.Base, cob)
}

// Status returns the bridge status topic, also used as the LWT topic.
//
// Example: wago/nvl/bridge/status
func (t TopicScheme) Status() string {
	return fmt.Sprintf("%s/bridge/status", t.Base)
}

// All returns a pattern matching every topic under the base.
// Used by the optional echo subscription.
//
// Pattern: wago/nvl/#
func (t TopicScheme) All() string {
	return fmt.Sprintf("%s/#", t.Base)
}
