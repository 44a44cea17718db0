package nvl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// MQTTClient is the broker-facing surface the bridge needs.
// Satisfied by the infrastructure MQTT client; mocked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Recorder receives decoded values for long-term telemetry storage.
// Optional collaborator: a nil Recorder disables recording. BOOL
// variables are recorded as 0/1.
type Recorder interface {
	RecordValue(group, field string, value float64, unit string)
}

// BridgeConfig holds the bridge's publish behaviour.
type BridgeConfig struct {
	// TopicBase is the prefix for all published topics.
	// Default: DefaultTopicBase.
	TopicBase string

	// QoS is the quality-of-service level for all publishes.
	QoS byte

	// Retain is the default retain flag, overridable per variable.
	Retain bool

	// OnChange suppresses publishing values equal to the last
	// published value for the same variable.
	OnChange bool

	// EchoSubscribe subscribes to the whole topic base and logs every
	// message seen there at debug level. A debugging aid.
	EchoSubscribe bool

	// InstanceID identifies this bridge process in status payloads.
	InstanceID string

	// Version is reported in status payloads.
	Version string

	// HealthInterval is the period between status publishes.
	// Default: 30 seconds.
	HealthInterval time.Duration
}

// BridgeOptions carries the collaborators for NewBridge.
type BridgeOptions struct {
	// Config is the publish behaviour.
	Config BridgeConfig

	// Table is the compiled routing table. Required.
	Table Table

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Receiver is the datagram source. Required.
	Receiver Receiver

	// Recorder is the optional telemetry sink.
	Recorder Recorder

	// Logger is optional.
	Logger Logger
}

// BridgeStats holds dispatch counters.
type BridgeStats struct {
	Datagrams          uint64 `json:"datagrams"`
	DropsTooShort      uint64 `json:"drops_too_short"`
	DropsNotPDO        uint64 `json:"drops_not_pdo"`
	DropsImplausible   uint64 `json:"drops_implausible_length"`
	DropsTruncated     uint64 `json:"drops_truncated"`
	DropsChecksum      uint64 `json:"drops_checksum"`
	DropsDecode        uint64 `json:"drops_decode"`
	UnknownCOBs        uint64 `json:"unknown_cobs"`
	IdentityMismatches uint64 `json:"identity_mismatches"`
	SequenceGaps       uint64 `json:"sequence_gaps"`
	FieldsDecoded      uint64 `json:"fields_decoded"`
	Published          uint64 `json:"published"`
	Suppressed         uint64 `json:"suppressed"`
	PublishErrors      uint64 `json:"publish_errors"`
}

// seqTrack remembers the last sequence counter seen for a group.
type seqTrack struct {
	seen bool
	last uint16
}

// Bridge turns validated NVL datagrams into MQTT publishes.
//
// The whole decode path runs on the receiver's goroutine: parse,
// checksum, route, decode, cache, publish, one datagram at a time.
// The last-value cache and sequence tracking rely on that single
// consumer and carry no locks.
type Bridge struct {
	cfg    BridgeConfig
	table  Table
	mqtt   MQTTClient
	recv   Receiver
	rec    Recorder
	topics TopicScheme
	cache  *LastValueCache
	health *HealthReporter

	// lastSeq tracks sequence counters per group. Dispatch goroutine only.
	lastSeq map[uint16]*seqTrack

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	stopOnce sync.Once

	// Statistics (atomic for performance)
	datagrams          atomic.Uint64
	dropsTooShort      atomic.Uint64
	dropsNotPDO        atomic.Uint64
	dropsImplausible   atomic.Uint64
	dropsTruncated     atomic.Uint64
	dropsChecksum      atomic.Uint64
	dropsDecode        atomic.Uint64
	unknownCOBs        atomic.Uint64
	identityMismatches atomic.Uint64
	sequenceGaps       atomic.Uint64
	fieldsDecoded      atomic.Uint64
	published          atomic.Uint64
	suppressed         atomic.Uint64
	publishErrors      atomic.Uint64
}

// NewBridge creates a bridge from validated collaborators.
//
// Parameters:
//   - opts: Collaborators and publish behaviour
//
// Returns:
//   - *Bridge: Ready to Start
//   - error: If a required collaborator is missing
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if len(opts.Table) == 0 {
		return nil, errors.New("nvl: bridge requires a routing table")
	}
	if opts.MQTT == nil {
		return nil, errors.New("nvl: bridge requires an MQTT client")
	}
	if opts.Receiver == nil {
		return nil, errors.New("nvl: bridge requires a datagram receiver")
	}

	cfg := opts.Config
	if cfg.TopicBase == "" {
		cfg.TopicBase = DefaultTopicBase
	}

	b := &Bridge{
		cfg:     cfg,
		table:   opts.Table,
		mqtt:    opts.MQTT,
		recv:    opts.Receiver,
		rec:     opts.Recorder,
		topics:  NewTopicScheme(cfg.TopicBase),
		cache:   NewLastValueCache(opts.Table),
		lastSeq: make(map[uint16]*seqTrack, len(opts.Table)),
		logger:  opts.Logger,
	}

	for cob := range opts.Table {
		b.lastSeq[cob] = &seqTrack{}
	}

	b.health = NewHealthReporter(HealthOptions{
		InstanceID: cfg.InstanceID,
		Version:    cfg.Version,
		Interval:   cfg.HealthInterval,
		Topics:     b.topics,
		QoS:        cfg.QoS,
		Publisher:  opts.MQTT,
		Receiver:   opts.Receiver,
		Dispatch:   b,
		Groups:     len(opts.Table),
		Logger:     opts.Logger,
	})

	return b, nil
}

// Start attaches the bridge to its receiver and begins reporting health.
//
// The context bounds background reporting, not the dispatch path: the
// receiver keeps delivering datagrams until it is closed.
//
// Parameters:
//   - ctx: Cancels background reporting on shutdown
//
// Returns:
//   - error: If the optional echo subscription cannot be established
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("starting status publish failed", "error", err)
	}

	if b.cfg.EchoSubscribe {
		if err := b.mqtt.Subscribe(b.topics.All(), b.cfg.QoS, b.handleEcho); err != nil {
			return fmt.Errorf("echo subscription: %w", err)
		}
		b.logInfo("echo subscription active", "topic", b.topics.All())
	}

	b.recv.SetOnDatagram(b.handleDatagram)
	b.health.Start(ctx)

	b.logInfo("bridge started",
		"groups", len(b.table),
		"topic_base", b.topics.Base,
		"on_change", b.cfg.OnChange)
	return nil
}

// Stop detaches the bridge and publishes a final status.
//
// The receiver and broker client are owned by the caller and stay open;
// close the receiver first so no datagram arrives mid-teardown. Safe to
// call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.recv.SetOnDatagram(nil)
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// PublishHealth publishes a status document immediately, outside the
// periodic schedule. Callers hook this to broker reconnects so the
// retained status is refreshed as soon as the connection returns.
//
// Returns:
//   - error: If the status publish fails
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

// handleDatagram runs the decode pipeline for one datagram.
// Runs on the receiver's goroutine; see the type comment for ordering.
func (b *Bridge) handleDatagram(data []byte, from net.Addr) {
	b.datagrams.Add(1)

	hdr, err := ParseHeader(data)
	if err != nil {
		b.dropDatagram(hdr, err, from, len(data))
		return
	}

	if !hdr.IdentityOK() {
		b.identityMismatches.Add(1)
		b.logDebug("identity marker mismatch",
			"identity", fmt.Sprintf("% X", hdr.Identity[:]),
			"cob_id", hdr.COBID,
			"from", addrString(from))
	}

	if err := VerifyChecksum(data, int(hdr.Length), hdr.Flags, hdr.Checksum); err != nil {
		b.dropsChecksum.Add(1)
		b.logWarn("checksum mismatch, datagram dropped",
			"cob_id", hdr.COBID,
			"counter", hdr.Counter,
			"from", addrString(from),
			"error", err)
		return
	}

	group, ok := b.table[hdr.COBID]
	if !ok {
		b.publishUnknownCOB(hdr, data, from)
		return
	}

	b.trackSequence(group, hdr.Counter)

	if int(hdr.Items) != len(group.Fields) {
		// Advisory, like the identity marker: the schema's variable
		// list is authoritative for decoding.
		b.logDebug("item count differs from schema",
			"group", group.Name,
			"declared", hdr.Items,
			"schema", len(group.Fields))
	}

	values, err := DecodeFields(data[:hdr.Length], group)
	if err != nil {
		b.dropsDecode.Add(1)
		b.logWarn("decode failed, datagram dropped",
			"group", group.Name,
			"cob_id", hdr.COBID,
			"error", err)
		return
	}

	b.publishValues(group, values)
}

// dropDatagram counts and logs a header-level drop.
func (b *Bridge) dropDatagram(hdr Header, err error, from net.Addr, size int) {
	switch {
	case errors.Is(err, ErrNotProcessData):
		// Routine on a shared bus segment; other message types are not ours.
		b.dropsNotPDO.Add(1)
		b.logDebug("non-PDO datagram dropped", "msg_type", hdr.MsgType, "from", addrString(from))
	case errors.Is(err, ErrPacketTooShort):
		b.dropsTooShort.Add(1)
		b.logWarn("short datagram dropped", "bytes", size, "from", addrString(from))
	case errors.Is(err, ErrImplausibleLength):
		b.dropsImplausible.Add(1)
		b.logWarn("implausible length, datagram dropped",
			"declared", hdr.Length, "cob_id", hdr.COBID, "from", addrString(from))
	case errors.Is(err, ErrTruncatedPacket):
		b.dropsTruncated.Add(1)
		b.logWarn("truncated datagram dropped",
			"declared", hdr.Length, "received", size, "cob_id", hdr.COBID, "from", addrString(from))
	default:
		b.logWarn("datagram dropped", "error", err, "from", addrString(from))
	}
}

// trackSequence watches the group's sequence counter for gaps.
// Advisory only: senders wrap at 65535 and restart at whim.
func (b *Bridge) trackSequence(g *Group, counter uint16) {
	track := b.lastSeq[g.COBID]
	if track == nil {
		return
	}

	if track.seen {
		if delta := counter - track.last; delta > 1 {
			b.sequenceGaps.Add(1)
			b.logDebug("sequence gap",
				"group", g.Name,
				"from_counter", track.last,
				"to_counter", counter,
				"missed", delta-1)
		}
	}

	track.seen = true
	track.last = counter
}

// publishValues caches, filters, and publishes one datagram's values.
//
// The cache is updated for every value regardless of suppression or
// publish outcome, so change detection reflects what was decoded, not
// what the broker accepted. Publish failures are logged and swallowed:
// delivery to the bus is at-most-once and gaps during broker outages
// are expected.
func (b *Bridge) publishValues(g *Group, values []any) {
	for i, f := range g.Fields {
		value := values[i]
		b.fieldsDecoded.Add(1)

		changed := b.cache.Update(g.COBID, i, value)
		if b.cfg.OnChange && !changed {
			b.suppressed.Add(1)
			continue
		}

		payload, err := json.Marshal(ValueMessage{
			Value:       value,
			Unit:        f.Unit,
			DeviceClass: f.DeviceClass,
		})
		if err != nil {
			// NaN and infinities have no JSON encoding. The cache still
			// holds the value, so recovery publishes as a change.
			b.publishErrors.Add(1)
			b.logDebug("value not representable as JSON",
				"group", g.Name, "variable", f.Name, "error", err)
			continue
		}

		topic := f.Topic
		if topic == "" {
			topic = b.topics.Value(g.Topic, f.Name)
		}

		retain := b.cfg.Retain
		if f.Retain != nil {
			retain = *f.Retain
		}

		if err := b.mqtt.Publish(topic, payload, b.cfg.QoS, retain); err != nil {
			b.publishErrors.Add(1)
			b.logWarn("publish failed",
				"topic", topic, "group", g.Name, "variable", f.Name, "error", err)
		} else {
			b.published.Add(1)
		}

		b.record(g, f, value)
	}
}

// record forwards a value to the optional telemetry sink.
func (b *Bridge) record(g *Group, f Field, value any) {
	if b.rec == nil {
		return
	}

	switch v := value.(type) {
	case float64:
		b.rec.RecordValue(g.Name, f.Name, v, f.Unit)
	case bool:
		n := 0.0
		if v {
			n = 1.0
		}
		b.rec.RecordValue(g.Name, f.Name, n, f.Unit)
	}
}

// publishUnknownCOB publishes the diagnostic record for an unroutable
// datagram. Diagnostics are never retained; a stale unknown-COB record
// outliving a schema fix would only mislead.
func (b *Bridge) publishUnknownCOB(hdr Header, data []byte, from net.Addr) {
	b.unknownCOBs.Add(1)

	msg := NewUnknownCOBMessage(hdr, data, addrString(from))
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal unknown-COB diagnostic failed", err)
		return
	}

	topic := b.topics.UnknownCOB(hdr.COBID)
	if err := b.mqtt.Publish(topic, payload, b.cfg.QoS, false); err != nil {
		b.publishErrors.Add(1)
		b.logWarn("unknown-COB publish failed", "topic", topic, "error", err)
	}

	b.logDebug("unknown COB-ID",
		"cob_id", hdr.COBID,
		"len", hdr.Length,
		"counter", hdr.Counter,
		"from", addrString(from))
}

// handleEcho logs a message seen on the bridge's own topic tree.
func (b *Bridge) handleEcho(topic string, payload []byte) {
	b.logDebug("bus message", "topic", topic, "bytes", len(payload))
}

// Stats returns current dispatch counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Datagrams:          b.datagrams.Load(),
		DropsTooShort:      b.dropsTooShort.Load(),
		DropsNotPDO:        b.dropsNotPDO.Load(),
		DropsImplausible:   b.dropsImplausible.Load(),
		DropsTruncated:     b.dropsTruncated.Load(),
		DropsChecksum:      b.dropsChecksum.Load(),
		DropsDecode:        b.dropsDecode.Load(),
		UnknownCOBs:        b.unknownCOBs.Load(),
		IdentityMismatches: b.identityMismatches.Load(),
		SequenceGaps:       b.sequenceGaps.Load(),
		FieldsDecoded:      b.fieldsDecoded.Load(),
		Published:          b.published.Load(),
		Suppressed:         b.suppressed.Load(),
		PublishErrors:      b.publishErrors.Load(),
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// addrString renders a sender address for logs and diagnostics.
func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
