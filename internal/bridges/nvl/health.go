package nvl

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is how often status is published when no
// interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the broker surface the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DispatchSource provides dispatch counters for status documents.
type DispatchSource interface {
	Stats() BridgeStats
}

// HealthOptions configures NewHealthReporter.
type HealthOptions struct {
	// InstanceID identifies this bridge process.
	InstanceID string

	// Version is the bridge software version.
	Version string

	// Interval between periodic status publishes. Default: 30 seconds.
	Interval time.Duration

	// Topics provides the status topic.
	Topics TopicScheme

	// QoS for status publishes.
	QoS byte

	// Publisher delivers status documents. Required for publishing;
	// a nil publisher turns the reporter into a no-op.
	Publisher HealthPublisher

	// Receiver contributes listener counters (optional).
	Receiver Receiver

	// Dispatch contributes decode counters (optional).
	Dispatch DispatchSource

	// Groups is the routing table size, reported as-is.
	Groups int

	// Logger is optional.
	Logger Logger
}

// HealthReporter periodically publishes a retained status document to
// the bridge status topic. The same topic carries the broker-side LWT,
// so consumers watch one topic for liveness.
type HealthReporter struct {
	instanceID string
	version    string
	interval   time.Duration
	topics     TopicScheme
	qos        byte
	publisher  HealthPublisher
	receiver   Receiver
	dispatch   DispatchSource
	groups     int
	startTime  time.Time

	done     *closeOnce
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Start it to begin the loop.
func NewHealthReporter(opts HealthOptions) *HealthReporter {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		instanceID: opts.InstanceID,
		version:    opts.Version,
		interval:   interval,
		topics:     opts.Topics,
		qos:        opts.QoS,
		publisher:  opts.Publisher,
		receiver:   opts.Receiver,
		dispatch:   opts.Dispatch,
		groups:     opts.Groups,
		startTime:  time.Now(),
		done:       newCloseOnce(),
		logger:     opts.Logger,
	}
}

// Start begins periodic reporting until Stop or context cancellation.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop publishes a final "stopping" status and halts the loop.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		if err := h.publishStatus(StatusStopping, "shutdown requested"); err != nil {
			h.logError("final status publish failed", err)
		}
		h.done.Close()
		h.wg.Wait()
	})
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialisation.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(StatusStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
// Useful after a significant event such as a broker reconnect.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic status publishing.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("initial status publish failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done.Done():
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("status publish failed", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (BridgeStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return StatusDegraded, "MQTT disconnected"
	}

	if h.receiver == nil || !h.receiver.IsListening() {
		return StatusDegraded, "UDP listener closed"
	}

	return StatusOnline, ""
}

// publishStatus publishes one status document (QoS from options, retained).
func (h *HealthReporter) publishStatus(status BridgeStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	msg := NewStatusMessage(status, h.instanceID, h.version, h.startTime)
	msg.Groups = h.groups
	msg.Reason = reason

	if h.receiver != nil {
		stats := h.receiver.Stats()
		msg.Listener = &stats
	}
	if h.dispatch != nil {
		stats := h.dispatch.Stats()
		msg.Dispatch = &stats
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(h.topics.Status(), payload, h.qos, true)
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
