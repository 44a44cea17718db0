package nvl

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu             sync.Mutex
	published      []mockPublish
	subscriptions  []mockSubscription
	connected      bool
	handlers       map[string]func(topic string, payload []byte)
	publishError   error
	subscribeError error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeError != nil {
		return m.subscribeError
	}
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

func (m *MockMQTTClient) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeError = err
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(topic string, payload []byte)
	for pattern, h := range m.handlers {
		if pattern == topic || strings.HasSuffix(pattern, "#") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#")) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// MockReceiver implements Receiver for testing.
type MockReceiver struct {
	mu        sync.Mutex
	callback  func(data []byte, from net.Addr)
	listening bool
	stats     ListenerStats
}

func NewMockReceiver() *MockReceiver {
	return &MockReceiver{listening: true}
}

func (m *MockReceiver) SetOnDatagram(callback func(data []byte, from net.Addr)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

func (m *MockReceiver) IsListening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

func (m *MockReceiver) SetListening(listening bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = listening
}

func (m *MockReceiver) Stats() ListenerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MockReceiver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = false
	return nil
}

func (m *MockReceiver) HasCallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callback != nil
}

// SimulateDatagram delivers a datagram as if read from the socket.
func (m *MockReceiver) SimulateDatagram(data []byte, from net.Addr) {
	m.mu.Lock()
	callback := m.callback
	m.stats.DatagramsRx++
	m.stats.BytesRx += uint64(len(data))
	m.mu.Unlock()
	if callback != nil {
		callback(data, from)
	}
}

// MockRecorder implements Recorder for testing.
type MockRecorder struct {
	mu      sync.Mutex
	records []recordedValue
}

type recordedValue struct {
	Group string
	Field string
	Value float64
	Unit  string
}

func (m *MockRecorder) RecordValue(group, field string, value float64, unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recordedValue{Group: group, Field: field, Value: value, Unit: unit})
}

func (m *MockRecorder) GetRecords() []recordedValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records
}

var testSender = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 54321}

// bridgeTestTable compiles the two-group schema shared by bridge tests:
// "climate" (COB 16, little-endian: INT scaled + BOOL) and "energy"
// (COB 17, big-endian: REAL with retain override + LREAL with topic
// override).
func bridgeTestTable(t *testing.T) Table {
	t.Helper()

	groups := []GroupConfig{
		{
			Name:  "climate",
			COBID: 16,
			Vars: []FieldConfig{
				{Name: "temperature", Type: "INT", Scale: floatPtr(0.1), Precision: intPtr(1), Unit: "°C", DeviceClass: "temperature"},
				{Name: "fan_on", Type: "BOOL"},
			},
		},
		{
			Name:      "energy",
			COBID:     17,
			ByteOrder: "big",
			Vars: []FieldConfig{
				{Name: "power", Type: "REAL", Unit: "W", Retain: boolPtr(true)},
				{Name: "total", Type: "LREAL", Unit: "kWh", Topic: "plant/energy/total"},
			},
		},
	}

	table, err := CompileSchema(groups, SchemaDefaults{})
	if err != nil {
		t.Fatalf("CompileSchema failed: %v", err)
	}
	return table
}

func newTestBridge(t *testing.T, cfg BridgeConfig) (*Bridge, *MockMQTTClient, *MockReceiver) {
	t.Helper()

	mqtt := NewMockMQTTClient()
	recv := NewMockReceiver()

	b, err := NewBridge(BridgeOptions{
		Config:   cfg,
		Table:    bridgeTestTable(t),
		MQTT:     mqtt,
		Receiver: recv,
	})
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	return b, mqtt, recv
}

// climateDatagram builds a checksummed datagram for the climate group.
func climateDatagram(counter uint16, tempRaw int16, fan bool) []byte {
	data := make([]byte, 3)
	binary.LittleEndian.PutUint16(data[0:2], uint16(tempRaw)) //nolint:gosec // wire encoding
	if fan {
		data[2] = 1
	}
	return buildDatagram(16, 0, 2, counter, FlagChecksum, data)
}

// energyDatagram builds a big-endian datagram for the energy group.
func energyDatagram(counter uint16, power float32, total float64) []byte {
	data := make([]byte, 12)
	binary.BigEndian.PutUint32(data[0:4], math.Float32bits(power))
	binary.BigEndian.PutUint64(data[4:12], math.Float64bits(total))
	return buildDatagram(17, 0, 2, counter, 0x00, data)
}

// valuePublishes filters out status-topic publishes, which the health
// reporter emits on its own schedule.
func valuePublishes(pubs []mockPublish, statusTopic string) []mockPublish {
	var out []mockPublish
	for _, p := range pubs {
		if p.Topic != statusTopic {
			out = append(out, p)
		}
	}
	return out
}

func TestNewBridgeValidation(t *testing.T) {
	table := bridgeTestTable(t)
	mqtt := NewMockMQTTClient()
	recv := NewMockReceiver()

	tests := []struct {
		name      string
		opts      BridgeOptions
		wantError string
	}{
		{
			name:      "missing table",
			opts:      BridgeOptions{MQTT: mqtt, Receiver: recv},
			wantError: "routing table",
		},
		{
			name:      "missing MQTT client",
			opts:      BridgeOptions{Table: table, Receiver: recv},
			wantError: "MQTT client",
		},
		{
			name:      "missing receiver",
			opts:      BridgeOptions{Table: table, MQTT: mqtt},
			wantError: "datagram receiver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBridge(tt.opts)
			if err == nil {
				t.Fatal("NewBridge() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("NewBridge() error = %v, want error containing %q", err, tt.wantError)
			}
		})
	}
}

func TestNewBridgeDefaultTopicBase(t *testing.T) {
	b, _, _ := newTestBridge(t, BridgeConfig{})
	if b.topics.Base != DefaultTopicBase {
		t.Errorf("topics.Base = %q, want %q", b.topics.Base, DefaultTopicBase)
	}
}

func TestBridgeStartStop(t *testing.T) {
	b, mqtt, recv := newTestBridge(t, BridgeConfig{QoS: 1})
	statusTopic := b.topics.Status()

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting status goes out synchronously, before anything else.
	pubs := mqtt.GetPublished()
	if len(pubs) == 0 {
		t.Fatal("Start should publish a starting status")
	}
	if pubs[0].Topic != statusTopic {
		t.Errorf("first publish topic = %q, want %q", pubs[0].Topic, statusTopic)
	}
	if !pubs[0].Retained {
		t.Error("status publish should be retained")
	}
	var status StatusMessage
	if err := json.Unmarshal(pubs[0].Payload, &status); err != nil {
		t.Fatalf("Unmarshal status failed: %v", err)
	}
	if status.Status != StatusStarting {
		t.Errorf("status = %q, want %q", status.Status, StatusStarting)
	}

	if !recv.HasCallback() {
		t.Error("Start should register the datagram callback")
	}

	// Datagrams flow through the wired callback.
	recv.SimulateDatagram(climateDatagram(1, 100, true), testSender)
	values := valuePublishes(mqtt.GetPublished(), statusTopic)
	if len(values) != 2 {
		t.Fatalf("len(value publishes) = %d, want 2", len(values))
	}

	b.Stop()

	if recv.HasCallback() {
		t.Error("Stop should detach the datagram callback")
	}

	// A datagram arriving after Stop goes nowhere.
	before := len(valuePublishes(mqtt.GetPublished(), statusTopic))
	recv.SimulateDatagram(climateDatagram(2, 200, true), testSender)
	after := len(valuePublishes(mqtt.GetPublished(), statusTopic))
	if after != before {
		t.Errorf("publishes after Stop = %d, want %d", after, before)
	}

	// Stop is idempotent.
	b.Stop()
}

func TestBridgePublishesDecodedValues(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{QoS: 1})

	b.handleDatagram(climateDatagram(1, 100, true), testSender)

	pubs := mqtt.GetPublished()
	if len(pubs) != 2 {
		t.Fatalf("len(published) = %d, want 2", len(pubs))
	}

	temp := pubs[0]
	if temp.Topic != "wago/nvl/climate/temperature" {
		t.Errorf("topic = %q, want wago/nvl/climate/temperature", temp.Topic)
	}
	if temp.QoS != 1 {
		t.Errorf("QoS = %d, want 1", temp.QoS)
	}
	if temp.Retained {
		t.Error("retained = true, want false (no override, global default)")
	}

	var vm ValueMessage
	if err := json.Unmarshal(temp.Payload, &vm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if vm.Value != 10.0 {
		t.Errorf("value = %v, want 10.0 (raw 100 scaled by 0.1)", vm.Value)
	}
	if vm.Unit != "°C" {
		t.Errorf("unit = %q, want °C", vm.Unit)
	}
	if vm.DeviceClass != "temperature" {
		t.Errorf("device_class = %q, want temperature", vm.DeviceClass)
	}

	fan := pubs[1]
	if fan.Topic != "wago/nvl/climate/fan_on" {
		t.Errorf("topic = %q, want wago/nvl/climate/fan_on", fan.Topic)
	}
	if err := json.Unmarshal(fan.Payload, &vm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if vm.Value != true {
		t.Errorf("value = %v, want true", vm.Value)
	}

	stats := b.Stats()
	if stats.Datagrams != 1 {
		t.Errorf("Datagrams = %d, want 1", stats.Datagrams)
	}
	if stats.FieldsDecoded != 2 {
		t.Errorf("FieldsDecoded = %d, want 2", stats.FieldsDecoded)
	}
	if stats.Published != 2 {
		t.Errorf("Published = %d, want 2", stats.Published)
	}
}

func TestBridgeRetainAndTopicOverrides(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{QoS: 1})

	b.handleDatagram(energyDatagram(1, 230.0, 1234.5), testSender)

	pubs := mqtt.GetPublished()
	if len(pubs) != 2 {
		t.Fatalf("len(published) = %d, want 2", len(pubs))
	}

	power := pubs[0]
	if power.Topic != "wago/nvl/energy/power" {
		t.Errorf("topic = %q, want wago/nvl/energy/power", power.Topic)
	}
	if !power.Retained {
		t.Error("power should be retained (per-variable override)")
	}

	total := pubs[1]
	if total.Topic != "plant/energy/total" {
		t.Errorf("topic = %q, want plant/energy/total (per-variable override)", total.Topic)
	}
	if total.Retained {
		t.Error("total should not be retained (global default)")
	}

	var vm ValueMessage
	if err := json.Unmarshal(total.Payload, &vm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if vm.Value != 1234.5 {
		t.Errorf("total = %v, want 1234.5", vm.Value)
	}
}

func TestBridgeOnChangeSuppression(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{OnChange: true})

	b.handleDatagram(climateDatagram(1, 100, true), testSender)
	if got := len(mqtt.GetPublished()); got != 2 {
		t.Fatalf("first datagram published %d, want 2", got)
	}
	mqtt.ClearPublished()

	// Identical values: everything suppressed.
	b.handleDatagram(climateDatagram(2, 100, true), testSender)
	if got := len(mqtt.GetPublished()); got != 0 {
		t.Errorf("repeat datagram published %d, want 0", got)
	}

	stats := b.Stats()
	if stats.Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", stats.Suppressed)
	}
	if stats.FieldsDecoded != 4 {
		t.Errorf("FieldsDecoded = %d, want 4 (suppression happens after decode)", stats.FieldsDecoded)
	}

	// One variable changes: only that one goes out.
	b.handleDatagram(climateDatagram(3, 101, true), testSender)
	pubs := mqtt.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("changed datagram published %d, want 1", len(pubs))
	}
	if pubs[0].Topic != "wago/nvl/climate/temperature" {
		t.Errorf("topic = %q, want wago/nvl/climate/temperature", pubs[0].Topic)
	}

	var vm ValueMessage
	if err := json.Unmarshal(pubs[0].Payload, &vm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if vm.Value != 10.1 {
		t.Errorf("value = %v, want 10.1", vm.Value)
	}
}

func TestBridgeOnChangeDisabledRepublishes(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{OnChange: false})

	b.handleDatagram(climateDatagram(1, 100, false), testSender)
	b.handleDatagram(climateDatagram(2, 100, false), testSender)

	if got := len(mqtt.GetPublished()); got != 4 {
		t.Errorf("published %d, want 4 (every value republished)", got)
	}
	if got := b.Stats().Suppressed; got != 0 {
		t.Errorf("Suppressed = %d, want 0", got)
	}
}

func TestBridgeChecksumMismatch(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{})

	dg := climateDatagram(1, 100, true)
	dg[21] ^= 0xFF // corrupt a data byte after the checksum was computed

	b.handleDatagram(dg, testSender)

	if got := len(mqtt.GetPublished()); got != 0 {
		t.Errorf("published %d, want 0 after checksum mismatch", got)
	}
	if got := b.Stats().DropsChecksum; got != 1 {
		t.Errorf("DropsChecksum = %d, want 1", got)
	}
}

func TestBridgeChecksumNotRequested(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{})

	// No checksum flag: the checksum byte is ignored even when wrong.
	data := []byte{0x64, 0x00, 0x01}
	dg := buildDatagram(16, 0, 2, 1, 0x00, data)
	dg[19] = 0xAA

	b.handleDatagram(dg, testSender)

	if got := len(mqtt.GetPublished()); got != 2 {
		t.Errorf("published %d, want 2", got)
	}
	if got := b.Stats().DropsChecksum; got != 0 {
		t.Errorf("DropsChecksum = %d, want 0", got)
	}
}

func TestBridgeUnknownCOB(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{QoS: 1, Retain: true})

	dg := buildDatagram(999, 0, 1, 7, FlagChecksum, []byte{0xDE, 0xAD})
	b.handleDatagram(dg, testSender)

	pubs := mqtt.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("len(published) = %d, want 1", len(pubs))
	}

	p := pubs[0]
	if p.Topic != "wago/nvl/unknown_cob/999" {
		t.Errorf("topic = %q, want wago/nvl/unknown_cob/999", p.Topic)
	}
	if p.Retained {
		t.Error("unknown-COB diagnostics must never be retained")
	}

	var msg UnknownCOBMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Counter != 7 {
		t.Errorf("counter = %d, want 7", msg.Counter)
	}
	if msg.From != testSender.String() {
		t.Errorf("from = %q, want %q", msg.From, testSender.String())
	}
	if !strings.HasSuffix(msg.DataHex, "dead") {
		t.Errorf("data_hex = %q, want suffix dead", msg.DataHex)
	}

	if got := b.Stats().UnknownCOBs; got != 1 {
		t.Errorf("UnknownCOBs = %d, want 1", got)
	}
}

func TestBridgeHeaderDrops(t *testing.T) {
	tests := []struct {
		name    string
		mangle  func() []byte
		counter func(BridgeStats) uint64
	}{
		{
			name:    "too short",
			mangle:  func() []byte { return []byte{0x00, 0x2D, 0x53, 0x33, 0x00} },
			counter: func(s BridgeStats) uint64 { return s.DropsTooShort },
		},
		{
			name: "not process data",
			mangle: func() []byte {
				dg := buildDatagram(16, 0, 2, 1, 0x00, []byte{0x64, 0x00, 0x01})
				binary.LittleEndian.PutUint32(dg[4:8], 3)
				return dg
			},
			counter: func(s BridgeStats) uint64 { return s.DropsNotPDO },
		},
		{
			name: "implausible length",
			mangle: func() []byte {
				dg := buildDatagram(16, 0, 2, 1, 0x00, []byte{0x64, 0x00, 0x01})
				binary.LittleEndian.PutUint16(dg[14:16], 10)
				return dg
			},
			counter: func(s BridgeStats) uint64 { return s.DropsImplausible },
		},
		{
			name: "truncated",
			mangle: func() []byte {
				dg := buildDatagram(16, 0, 2, 1, 0x00, []byte{0x64, 0x00, 0x01})
				binary.LittleEndian.PutUint16(dg[14:16], uint16(len(dg)+8)) //nolint:gosec // test value
				return dg
			},
			counter: func(s BridgeStats) uint64 { return s.DropsTruncated },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mqtt, _ := newTestBridge(t, BridgeConfig{})

			b.handleDatagram(tt.mangle(), testSender)

			if got := len(mqtt.GetPublished()); got != 0 {
				t.Errorf("published %d, want 0", got)
			}
			if got := tt.counter(b.Stats()); got != 1 {
				t.Errorf("drop counter = %d, want 1", got)
			}
			if got := b.Stats().Datagrams; got != 1 {
				t.Errorf("Datagrams = %d, want 1 (drops still count arrivals)", got)
			}
		})
	}
}

func TestBridgeDecodeOverrun(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{})

	// One data byte where the climate group needs three. Header is
	// plausible and intact; the failure belongs to decoding.
	dg := buildDatagram(16, 0, 2, 1, 0x00, []byte{0x64})
	b.handleDatagram(dg, testSender)

	if got := len(mqtt.GetPublished()); got != 0 {
		t.Errorf("published %d, want 0", got)
	}
	if got := b.Stats().DropsDecode; got != 1 {
		t.Errorf("DropsDecode = %d, want 1", got)
	}
}

func TestBridgeIdentityMismatchIsAdvisory(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{})

	dg := climateDatagram(1, 100, false)
	dg[0] = 0xFF // checksum covers the data region only, still valid

	b.handleDatagram(dg, testSender)

	if got := len(mqtt.GetPublished()); got != 2 {
		t.Errorf("published %d, want 2 (identity is advisory)", got)
	}
	if got := b.Stats().IdentityMismatches; got != 1 {
		t.Errorf("IdentityMismatches = %d, want 1", got)
	}
}

func TestBridgePublishFailuresAreSwallowed(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{OnChange: true})

	mqtt.SetPublishError(errors.New("broker down"))
	b.handleDatagram(climateDatagram(1, 100, true), testSender)

	stats := b.Stats()
	if stats.PublishErrors != 2 {
		t.Errorf("PublishErrors = %d, want 2", stats.PublishErrors)
	}
	if stats.Published != 0 {
		t.Errorf("Published = %d, want 0", stats.Published)
	}

	// The cache was updated despite the failed publishes: delivery is
	// at-most-once, so an unchanged repeat is not retried on recovery.
	mqtt.SetPublishError(nil)
	b.handleDatagram(climateDatagram(2, 100, true), testSender)

	if got := len(mqtt.GetPublished()); got != 0 {
		t.Errorf("published %d after recovery, want 0 (values unchanged)", got)
	}
	if got := b.Stats().Suppressed; got != 2 {
		t.Errorf("Suppressed = %d, want 2", got)
	}
}

func TestBridgeNonFiniteValueSkipped(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{})

	nan := float32(math.NaN())
	b.handleDatagram(energyDatagram(1, nan, 1234.5), testSender)

	// NaN has no JSON encoding: power is dropped, total still publishes.
	pubs := mqtt.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("len(published) = %d, want 1", len(pubs))
	}
	if pubs[0].Topic != "plant/energy/total" {
		t.Errorf("topic = %q, want plant/energy/total", pubs[0].Topic)
	}
	if got := b.Stats().PublishErrors; got != 1 {
		t.Errorf("PublishErrors = %d, want 1", got)
	}
}

func TestBridgeSequenceGapObserved(t *testing.T) {
	b, _, _ := newTestBridge(t, BridgeConfig{})

	b.handleDatagram(climateDatagram(1, 100, false), testSender)
	b.handleDatagram(climateDatagram(2, 101, false), testSender)
	b.handleDatagram(climateDatagram(5, 102, false), testSender) // 3 and 4 missed

	if got := b.Stats().SequenceGaps; got != 1 {
		t.Errorf("SequenceGaps = %d, want 1", got)
	}

	// Wrap at 65535 is a step of one, not a gap.
	b.handleDatagram(climateDatagram(65535, 103, false), testSender) // jump: gap 2
	b.handleDatagram(climateDatagram(0, 104, false), testSender)     // wrap: no gap

	if got := b.Stats().SequenceGaps; got != 2 {
		t.Errorf("SequenceGaps = %d, want 2 (wrap must not count)", got)
	}
}

func TestBridgeSequenceTrackingPerGroup(t *testing.T) {
	b, _, _ := newTestBridge(t, BridgeConfig{})

	// Interleaved groups each follow their own counter.
	b.handleDatagram(climateDatagram(1, 100, false), testSender)
	b.handleDatagram(energyDatagram(50, 230.0, 1.0), testSender)
	b.handleDatagram(climateDatagram(2, 101, false), testSender)
	b.handleDatagram(energyDatagram(51, 231.0, 2.0), testSender)

	if got := b.Stats().SequenceGaps; got != 0 {
		t.Errorf("SequenceGaps = %d, want 0", got)
	}
}

func TestBridgeRecorder(t *testing.T) {
	mqtt := NewMockMQTTClient()
	recv := NewMockReceiver()
	rec := &MockRecorder{}

	b, err := NewBridge(BridgeOptions{
		Table:    bridgeTestTable(t),
		MQTT:     mqtt,
		Receiver: recv,
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}

	b.handleDatagram(climateDatagram(1, 215, true), testSender)

	records := rec.GetRecords()
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	temp := records[0]
	if temp.Group != "climate" || temp.Field != "temperature" {
		t.Errorf("record = %s/%s, want climate/temperature", temp.Group, temp.Field)
	}
	if temp.Value != 21.5 {
		t.Errorf("record value = %v, want 21.5", temp.Value)
	}
	if temp.Unit != "°C" {
		t.Errorf("record unit = %q, want °C", temp.Unit)
	}

	// BOOL records as 0/1.
	fan := records[1]
	if fan.Value != 1.0 {
		t.Errorf("fan record value = %v, want 1.0", fan.Value)
	}
}

func TestBridgeEchoSubscription(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{EchoSubscribe: true, QoS: 1})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	subs := mqtt.GetSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("len(subscriptions) = %d, want 1", len(subs))
	}
	if subs[0].Topic != "wago/nvl/#" {
		t.Errorf("subscription topic = %q, want wago/nvl/#", subs[0].Topic)
	}
	if subs[0].QoS != 1 {
		t.Errorf("subscription QoS = %d, want 1", subs[0].QoS)
	}

	// The echo handler only logs; it must tolerate any payload.
	mqtt.SimulateMessage("wago/nvl/climate/temperature", []byte(`{"value":10}`))
	mqtt.SimulateMessage("wago/nvl/climate/temperature", []byte{0xFF, 0x00})
}

func TestBridgeEchoSubscriptionFailure(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{EchoSubscribe: true})

	mqtt.SetSubscribeError(errors.New("broker refused"))

	err := b.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when the echo subscription fails")
	}
	if !strings.Contains(err.Error(), "echo subscription") {
		t.Errorf("Start error = %v, want echo subscription context", err)
	}
}

func TestBridgeStatsSnapshot(t *testing.T) {
	b, mqtt, _ := newTestBridge(t, BridgeConfig{OnChange: true})

	// Two published, two suppressed, one short drop, one unknown COB.
	b.handleDatagram(climateDatagram(1, 100, true), testSender)
	b.handleDatagram(climateDatagram(2, 100, true), testSender)
	b.handleDatagram([]byte{0x01}, testSender)
	b.handleDatagram(buildDatagram(999, 0, 0, 3, 0x00, nil), testSender)

	stats := b.Stats()
	if stats.Datagrams != 4 {
		t.Errorf("Datagrams = %d, want 4", stats.Datagrams)
	}
	if stats.Published != 2 {
		t.Errorf("Published = %d, want 2", stats.Published)
	}
	if stats.Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", stats.Suppressed)
	}
	if stats.DropsTooShort != 1 {
		t.Errorf("DropsTooShort = %d, want 1", stats.DropsTooShort)
	}
	if stats.UnknownCOBs != 1 {
		t.Errorf("UnknownCOBs = %d, want 1", stats.UnknownCOBs)
	}

	// 2 value publishes plus the unknown-COB diagnostic.
	if got := len(mqtt.GetPublished()); got != 3 {
		t.Errorf("total publishes = %d, want 3", got)
	}
}

func TestBridgeWithLogger(t *testing.T) {
	b, _, _ := newTestBridge(t, BridgeConfig{})

	logger := &testLogger{}
	b.SetLogger(logger)

	b.handleDatagram(climateDatagram(1, 100, true), testSender)
	b.handleDatagram([]byte{0x01}, testSender)

	if logger.count() == 0 {
		t.Error("expected log output from the dispatch path")
	}
}

// testLogger counts log calls for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, msg)
}

func (l *testLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.log(msg) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.log(msg) }
func (l *testLogger) Warn(msg string, keysAndValues ...any)  { l.log(msg) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.log(msg) }

// Health reporting is exercised here rather than in its own file so it
// can reuse the bridge mocks.
func TestBridgeHealthStatusDegraded(t *testing.T) {
	b, mqtt, recv := newTestBridge(t, BridgeConfig{QoS: 1, HealthInterval: time.Hour})

	status, reason := b.health.determineStatus()
	if status != StatusOnline {
		t.Errorf("status = %q, want %q", status, StatusOnline)
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty", reason)
	}

	mqtt.SetConnected(false)
	status, reason = b.health.determineStatus()
	if status != StatusDegraded {
		t.Errorf("status = %q, want %q", status, StatusDegraded)
	}
	if reason != "MQTT disconnected" {
		t.Errorf("reason = %q, want 'MQTT disconnected'", reason)
	}

	mqtt.SetConnected(true)
	recv.SetListening(false)
	status, reason = b.health.determineStatus()
	if status != StatusDegraded {
		t.Errorf("status = %q, want %q", status, StatusDegraded)
	}
	if reason != "UDP listener closed" {
		t.Errorf("reason = %q, want 'UDP listener closed'", reason)
	}
}
