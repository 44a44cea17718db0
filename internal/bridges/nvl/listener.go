package nvl

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for the UDP listener.
const (
	// DefaultPort is the UDP port NVL senders broadcast to.
	DefaultPort = 1202

	// defaultBind is the address the socket binds to.
	defaultBind = "0.0.0.0"

	// defaultReadTimeout bounds each blocking read so the loop can
	// observe shutdown instead of blocking forever on an idle bus.
	defaultReadTimeout = 5 * time.Second
)

// ListenerConfig holds UDP listener configuration.
type ListenerConfig struct {
	// Bind is the local address to bind. Default: "0.0.0.0".
	Bind string

	// Port is the UDP port to listen on. Zero binds an ephemeral port;
	// configuration loading supplies the protocol default (1202).
	Port int

	// ReadTimeout is the per-read deadline. Default: 5 seconds.
	ReadTimeout time.Duration
}

// ListenerStats holds listener counters.
type ListenerStats struct {
	DatagramsRx  uint64    `json:"datagrams_rx"`
	BytesRx      uint64    `json:"bytes_rx"`
	ReadErrors   uint64    `json:"read_errors"`
	LastActivity time.Time `json:"last_activity"`
	Listening    bool      `json:"listening"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Receiver interface for testability.
// This allows mocking the UDP listener in tests.
type Receiver interface {
	SetOnDatagram(callback func(data []byte, from net.Addr))
	IsListening() bool
	Stats() ListenerStats
	Close() error
}

// Ensure UDPListener implements Receiver.
var _ Receiver = (*UDPListener)(nil)

// UDPListener receives NVL datagrams from the fieldbus.
//
// The receive loop hands each datagram to the registered callback
// synchronously: one datagram is fully dispatched before the next is
// read. That single-consumer ordering is what lets the decode pipeline
// and last-value cache run without locks. The callback borrows the
// receive buffer; it must not retain the slice past its return.
//
// Datagrams arriving before a callback is registered are counted and
// discarded.
type UDPListener struct {
	cfg  ListenerConfig
	conn *net.UDPConn

	// Listening state
	stateMu   sync.RWMutex
	listening bool

	// Datagram handler callback
	onDatagram func(data []byte, from net.Addr)
	callbackMu sync.RWMutex

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	datagramsRx  atomic.Uint64
	bytesRx      atomic.Uint64
	readErrors   atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// Listen binds the UDP socket and starts the receive loop.
//
// Parameters:
//   - cfg: Listener configuration (zero values take defaults)
//
// Returns:
//   - *UDPListener: Listening socket with the receive loop running
//   - error: ErrListenFailed if the socket cannot be bound
func Listen(cfg ListenerConfig) (*UDPListener, error) {
	if cfg.Bind == "" {
		cfg.Bind = defaultBind
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	ip := net.ParseIP(cfg.Bind)
	if ip == nil {
		return nil, fmt.Errorf("%w: invalid bind address %q", ErrListenFailed, cfg.Bind)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	l := &UDPListener{
		cfg:  cfg,
		conn: conn,
		done: newCloseOnce(),
	}
	l.listening = true
	l.lastActivity.Store(time.Now().Unix())

	l.wg.Add(1)
	go l.receiveLoop()

	return l, nil
}

// receiveLoop reads datagrams until shutdown.
//
// Deadline expiry on an idle bus is the normal case, not an error: the
// loop uses it to poll the done channel. Read errors other than a
// closed socket are counted and the loop carries on; on UDP they are
// per-packet conditions, not a broken transport.
func (l *UDPListener) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-l.done.Done():
			return
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			l.logError("set read deadline failed", err)
			l.readErrors.Add(1)
			return
		}

		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // Idle bus, check for shutdown and keep reading
			}

			l.logError("read failed", err)
			l.readErrors.Add(1)
			continue
		}

		l.datagramsRx.Add(1)
		l.bytesRx.Add(uint64(n)) //nolint:gosec // n is a read length, never negative
		l.lastActivity.Store(time.Now().Unix())

		l.dispatch(buf[:n], addr)
	}
}

// dispatch hands one datagram to the callback, recovering panics so a
// bad datagram cannot kill the receive loop.
func (l *UDPListener) dispatch(data []byte, from net.Addr) {
	l.callbackMu.RLock()
	callback := l.onDatagram
	l.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logError("datagram callback panic", fmt.Errorf("%v", r))
			l.readErrors.Add(1)
		}
	}()
	callback(data, from)
}

// isClosed returns true if the listener has been closed.
func (l *UDPListener) isClosed() bool {
	select {
	case <-l.done.Done():
		return true
	default:
		return false
	}
}

// SetOnDatagram sets the callback for received datagrams.
//
// The callback runs on the receive goroutine; the next datagram is not
// read until it returns. The data slice is reused between reads and
// must not be retained.
//
// Parameters:
//   - callback: Function to call for each datagram
func (l *UDPListener) SetOnDatagram(callback func(data []byte, from net.Addr)) {
	l.callbackMu.Lock()
	l.onDatagram = callback
	l.callbackMu.Unlock()
}

// SetLogger sets the logger for this listener.
func (l *UDPListener) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// IsListening returns true while the socket is open.
func (l *UDPListener) IsListening() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.listening
}

// LocalAddr returns the bound socket address. Useful when listening on
// port 0 (ephemeral) in tests.
func (l *UDPListener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Stats returns current listener counters.
func (l *UDPListener) Stats() ListenerStats {
	return ListenerStats{
		DatagramsRx:  l.datagramsRx.Load(),
		BytesRx:      l.bytesRx.Load(),
		ReadErrors:   l.readErrors.Load(),
		LastActivity: time.Unix(l.lastActivity.Load(), 0),
		Listening:    l.IsListening(),
	}
}

// Close stops the receive loop and releases the socket.
//
// It signals shutdown, closes the socket to unblock any pending read,
// and waits for the loop goroutine. Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (l *UDPListener) Close() error {
	l.done.Close()

	l.stateMu.Lock()
	l.listening = false
	l.stateMu.Unlock()

	if l.conn != nil {
		l.conn.Close()
	}

	l.wg.Wait()

	l.logInfo("listener closed")
	return nil
}

// logInfo logs an info message if logger is set.
func (l *UDPListener) logInfo(msg string, keysAndValues ...any) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (l *UDPListener) logError(msg string, err error) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
