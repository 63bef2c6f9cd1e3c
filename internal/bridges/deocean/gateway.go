package deocean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
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

// Default timeouts and limits for gateway communication.
const (
	// DefaultPort is the gateway's TCP port.
	DefaultPort = 9999

	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the idle time after which the socket is reopened.
	defaultReadTimeout = 60 * time.Second

	// defaultWriteTimeout is the timeout for a single write.
	defaultWriteTimeout = 10 * time.Second

	// defaultReconnectInterval is the initial delay between reopen attempts.
	defaultReconnectInterval = time.Second

	// maxReconnectInterval caps the reopen backoff.
	maxReconnectInterval = 30 * time.Second

	// defaultMaxRetry is the number of reopen-and-retry attempts per send.
	defaultMaxRetry = 5

	// readBufferSize is the size of one socket read.
	readBufferSize = 1024
)

// TCP keepalive settings for the gateway socket.
const (
	keepAliveIdle     = time.Second
	keepAliveInterval = 3 * time.Second
	keepAliveCount    = 5
)

// GatewayConfig holds gateway connection configuration.
type GatewayConfig struct {
	// Host is the gateway hostname or IP address.
	Host string

	// Port is the gateway TCP port.
	// Default: 9999.
	Port int

	// ConnectTimeout is the maximum time to wait for a dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is how long the receive loop waits for data before
	// reopening the socket.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for a single write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReconnectInterval is the initial delay between failed reopen attempts.
	// Default: 1 second.
	ReconnectInterval time.Duration

	// MaxRetry is the number of reopen-and-retry attempts before a send is
	// dropped.
	// Default: 5.
	MaxRetry int
}

func (c *GatewayConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxRetry == 0 {
		c.MaxRetry = defaultMaxRetry
	}
}

// Address returns "host:port".
func (c GatewayConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GatewayStats holds operational statistics.
type GatewayStats struct {
	FramesRx        uint64
	FramesTx        uint64
	SendRetries     uint64
	SendsDropped    uint64 // Frames given up on after all retries
	DecodeErrors    uint64
	BytesDiscarded  uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful socket reopens
	LastActivity    time.Time
	Connected       bool
	Listening       bool
}

// Gateway owns the TCP session with a Deocean gateway.
//
// A dedicated goroutine reads from the socket, reassembles frames and
// hands each one to the frame handler. Sends may come from any goroutine;
// writes and socket reopens are serialised by one mutex so a reopened
// socket is never written by two racing retries.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The frame handler runs on the receive goroutine.
//
// Auto-Reconnection:
//   - Any read failure while listening (idle timeout, EOF, reset) reopens
//     the socket silently.
//   - Repeated dial failures back off from ReconnectInterval up to
//     maxReconnectInterval.
//   - Reopening stops only when Stop is called.
type Gateway struct {
	cfg GatewayConfig

	// connMu serialises writes and reopens.
	connMu sync.Mutex
	conn   net.Conn
	gen    uint64 // Incremented on every successful dial
	opened bool   // Socket was opened at least once

	connected atomic.Bool
	listening atomic.Bool

	parser *Parser

	onFrame    func(Frame)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	// ctx is cancelled by Stop and bounds background dials.
	ctx    context.Context
	cancel context.CancelFunc

	dial func(ctx context.Context, network, address string) (net.Conn, error)

	logSink

	framesRx        atomic.Uint64
	framesTx        atomic.Uint64
	sendRetries     atomic.Uint64
	sendsDropped    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// NewGateway creates a gateway session. No connection is made until
// Connect or Start.
func NewGateway(cfg GatewayConfig) *Gateway {
	cfg.applyDefaults()
	dialer := &net.Dialer{
		Timeout: cfg.ConnectTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     keepAliveIdle,
			Interval: keepAliveInterval,
			Count:    keepAliveCount,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:    cfg,
		parser: NewParser(),
		done:   newCloseOnce(),
		ctx:    ctx,
		cancel: cancel,
		dial:   dialer.DialContext,
	}
}

// SetLogger sets the logger for the gateway and its parser.
func (g *Gateway) SetLogger(logger Logger) {
	g.set(logger)
	g.parser.SetLogger(logger)
}

// SetOnFrame sets the handler for received frames.
//
// The handler runs on the receive goroutine, in stream order. Panics in
// the handler are recovered and logged.
func (g *Gateway) SetOnFrame(handler func(Frame)) {
	g.callbackMu.Lock()
	g.onFrame = handler
	g.callbackMu.Unlock()
}

// Config returns the effective configuration.
func (g *Gateway) Config() GatewayConfig {
	return g.cfg
}

// Connect opens the socket without starting the receive loop. It is a
// no-op if the socket is already open.
//
// Returns:
//   - error: ErrConnectionFailed if the gateway cannot be reached
func (g *Gateway) Connect(ctx context.Context) error {
	if g.isClosed() {
		return ErrNotConnected
	}

	g.connMu.Lock()
	defer g.connMu.Unlock()

	if g.conn != nil {
		return nil
	}
	if err := g.dialLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Start opens the socket if needed and starts the receive loop.
//
// Failure to open the initial socket is returned; every later failure is
// handled by reopening in the background.
//
// Parameters:
//   - ctx: Context for the initial dial
//
// Returns:
//   - error: ErrConnectionFailed if the gateway cannot be reached
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.Connect(ctx); err != nil {
		return err
	}
	if !g.listening.CompareAndSwap(false, true) {
		return nil
	}

	g.wg.Add(1)
	go g.receiveLoop()

	g.logInfo("listening to gateway", "address", g.cfg.Address())
	return nil
}

// Stop stops listening, aborts any dial in progress, closes the socket
// and waits for the receive loop to exit. Safe to call multiple times. A stopped gateway cannot be
// restarted.
func (g *Gateway) Stop() {
	g.listening.Store(false)
	g.done.Close()
	g.cancel()

	g.connMu.Lock()
	g.closeLocked()
	g.connMu.Unlock()

	g.wg.Wait()
	g.logInfo("gateway connection closed")
}

// Send writes a frame to the gateway.
//
// Sending is fire-and-forget. A failed write reopens the socket and
// retries up to MaxRetry times; after that the frame is logged and
// dropped. If the socket was never opened the frame is only logged.
func (g *Gateway) Send(frame Frame) {
	data, err := frame.Encode()
	if err != nil {
		g.logError("cannot encode frame", err, "frame", frame.String())
		g.sendsDropped.Add(1)
		return
	}

	g.connMu.Lock()
	defer g.connMu.Unlock()

	if !g.opened {
		g.logInfo("gateway not opened, frame not sent", "data", hexDump(data), "frame", frame.String())
		return
	}
	if g.isClosed() {
		g.logDebug("gateway stopped, frame not sent", "frame", frame.String())
		g.sendsDropped.Add(1)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetry; attempt++ {
		if attempt > 0 || g.conn == nil {
			if attempt > 0 {
				g.sendRetries.Add(1)
			}
			if err := g.reopenLocked(); err != nil {
				lastErr = err
				continue
			}
		}

		if err := g.writeLocked(data); err != nil {
			lastErr = err
			g.errorsTotal.Add(1)
			g.logWarn("send failed, reopening", "attempt", attempt+1, "error", err)
			continue
		}

		g.framesTx.Add(1)
		g.lastActivity.Store(time.Now().Unix())
		g.logDebug("frame sent", "data", hexDump(data), "frame", frame.String())
		return
	}

	g.sendsDropped.Add(1)
	g.logError("giving up on frame", fmt.Errorf("%w: %w", ErrSendFailed, lastErr),
		"frame", frame.String(), "retries", g.cfg.MaxRetry)
}

// IsConnected reports whether the socket is currently open.
func (g *Gateway) IsConnected() bool {
	return g.connected.Load()
}

// IsListening reports whether the receive loop is running.
func (g *Gateway) IsListening() bool {
	return g.listening.Load()
}

// Stats returns current operational statistics.
func (g *Gateway) Stats() GatewayStats {
	ps := g.parser.Stats()
	return GatewayStats{
		FramesRx:        g.framesRx.Load(),
		FramesTx:        g.framesTx.Load(),
		SendRetries:     g.sendRetries.Load(),
		SendsDropped:    g.sendsDropped.Load(),
		DecodeErrors:    ps.DecodeErrors,
		BytesDiscarded:  ps.BytesDiscarded,
		ErrorsTotal:     g.errorsTotal.Load(),
		ReconnectsTotal: g.reconnectsTotal.Load(),
		LastActivity:    time.Unix(g.lastActivity.Load(), 0),
		Connected:       g.IsConnected(),
		Listening:       g.IsListening(),
	}
}

// HealthCheck reports whether the gateway is usable.
func (g *Gateway) HealthCheck(_ context.Context) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// receiveLoop reads from the socket until Stop is called.
func (g *Gateway) receiveLoop() {
	defer g.wg.Done()

	buf := make([]byte, readBufferSize)
	var seen uint64

	for {
		if g.isClosed() {
			return
		}

		conn, gen := g.current()
		if gen != seen {
			// A partial frame from the previous socket can never complete.
			g.parser.Reset()
			seen = gen
		}
		if conn == nil {
			if !g.reconnect(gen) {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
			g.logDebug("set read deadline failed", "error", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			g.lastActivity.Store(time.Now().Unix())
			g.handleData(buf[:n])
		}
		if err == nil {
			continue
		}

		if g.isClosed() {
			return
		}
		g.logReadError(err)
		if !g.reconnect(gen) {
			return
		}
	}
}

// handleData feeds received bytes to the parser and dispatches the frames.
func (g *Gateway) handleData(data []byte) {
	g.callbackMu.RLock()
	handler := g.onFrame
	g.callbackMu.RUnlock()

	for frame := range g.parser.Feed(data) {
		g.framesRx.Add(1)
		g.logDebug("frame received", "frame", frame.String())
		if handler != nil {
			g.dispatch(handler, frame)
		}
	}
}

func (g *Gateway) dispatch(handler func(Frame), frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			g.errorsTotal.Add(1)
			g.logError("frame handler panic", fmt.Errorf("%v", r), "frame", frame.String())
		}
	}()
	handler(frame)
}

// logReadError logs a read failure at a level matching its cause.
func (g *Gateway) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		g.logDebug("no data from gateway, reopening", "timeout", g.cfg.ReadTimeout.String())
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
		g.logInfo("gateway closed the connection, reopening", "error", err)
	default:
		g.errorsTotal.Add(1)
		g.logError("read failed, reopening", err)
	}
}

// reconnect reopens the socket that had generation stale, backing off on
// repeated failures. If another goroutine already reopened it, the new
// socket is used.
//
// Returns:
//   - bool: true once a socket is open, false if Stop was called
func (g *Gateway) reconnect(stale uint64) bool {
	bo := g.newBackOff()

	for {
		if g.isClosed() {
			return false
		}

		g.connMu.Lock()
		if g.gen != stale && g.conn != nil {
			g.connMu.Unlock()
			return true
		}
		err := g.reopenLocked()
		g.connMu.Unlock()

		if err == nil {
			return true
		}

		wait := bo.NextBackOff()
		g.errorsTotal.Add(1)
		g.logWarn("reopen failed", "error", err, "backoff", wait.String())

		select {
		case <-g.done.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// newBackOff returns the reopen schedule: ReconnectInterval growing by
// half on each failure, capped at maxReconnectInterval, never giving up.
func (g *Gateway) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.ReconnectInterval
	bo.Multiplier = 1.5
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxReconnectInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// reopenLocked closes the current socket and dials a new one.
// g.connMu must be held.
func (g *Gateway) reopenLocked() error {
	if g.isClosed() {
		return ErrNotConnected
	}
	g.closeLocked()

	ctx, cancel := context.WithTimeout(g.ctx, g.cfg.ConnectTimeout)
	defer cancel()

	if err := g.dialLocked(ctx); err != nil {
		return err
	}
	g.reconnectsTotal.Add(1)
	g.logInfo("gateway connection reopened", "address", g.cfg.Address(), "reconnects", g.reconnectsTotal.Load())
	return nil
}

// dialLocked opens a new socket. g.connMu must be held.
func (g *Gateway) dialLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := g.dial(ctx, "tcp", g.cfg.Address())
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.cfg.Address(), err)
	}

	g.conn = conn
	g.gen++
	g.opened = true
	g.connected.Store(true)
	g.lastActivity.Store(time.Now().Unix())
	return nil
}

// writeLocked writes data with the write timeout. g.connMu must be held.
func (g *Gateway) writeLocked(data []byte) error {
	if g.conn == nil {
		return ErrNotConnected
	}
	if err := g.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := g.conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// closeLocked closes the current socket. g.connMu must be held.
func (g *Gateway) closeLocked() {
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connected.Store(false)
}

// current returns the socket and its generation.
func (g *Gateway) current() (net.Conn, uint64) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.conn, g.gen
}

// isClosed returns true if Stop has been called.
func (g *Gateway) isClosed() bool {
	select {
	case <-g.done.Done():
		return true
	default:
		return false
	}
}
