// Package transport manages the station-side WebSocket connection to the
// Central System: dialing with the OCPP subprotocol, serialized writes,
// ping/pong, bounded auto-reconnect, and the pre-connect message buffer.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
	// Reconnect backoff exponent is capped so the delay stays bounded.
	backoffRetryCap = 10
)

// ErrNotStarted is returned by Send before Start has been called.
var ErrNotStarted = errors.New("transport not started")

// Config holds the per-station connection settings.
type Config struct {
	// SupervisionURLs is the candidate Central System endpoints. The station
	// name is appended as the final path segment.
	SupervisionURLs []string
	StationName     string
	// Subprotocol is "ocpp1.6" or "ocpp2.0.1".
	Subprotocol string
	// StationIndex drives endpoint selection when DistributeEqually is set.
	StationIndex      int
	DistributeEqually bool
	// PingInterval enables client pings when > 0.
	PingInterval time.Duration
	// AutoReconnectMaxRetries: -1 unlimited, 0 disabled, N > 0 exactly N.
	AutoReconnectMaxRetries int
	ReconnectBaseTimeout    time.Duration
	// BufferLimit bounds the offline FIFO; overflow drops the oldest frame.
	BufferLimit int
	// HTTPHeader is passed to the dial handshake (e.g. basic auth).
	HTTPHeader http.Header
}

// Client is one station's connection manager. All writes to the socket are
// owned by the write pump goroutine; all reads by the read pump.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	send         chan outbound
	buffer       [][]byte
	retryCount   int
	stopRequested bool
	generation   int

	// OnOpen runs on the caller's reconnect goroutine after every successful
	// open; reconnected is false only for the first open after Start.
	OnOpen func(reconnected bool)
	// OnMessage receives every inbound text frame.
	OnMessage func(data []byte)
	// OnStateChange observes lifecycle transitions.
	OnStateChange func(from, to State)
}

type outbound struct {
	data []byte
	sent chan error
}

// NewClient builds a connection manager; Start must be called to connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 1024
	}
	if cfg.ReconnectBaseTimeout <= 0 {
		cfg.ReconnectBaseTimeout = time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		state:  StateDisconnected,
	}
}

// SetSupervisionURLs replaces the endpoint candidates. The change applies on
// the next dial; an open connection is not disturbed.
func (c *Client) SetSupervisionURLs(urls []string) {
	c.mu.Lock()
	c.cfg.SupervisionURLs = append([]string(nil), urls...)
	c.mu.Unlock()
}

// URL returns the endpoint this station dials, applying the distribution
// policy across the configured supervision URLs.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.cfg.SupervisionURLs)
	if n == 0 {
		return ""
	}
	var idx int
	if c.cfg.DistributeEqually {
		idx = c.cfg.StationIndex % n
	} else {
		idx = rand.Intn(n)
	}
	return fmt.Sprintf("%s/%s", c.cfg.SupervisionURLs[idx], c.cfg.StationName)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether frames are currently written straight to the socket.
func (c *Client) IsOpen() bool {
	return c.State() == StateOpen
}

// Start dials the Central System. The first dial failure enters the same
// reconnect path as an abnormal close.
func (c *Client) Start() error {
	c.mu.Lock()
	c.stopRequested = false
	c.retryCount = 0
	c.mu.Unlock()

	if err := c.connect(false); err != nil {
		go c.reconnectLoop()
		return err
	}
	return nil
}

// Stop closes the connection with a normal close frame and disables
// reconnection until the next Start.
func (c *Client) Stop(code int) {
	c.mu.Lock()
	c.stopRequested = true
	conn := c.conn
	if c.state == StateOpen || c.state == StateConnecting {
		c.setStateLocked(StateClosing)
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

// Send enqueues a frame. While open it is handed to the write pump; while
// disconnected it joins the offline FIFO, dropping the oldest frame when the
// buffer is full.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.send == nil {
		c.bufferLocked(data)
		c.mu.Unlock()
		return nil
	}
	send := c.send
	c.mu.Unlock()

	out := outbound{data: data, sent: make(chan error, 1)}
	select {
	case send <- out:
		return <-out.sent
	default:
		// Write pump saturated; treat like offline so ordering is preserved
		// through the buffer on the next flush.
		c.mu.Lock()
		c.bufferLocked(data)
		c.mu.Unlock()
		return nil
	}
}

// BufferedCount reports how many frames await the next flush.
func (c *Client) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Flush drains the offline buffer in enqueue order. The station calls this at
// the end of its start message sequence so buffered frames precede any frame
// produced after the flush.
func (c *Client) Flush() {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	for _, data := range pending {
		if err := c.Send(data); err != nil {
			c.logger.Warn("buffered frame write failed", "station", c.cfg.StationName, "error", err)
		}
	}
}

func (c *Client) bufferLocked(data []byte) {
	if len(c.buffer) >= c.cfg.BufferLimit {
		c.logger.Warn("offline buffer full, dropping oldest frame",
			"station", c.cfg.StationName, "limit", c.cfg.BufferLimit)
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, data)
}

func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if c.OnStateChange != nil {
		go c.OnStateChange(from, to)
	}
}

func (c *Client) connect(reconnected bool) error {
	c.mu.Lock()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	url := c.URL()
	dialer := websocket.Dialer{
		Subprotocols:     []string{c.cfg.Subprotocol},
		HandshakeTimeout: 30 * time.Second,
	}
	conn, _, err := dialer.Dial(url, c.cfg.HTTPHeader)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan outbound, sendBuffer)
	c.generation++
	gen := c.generation
	send := c.send
	c.retryCount = 0
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.logger.Info("connected to central system",
		"station", c.cfg.StationName, "url", url, "subprotocol", c.cfg.Subprotocol)

	go c.writePump(conn, send, gen)
	go c.readPump(conn, gen)

	if c.OnOpen != nil {
		c.OnOpen(reconnected)
	}
	return nil
}

// writePump owns every write to conn, serializing data frames and pings.
func (c *Client) writePump(conn *websocket.Conn, send chan outbound, gen int) {
	var ticker *time.Ticker
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker = time.NewTicker(c.cfg.PingInterval)
		ping = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case out, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, out.data)
			out.sent <- err
			if err != nil {
				c.logger.Warn("write failed", "station", c.cfg.StationName, "error", err)
				c.onSocketClosed(conn, gen, websocket.CloseAbnormalClosure)
				return
			}
		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping failed", "station", c.cfg.StationName, "error", err)
				c.onSocketClosed(conn, gen, websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

// readPump owns every read from conn and routes inbound frames upward.
func (c *Client) readPump(conn *websocket.Conn, gen int) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			c.onSocketClosed(conn, gen, code)
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(payload)
		}
	}
}

// onSocketClosed tears down one connection generation exactly once and
// decides whether to reconnect.
func (c *Client) onSocketClosed(conn *websocket.Conn, gen int, code int) {
	c.mu.Lock()
	if c.generation != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	c.setStateLocked(StateDisconnected)
	stop := c.stopRequested
	if isNormalClose(code) {
		c.retryCount = 0
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Info("connection closed", "station", c.cfg.StationName, "code", code)

	if stop || isNormalClose(code) || c.cfg.AutoReconnectMaxRetries == 0 {
		return
	}
	go c.reconnectLoop()
}

// Normal close codes do not trigger reconnection. 1005 is "no status".
func isNormalClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseNoStatusReceived
}

func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.stopRequested || c.state == StateOpen {
			c.mu.Unlock()
			return
		}
		c.retryCount++
		retry := c.retryCount
		c.mu.Unlock()

		max := c.cfg.AutoReconnectMaxRetries
		if max >= 0 && retry > max {
			c.logger.Error("reconnect retries exhausted",
				"station", c.cfg.StationName, "retries", max)
			return
		}

		delay := c.backoffDelay(retry)
		c.logger.Info("reconnecting",
			"station", c.cfg.StationName, "attempt", retry, "delay", delay.String())
		time.Sleep(delay)

		c.mu.Lock()
		if c.stopRequested {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.connect(true); err == nil {
			return
		}
	}
}

// backoffDelay is baseTimeout * 2^min(retry, cap) with up to 25% jitter.
func (c *Client) backoffDelay(retry int) time.Duration {
	exp := math.Min(float64(retry), backoffRetryCap)
	base := float64(c.cfg.ReconnectBaseTimeout) * math.Pow(2, exp)
	jitter := base * 0.25 * rand.Float64()
	return time.Duration(base + jitter)
}
