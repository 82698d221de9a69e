package ocppj

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds how long a CALL waits for its CALLRESULT.
const DefaultRequestTimeout = 60 * time.Second

// ErrRequestTimeout rejects a pending request whose deadline fired before a
// correlated CALLRESULT or CALLERROR arrived.
var ErrRequestTimeout = errors.New("ocpp request timed out")

// Response is the terminal outcome of one outbound CALL.
type Response struct {
	Payload json.RawMessage
	Err     error
}

// pendingRequest tracks one in-flight CALL indexed by messageId.
type pendingRequest struct {
	messageID  string
	action     string
	enqueuedAt time.Time
	deadline   time.Time
	done       chan Response
}

// Correlator matches CALLRESULT/CALLERROR frames to their originating CALL by
// messageId and enforces per-request deadlines. A background reaper removes
// entries past their deadline so the pending map never holds expired requests.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	reapInterval time.Duration
	stopReaper   chan struct{}
	stopOnce     sync.Once
	logger       *slog.Logger
}

// NewCorrelator creates a correlator and starts its reaper.
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		pending:      make(map[string]*pendingRequest),
		reapInterval: time.Second,
		stopReaper:   make(chan struct{}),
		logger:       logger,
	}
	go c.reapLoop()
	return c
}

// NewMessageID returns a fresh UUID message id.
func NewMessageID() string {
	return uuid.NewString()
}

// Register records a pending request and returns the channel its terminal
// Response will be delivered on. The channel is buffered so resolution never
// blocks on a caller that already gave up.
func (c *Correlator) Register(messageID, action string, timeout time.Duration) <-chan Response {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	now := time.Now()
	req := &pendingRequest{
		messageID:  messageID,
		action:     action,
		enqueuedAt: now,
		deadline:   now.Add(timeout),
		done:       make(chan Response, 1),
	}

	c.mu.Lock()
	c.pending[messageID] = req
	c.mu.Unlock()

	return req.done
}

// ResolveResult completes the pending request for a CALLRESULT. An unknown
// messageId is logged and dropped, never answered with a CALLERROR.
func (c *Correlator) ResolveResult(messageID string, payload json.RawMessage) {
	req := c.take(messageID)
	if req == nil {
		c.logger.Warn("CALLRESULT for unknown message id, dropping", "messageId", messageID)
		return
	}
	req.done <- Response{Payload: payload}
}

// ResolveError completes the pending request for a CALLERROR. Unknown ids are
// logged; there is no retry.
func (c *Correlator) ResolveError(messageID string, wireErr *Error) {
	req := c.take(messageID)
	if req == nil {
		c.logger.Warn("CALLERROR for unknown message id, dropping",
			"messageId", messageID, "code", wireErr.Code)
		return
	}
	req.done <- Response{Err: wireErr}
}

// Cancel rejects a single pending request locally, e.g. on station stop.
func (c *Correlator) Cancel(messageID string, err error) {
	if req := c.take(messageID); req != nil {
		req.done <- Response{Err: err}
	}
}

// PendingCount reports how many requests are awaiting responses.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop halts the reaper and rejects everything still pending.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopReaper)
	})

	c.mu.Lock()
	pending := make([]*pendingRequest, 0, len(c.pending))
	for id, req := range c.pending {
		pending = append(pending, req)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, req := range pending {
		req.done <- Response{Err: ErrRequestTimeout}
	}
}

func (c *Correlator) take(messageID string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[messageID]
	if !ok {
		return nil
	}
	delete(c.pending, messageID)
	return req
}

func (c *Correlator) reapLoop() {
	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reapExpired(time.Now())
		case <-c.stopReaper:
			return
		}
	}
}

func (c *Correlator) reapExpired(now time.Time) {
	var expired []*pendingRequest

	c.mu.Lock()
	for id, req := range c.pending {
		if now.After(req.deadline) {
			expired = append(expired, req)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		c.logger.Warn("request deadline expired",
			"messageId", req.messageID, "action", req.action,
			"waited", now.Sub(req.enqueuedAt).String())
		req.done <- Response{Err: ErrRequestTimeout}
	}
}
