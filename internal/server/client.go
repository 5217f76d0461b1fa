package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBufSize = 256

// deviceClass is inferred once from the upgrade request's User-Agent.
type deviceClass string

const (
	deviceBrowser deviceClass = "browser"
	// iOS home-screen apps do not reliably report going to the background.
	deviceIOSPWA deviceClass = "iOS_PWA"
)

func detectDeviceClass(userAgent string) deviceClass {
	ua := strings.ToLower(userAgent)
	apple := strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod")
	if apple && strings.Contains(ua, "applewebkit") {
		return deviceIOSPWA
	}
	return deviceBrowser
}

// Client is one live WebSocket connection. It is owned by the Hub; the
// presence tracker only reads its activity flag.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	device deviceClass
	log    *zap.Logger

	rateLimiter *rateLimiter

	identityMu sync.RWMutex
	userID     string
	username   string

	active atomic.Bool
	alive  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, addr, userAgent string) *Client {
	id := uuid.NewString()
	c := &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, sendBufSize),
		hub:         hub,
		addr:        addr,
		device:      detectDeviceClass(userAgent),
		rateLimiter: newRateLimiter(hub.opts.RateLimit.Burst, hub.opts.RateLimit.RefillInterval),
		done:        make(chan struct{}),
	}
	c.log = hub.log.With(zap.String("conn_id", id), zap.String("addr", addr))
	c.alive.Store(true)
	if conn != nil {
		conn.SetReadLimit(hub.opts.MaxMessageSize)
	}
	return c
}

// ID returns the process-local connection id.
func (c *Client) ID() string { return c.id }

// IsActive reports whether the client last said it was in the foreground.
func (c *Client) IsActive() bool { return c.active.Load() }

// SetActive records the client's visibility.
func (c *Client) SetActive(active bool) { c.active.Store(active) }

// Identity returns the bound user, empty until an identify frame arrives.
func (c *Client) Identity() (userID, username string) {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.userID, c.username
}

func (c *Client) setIdentity(userID, username string) (previous string) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	previous = c.userID
	c.userID, c.username = userID, username
	return previous
}

// SafeSend queues message for the write pump. It gives up after timeout
// or once the client is closed.
func (c *Client) SafeSend(message []byte, timeout time.Duration) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return false
	case c.send <- message:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close sends a close frame and tears down the connection. Safe to call
// more than once and from any goroutine.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(c.hub.opts.WriteWait)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("writing close frame failed", zap.Error(err))
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("closing connection failed", zap.Error(err))
		}
	})
}

// terminate drops the connection without a close handshake.
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// markUnconfirmed starts a new ping round. It returns false when the client
// never answered the previous ping.
func (c *Client) markUnconfirmed() bool {
	return c.alive.Swap(false)
}

// ping writes a ping control frame, giving up after WriteWait.
func (c *Client) ping() {
	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(c.hub.opts.WriteWait)
	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("writing ping failed", zap.Error(err))
	}
}

// handleReadError logs appropriate error messages based on the error type.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size; closing", zap.Int64("limit", c.hub.opts.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Debug("websocket read ended", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer c.hub.remove(c, websocket.CloseNormalClosure, "")

	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		f, err := decodeFrame(raw)
		if err != nil {
			reason := rejectMalformed
			if errors.Is(err, errUnknownFrame) {
				reason = rejectUnknown
			}
			c.log.Warn("ignoring frame", zap.String("reason", reason), zap.Error(err))
			c.hub.metrics.framesRejected.WithLabelValues(reason).Inc()
			continue
		}

		// identify and visibility frames carry presence state and are never throttled
		if _, isChat := f.(chatFrame); isChat && !c.rateLimiter.allow() {
			c.log.Warn("rate limit exceeded; discarding chat frame",
				zap.Int("burst", c.hub.opts.RateLimit.Burst),
				zap.Duration("interval", c.hub.opts.RateLimit.RefillInterval))
			c.hub.metrics.framesRejected.WithLabelValues(rejectRateLimited).Inc()
			continue
		}

		c.hub.handleFrame(c, f)
	}
}

func (c *Client) writePump() {
	defer c.hub.remove(c, websocket.CloseNormalClosure, "")

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				return
			}
		}
	}
}

// writeTextMessage writes one event per WebSocket message.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		c.log.Debug("setting write deadline failed", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("writing message failed", zap.Error(err))
		}
		return false
	}
	return true
}
