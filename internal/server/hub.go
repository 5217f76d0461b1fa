package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
	"github.com/Tyrowin/nexus-chat-server/internal/notify"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
)

// ErrHubClosed is returned when registering on a hub that has shut down.
var ErrHubClosed = errors.New("hub is shut down")

// Notifier fans a freshly stored message out to offline users.
type Notifier interface {
	Dispatch(ctx context.Context, msg messagelog.Message) notify.Report
}

// HubOptions tunes per-connection limits and the liveness sweep.
type HubOptions struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	PingInterval   time.Duration
	WriteWait      time.Duration
	SendTimeout    time.Duration
}

func hubOptionsFromConfig(cfg *Config) HubOptions {
	return HubOptions{
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
		PingInterval:   cfg.PingInterval,
		WriteWait:      cfg.WriteWait,
		SendTimeout:    cfg.SendTimeout,
	}
}

func (o HubOptions) withDefaults() HubOptions {
	d := defaultConfig()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.RateLimit.Burst <= 0 {
		o.RateLimit.Burst = d.RateLimit.Burst
	}
	if o.RateLimit.RefillInterval <= 0 {
		o.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = d.SendTimeout
	}
	return o
}

// Hub owns every live connection. It dispatches inbound frames, broadcasts
// new messages and runs the liveness sweep.
type Hub struct {
	messages *messagelog.Log
	presence *presence.Tracker
	notifier Notifier
	metrics  *metrics
	log      *zap.Logger
	opts     HubOptions

	mutex   sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	sendPing func(*Client)

	wg      sync.WaitGroup // pumps and push dispatches
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started chan struct{}
	once    sync.Once
}

// NewHub creates a hub. notifier may be nil to disable push delivery; a nil
// m registers metrics on a private registry.
func NewHub(messages *messagelog.Log, tracker *presence.Tracker, notifier Notifier, m *metrics, logger *zap.Logger, opts HubOptions) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = newMetrics(prometheus.NewRegistry(), nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		messages: messages,
		presence: tracker,
		notifier: notifier,
		metrics:  m,
		log:      logger,
		opts:     opts.withDefaults(),
		clients:  make(map[*Client]struct{}),
		sendPing: (*Client).ping,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  make(chan struct{}),
	}
}

// Register adopts an upgraded connection: the client is sent the current
// log as an initial event and then joins the broadcast set.
func (h *Hub) Register(conn *websocket.Conn, addr, userAgent string) (*Client, error) {
	client := newClient(conn, h, addr, userAgent)

	// Snapshot and join share the lock Broadcast takes for its client list,
	// so every message reaches the client through at least one of the two.
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		client.close(websocket.CloseGoingAway, "server shutting down")
		return nil, ErrHubClosed
	}
	initial, err := encodeInitial(h.messages.Since(nil))
	if err != nil {
		h.mutex.Unlock()
		client.close(websocket.CloseInternalServerErr, "")
		return nil, err
	}
	client.send <- initial
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.wg.Add(2)
	h.mutex.Unlock()

	h.metrics.connections.Inc()
	client.log.Info("client registered",
		zap.String("device", string(client.device)), zap.Int("total_clients", total))

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return client, nil
}

// remove closes the client and drops it from the live set and presence.
// Only the first call for a client has any effect.
func (h *Hub) remove(client *Client, code int, reason string) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mutex.Unlock()

	client.close(code, reason)
	if !ok {
		return
	}

	if userID, _ := client.Identity(); userID != "" {
		h.presence.Detach(userID, client.id)
	}
	h.metrics.connections.Dec()
	client.log.Info("client unregistered", zap.Int("total_clients", total))
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) handleFrame(c *Client, f frame) {
	switch f := f.(type) {
	case identifyFrame:
		h.handleIdentify(c, f)
	case chatFrame:
		h.handleChat(c, f)
	case visibilityFrame:
		h.handleVisibility(c, f)
	}
}

func (h *Hub) handleIdentify(c *Client, f identifyFrame) {
	previous := c.setIdentity(f.UserID, f.Username)
	h.presence.Attach(f.UserID, c)
	if c.isClosed() {
		// lost a race with remove; it may have read the old identity
		h.presence.Detach(f.UserID, c.id)
		return
	}
	if previous != "" && previous != f.UserID {
		c.log.Info("client re-identified",
			zap.String("previous_user_id", previous), zap.String("user_id", f.UserID))
		return
	}
	c.log.Info("client identified",
		zap.String("user_id", f.UserID),
		zap.String("username", f.Username),
		zap.String("device", string(c.device)))
}

func (h *Hub) handleChat(c *Client, f chatFrame) {
	draft := f.Draft
	if userID, username := c.Identity(); userID != "" {
		draft.SenderID = userID
		if username != "" {
			draft.SenderName = username
		}
	}

	msg := h.messages.Append(draft)
	h.metrics.messages.Inc()
	c.log.Debug("message stored", zap.String("message_id", msg.ID), zap.String("sender_id", msg.SenderID))

	h.Broadcast(msg)
	h.notify(msg)
}

func (h *Hub) handleVisibility(c *Client, f visibilityFrame) {
	userID, _ := c.Identity()
	if userID == "" {
		c.log.Warn("visibility frame before identify; ignoring", zap.String("state", f.State))
		h.metrics.framesRejected.WithLabelValues(rejectNotIdentified).Inc()
		return
	}
	if err := h.presence.SetActive(c.id, f.visible()); err != nil {
		c.log.Warn("visibility update failed", zap.Error(err))
		return
	}
	c.log.Debug("visibility changed",
		zap.String("user_id", userID),
		zap.String("state", f.State),
		zap.Bool("user_active", h.presence.IsActive(userID)))
}

// Broadcast sends msg to every live connection. A connection whose queue
// stays full past the send timeout is disconnected.
func (h *Hub) Broadcast(msg messagelog.Message) {
	payload, err := encodeMessage(msg)
	if err != nil {
		h.log.Error("encoding message event failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	clients := h.getClientSnapshot()
	var failed []*Client
	for _, client := range clients {
		if !client.SafeSend(payload, h.opts.SendTimeout) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		if client.isClosed() {
			continue
		}
		h.metrics.broadcastFailures.Inc()
		client.log.Warn("send queue full; disconnecting slow client", zap.String("message_id", msg.ID))
		h.remove(client, websocket.ClosePolicyViolation, "send queue full")
	}
	h.log.Debug("message broadcast",
		zap.String("message_id", msg.ID),
		zap.Int("clients", len(clients)),
		zap.Int("failed", len(failed)))
}

// notify hands msg to the push dispatcher without holding up the sender's
// read loop.
func (h *Hub) notify(msg messagelog.Message) {
	if h.notifier == nil {
		return
	}

	h.mutex.RLock()
	if h.closed {
		h.mutex.RUnlock()
		return
	}
	h.wg.Add(1)
	h.mutex.RUnlock()

	go func() {
		defer h.wg.Done()
		report := h.notifier.Dispatch(h.ctx, msg)
		h.metrics.observePush(report)
	}()
}

// Run drives the liveness sweep until Shutdown is called.
func (h *Hub) Run() {
	h.once.Do(func() { close(h.started) })
	defer close(h.done)

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates clients that missed the previous ping and pings the rest.
// Pings are written concurrently; a round takes at most WriteWait.
func (h *Hub) sweep() {
	var pings sync.WaitGroup
	for _, client := range h.getClientSnapshot() {
		if client.markUnconfirmed() {
			pings.Add(1)
			go func() {
				defer pings.Done()
				h.sendPing(client)
			}()
			continue
		}
		h.metrics.livenessTerminations.Inc()
		client.log.Info("client missed ping; terminating")
		client.terminate()
		h.remove(client, websocket.CloseGoingAway, "")
	}
	pings.Wait()
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()

	clients := h.getClientSnapshot()
	for _, client := range clients {
		h.remove(client, websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the sweep, closes every connection and waits for the
// pumps and pending push deliveries, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	select {
	case <-h.started:
		<-h.done
	default:
		// Run was never started
		h.shutdownClients()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
