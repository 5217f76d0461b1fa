// Package notify decides which offline users get a push notification for a
// new message and hands the payload to the push delivery service.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
	"github.com/Tyrowin/nexus-chat-server/internal/subscription"
)

// DefaultTimeout bounds a single push delivery.
const DefaultTimeout = 5 * time.Second

// ErrEndpointGone reports that a push endpoint is permanently invalid and
// its subscription should be dropped.
var ErrEndpointGone = errors.New("notify: push endpoint gone")

// Sender delivers one payload to one endpoint.
type Sender interface {
	Send(ctx context.Context, ep subscription.Endpoint, payload []byte) error
}

// Presence answers whether a user is currently looking at the chat.
type Presence interface {
	IsActive(userID string) bool
}

// Subscriptions is the registry view the dispatcher needs.
type Subscriptions interface {
	All() []subscription.Entry
	RemoveIf(userID string, ep subscription.Endpoint) bool
}

// Report counts the outcome of one Dispatch call.
type Report struct {
	Sent    int
	Skipped int
	Removed int
	Failed  int
}

// Dispatcher fans a message out to every subscribed user that is neither
// its sender nor currently active.
type Dispatcher struct {
	presence Presence
	subs     Subscriptions
	sender   Sender
	timeout  time.Duration
	log      *zap.Logger
}

// NewDispatcher wires a dispatcher. A non-positive timeout falls back to
// DefaultTimeout.
func NewDispatcher(presence Presence, subs Subscriptions, sender Sender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		presence: presence,
		subs:     subs,
		sender:   sender,
		timeout:  timeout,
		log:      logger,
	}
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRemoved
	outcomeFailed
)

// Dispatch delivers msg to every eligible recipient concurrently and waits
// for all deliveries to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, msg messagelog.Message) Report {
	var report Report

	payload, err := NewPayload(msg).encode()
	if err != nil {
		d.log.Error("encoding push payload failed", zap.String("message_id", msg.ID), zap.Error(err))
		return report
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []outcome
	)
	for _, entry := range d.subs.All() {
		if entry.UserID == msg.SenderID || d.presence.IsActive(entry.UserID) {
			report.Skipped++
			continue
		}

		wg.Add(1)
		go func(entry subscription.Entry) {
			defer wg.Done()
			o := d.deliver(ctx, entry, payload, msg.ID)
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSent:
			report.Sent++
		case outcomeRemoved:
			report.Removed++
		case outcomeFailed:
			report.Failed++
		}
	}

	if report.Sent+report.Removed+report.Failed > 0 {
		d.log.Debug("push dispatch finished",
			zap.String("message_id", msg.ID),
			zap.Int("sent", report.Sent),
			zap.Int("skipped", report.Skipped),
			zap.Int("removed", report.Removed),
			zap.Int("failed", report.Failed))
	}
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, entry subscription.Entry, payload []byte, messageID string) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("push delivery panicked",
				zap.String("user_id", entry.UserID), zap.Any("panic", r))
			o = outcomeFailed
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(ctx, entry.Endpoint, payload)
	switch {
	case err == nil:
		d.log.Debug("push notification sent",
			zap.String("user_id", entry.UserID), zap.String("message_id", messageID))
		return outcomeSent
	case errors.Is(err, ErrEndpointGone):
		if !d.subs.RemoveIf(entry.UserID, entry.Endpoint) {
			d.log.Info("push endpoint gone but user has re-subscribed; keeping new subscription",
				zap.String("user_id", entry.UserID), zap.Error(err))
			return outcomeFailed
		}
		d.log.Info("removed expired push subscription",
			zap.String("user_id", entry.UserID), zap.Error(err))
		return outcomeRemoved
	default:
		d.log.Warn("push notification failed",
			zap.String("user_id", entry.UserID), zap.Error(fmt.Errorf("deliver %s: %w", messageID, err)))
		return outcomeFailed
	}
}
