package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Tyrowin/nexus-chat-server/internal/subscription"
)

// VAPIDKeys is a base64url-encoded application server key pair.
type VAPIDKeys struct {
	Public  string
	Private string
}

// GenerateVAPIDKeys returns a fresh key pair.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return VAPIDKeys{Public: pub, Private: priv}, nil
}

// WebPushSender delivers payloads through the Web Push protocol.
type WebPushSender struct {
	keys    VAPIDKeys
	subject string
	ttl     int
	client  *http.Client
}

// NewWebPushSender returns a sender signing requests with keys. subject is a
// contact address or https URL; ttl is how long the push service may hold an
// undelivered message.
func NewWebPushSender(keys VAPIDKeys, subject string, ttl time.Duration, client *http.Client) *WebPushSender {
	if client == nil {
		client = &http.Client{}
	}
	return &WebPushSender{
		keys:    keys,
		subject: strings.TrimPrefix(subject, "mailto:"),
		ttl:     int(ttl / time.Second),
		client:  client,
	}
}

// Send delivers payload to ep. A 404 or 410 from the push service, or a
// descriptor that cannot be decoded, yields ErrEndpointGone.
func (s *WebPushSender) Send(ctx context.Context, ep subscription.Endpoint, payload []byte) error {
	var sub webpush.Subscription
	if err := json.Unmarshal(ep, &sub); err != nil {
		return fmt.Errorf("%w: decode descriptor: %v", ErrEndpointGone, err)
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return fmt.Errorf("%w: descriptor missing endpoint or keys", ErrEndpointGone)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  s.keys.Public,
		VAPIDPrivateKey: s.keys.Private,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: push service returned %d", ErrEndpointGone, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
