package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/subscription"
)

func browserEndpoint(t *testing.T, url string) subscription.Endpoint {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	b, err := json.Marshal(map[string]any{
		"endpoint": url,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	return b
}

func pushService(t *testing.T, status int) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var authHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &authHeader
}

func newTestSender(t *testing.T) *WebPushSender {
	t.Helper()
	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewWebPushSender(keys, "mailto:ops@example.com", time.Hour, nil)
}

func TestWebPushSenderDelivers(t *testing.T) {
	srv, auth := pushService(t, http.StatusCreated)
	s := newTestSender(t)

	err := s.Send(context.Background(), browserEndpoint(t, srv.URL+"/push/1"), []byte(`{"title":"hi"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(auth.Load().(string), "vapid "))
}

func TestWebPushSenderClassifiesStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantGone bool
		wantErr  bool
	}{
		{http.StatusCreated, false, false},
		{http.StatusGone, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusTooManyRequests, false, true},
		{http.StatusInternalServerError, false, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := pushService(t, tt.status)
			s := newTestSender(t)

			err := s.Send(context.Background(), browserEndpoint(t, srv.URL), []byte(`{}`))
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantGone, errors.Is(err, ErrEndpointGone))
		})
	}
}

func TestWebPushSenderRejectsBadDescriptor(t *testing.T) {
	s := newTestSender(t)
	for _, raw := range []string{`not json`, `{"endpoint":"https://x"}`, `{}`} {
		err := s.Send(context.Background(), subscription.Endpoint(raw), []byte(`{}`))
		assert.ErrorIs(t, err, ErrEndpointGone, raw)
	}
}

func TestWebPushSenderTransportErrorIsTransient(t *testing.T) {
	srv, _ := pushService(t, http.StatusCreated)
	url := srv.URL
	srv.Close()

	s := newTestSender(t)
	err := s.Send(context.Background(), browserEndpoint(t, url), []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndpointGone)
}
