package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	policy, ignored := newOriginPolicy([]string{"HTTP://LocalHost:8080", " https://chat.example ", "not a url", ""})
	assert.Equal(t, []string{"not a url"}, ignored)

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"https://chat.example", true},
		{"https://CHAT.example/path", true},
		{"https://evil.example", false},
		{"http://localhost:9090", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.allows(requestWithOrigin(tt.origin)), tt.origin)
	}
	assert.Equal(t, []string{"http://localhost:8080", "https://chat.example"}, policy.corsOrigins())
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy, _ := newOriginPolicy([]string{"*"})
	assert.True(t, policy.allows(requestWithOrigin("https://anywhere.example")))
	assert.False(t, policy.allows(requestWithOrigin("")))
	assert.Empty(t, policy.corsOrigins())
}
