package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
)

func TestPresenceReport(t *testing.T) {
	h, _ := newTestHub(t, HubOptions{})
	a, b := attachOffline(h), attachOffline(h)
	h.handleIdentify(a, identifyFrame{UserID: "alice"})
	h.handleIdentify(b, identifyFrame{UserID: "bob"})
	h.handleIdentify(attachOffline(h), identifyFrame{UserID: "bob"})
	h.handleVisibility(a, visibilityFrame{State: "visible"})
	h.messages.Append(messagelog.Draft{Content: "hi"})

	core, logs := observer.New(zap.InfoLevel)
	r, err := newPresenceReporter("* * * * *", h.presence, h, zap.New(core))
	require.NoError(t, err)

	r.report()

	users := logs.FilterMessage("user status").AllUntimed()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ContextMap()["user_id"])
	assert.Equal(t, true, users[0].ContextMap()["active"])
	assert.Equal(t, int64(2), users[1].ContextMap()["connections"])

	summary := logs.FilterMessage("presence summary").AllUntimed()
	require.Len(t, summary, 1)
	fields := summary[0].ContextMap()
	assert.Equal(t, "2", fields["users"])
	assert.Equal(t, "1", fields["active_users"])
	assert.Equal(t, "3", fields["connections"])
	assert.Equal(t, "1", fields["retained_messages"])
}

func TestPresenceReporterRejectsBadCron(t *testing.T) {
	h, _ := newTestHub(t, HubOptions{})
	_, err := newPresenceReporter("sometimes", h.presence, h, zap.NewNop())
	assert.Error(t, err)
}

func TestPresenceReporterStopsOnCancel(t *testing.T) {
	h, _ := newTestHub(t, HubOptions{})
	r, err := newPresenceReporter("0 0 1 1 *", h.presence, h, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
