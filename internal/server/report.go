package server

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/presence"
)

// presenceReporter logs a per-user presence summary on a cron schedule.
type presenceReporter struct {
	cron    string
	tracker *presence.Tracker
	hub     *Hub
	log     *zap.Logger
	now     func() time.Time
}

func newPresenceReporter(cron string, tracker *presence.Tracker, hub *Hub, logger *zap.Logger) (*presenceReporter, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid presence report cron expression %q", cron)
	}
	return &presenceReporter{
		cron:    cron,
		tracker: tracker,
		hub:     hub,
		log:     logger,
		now:     time.Now,
	}, nil
}

// run blocks until ctx is cancelled, reporting at every cron tick.
func (r *presenceReporter) run(ctx context.Context) {
	r.log.Info("presence report scheduled", zap.String("cron", r.cron))
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now().UTC(), false)
		if err != nil {
			r.log.Error("computing next presence report failed", zap.String("cron", r.cron), zap.Error(err))
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.report()
		}
	}
}

func (r *presenceReporter) report() {
	snapshot := r.tracker.Snapshot()

	active := 0
	for _, p := range snapshot {
		if p.Active {
			active++
		}
		r.log.Info("user status",
			zap.String("user_id", p.UserID),
			zap.Bool("active", p.Active),
			zap.Int("connections", p.Connections),
			zap.Int("active_connections", p.ActiveConnections))
	}

	r.log.Info("presence summary",
		zap.String("users", humanize.Comma(int64(len(snapshot)))),
		zap.String("active_users", humanize.Comma(int64(active))),
		zap.String("connections", humanize.Comma(int64(r.hub.ClientCount()))),
		zap.String("retained_messages", humanize.Comma(int64(r.hub.messages.Len()))))
}
