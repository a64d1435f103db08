package dispatcher

import (
	"context"
	"time"

	"github.com/RaelFilh96/Analise-de-Aderencia/metrics"
	"github.com/RaelFilh96/Analise-de-Aderencia/session"
)

const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeat probes the session on a fixed interval and makes a single
// reconnect attempt whenever the probe fails.
type Heartbeat struct {
	session        *session.Supervisor
	interval       time.Duration
	reconnectDelay time.Duration
}

func NewHeartbeat(sup *session.Supervisor, interval, reconnectDelay time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{session: sup, interval: interval, reconnectDelay: reconnectDelay}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	log.Infof("Heartbeat every %v", h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}

// Beat runs one probe and reports whether the session is up afterwards.
func (h *Heartbeat) Beat(ctx context.Context) bool {
	if h.session.CheckConnection(ctx) {
		metrics.SetSessionConnected(true)
		return true
	}
	metrics.IncHeartbeatFailure()
	if err := h.session.Reconnect(ctx, 1, h.reconnectDelay); err != nil {
		log.Warningf("MT5 still disconnected after reconnect attempt: %v", err)
		metrics.SetSessionConnected(false)
		return false
	}
	metrics.SetSessionConnected(true)
	return true
}
