package ws

import (
	"time"

	"cinema-chat/internal/observability"
)

// ConnInfo identifies a device connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// lifecycleEvent builds the envelope for event. Duration is zero for ws_connect.
func (i ConnInfo) lifecycleEvent(event, reason string, now time.Time) observability.EventEnvelope {
	var durationMS int64
	if event != "ws_connect" {
		durationMS = now.Sub(i.ConnectedAt).Milliseconds()
	}
	return observability.WSLifecycleEvent(event, i.ConnID, i.UserID, i.DeviceID, i.IP, durationMS, reason)
}

func (i ConnInfo) headers() map[string]string {
	return observability.BuildHeaders(i.RequestID, i.TraceID)
}
