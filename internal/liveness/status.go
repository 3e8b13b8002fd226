// Package liveness derives screen status from heartbeat age and reconciles
// the stored online flag with a periodic sweep.
package liveness

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusWarning Status = "warning"
	StatusOffline Status = "offline"
)

// Thresholds bound the three states. A heartbeat younger than OnlineWindow is
// online, one at least OfflineAfter old is offline, and anything between warns.
type Thresholds struct {
	OnlineWindow time.Duration
	OfflineAfter time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{OnlineWindow: 30 * time.Second, OfflineAfter: 60 * time.Second}
}

// Classify computes the status at now. A missing heartbeat is offline.
func (t Thresholds) Classify(lastHeartbeat *time.Time, now time.Time) Status {
	if lastHeartbeat == nil {
		return StatusOffline
	}
	age := now.Sub(*lastHeartbeat)
	switch {
	case age < t.OnlineWindow:
		return StatusOnline
	case age < t.OfflineAfter:
		return StatusWarning
	default:
		return StatusOffline
	}
}

// Cutoff is the latest heartbeat the sweep still demotes.
func (t Thresholds) Cutoff(now time.Time) time.Time {
	return now.Add(-t.OfflineAfter)
}
