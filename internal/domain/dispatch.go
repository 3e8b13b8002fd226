package domain

import (
	"context"
	"strconv"
	"time"
)

// Real-time event names shared by every transport.
const (
	EventContentUpdated     = "content-updated"
	EventContentChange      = "content-change"
	EventNotification       = "notification-received"
	EventUrgentNotification = "urgent-notification"
	EventEmergencyAlert     = "emergency-alert"
	EventRemoteControl      = "remote-control"
	EventRequestCapture     = "request-capture"
	EventScreenStatusUpdate = "screen-status-update"
	EventScreenApproved     = "screen-approved"
	EventCaptureResponse    = "capture-response"
	EventHeartbeat          = "heartbeat"
)

// Scope is an addressable dispatch target.
type Scope string

const GlobalScope Scope = "global"

func ScreenScope(code string) Scope {
	return Scope("screen:" + code)
}

func AreaScope(areaID int64) Scope {
	return Scope("area:" + strconv.FormatInt(areaID, 10))
}

// Broadcaster delivers events best-effort to connected sessions. Delivery to a
// scope with no members is a silent no-op.
type Broadcaster interface {
	ToScreen(ctx context.Context, code string, event string, payload any)
	ToArea(ctx context.Context, areaID int64, event string, payload any)
	Broadcast(ctx context.Context, event string, payload any)
	// Publish delivers once per session even when a session belongs to several scopes.
	Publish(ctx context.Context, event string, payload any, scopes ...Scope)
	// DisconnectScreen closes every session bound to the screen.
	DisconnectScreen(ctx context.Context, code string)
}

// ScreenStatusUpdate is the payload of EventScreenStatusUpdate.
type ScreenStatusUpdate struct {
	ScreenCode    string     `json:"screenCode"`
	Online        bool       `json:"online"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
	PlayerStatus  string     `json:"playerStatus,omitempty"`
}

// StatusScopes returns where a screen's status changes are announced.
func StatusScopes(screen *Screen) []Scope {
	scopes := []Scope{GlobalScope}
	if screen.AreaID != nil {
		scopes = append(scopes, AreaScope(*screen.AreaID))
	}
	return scopes
}

// RemoteCommand is the payload of EventRemoteControl.
type RemoteCommand struct {
	Action       string         `json:"action"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	ControlledBy *int64         `json:"controlledBy,omitempty"`
}

// CaptureRequest is the payload of EventRequestCapture.
type CaptureRequest struct {
	RequestID string `json:"requestId"`
}

// CaptureReply is what a screen sends back after a capture request.
type CaptureReply struct {
	RequestID  string    `json:"requestId,omitempty"`
	Image      string    `json:"image"`
	ScreenCode string    `json:"screenCode"`
	CapturedAt time.Time `json:"capturedAt"`
}

// DeviceScopes returns the scopes a screen's own connection joins.
func DeviceScopes(screen *Screen) []Scope {
	scopes := []Scope{ScreenScope(screen.Code)}
	if screen.AreaID != nil {
		scopes = append(scopes, AreaScope(*screen.AreaID))
	}
	return append(scopes, GlobalScope)
}
