// Package device handles frames screens send upstream, whichever transport
// carried them.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/platform/correlation"
	"github.com/crxwnd/digitalizacionTV/internal/screen"
)

type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, code string, report screen.HeartbeatReport) (*domain.Screen, error)
}

type CaptureResolver interface {
	ResolveCapture(ctx context.Context, code string, reply domain.CaptureReply) bool
}

// HeartbeatMessage is the heartbeat body over HTTP, WebSocket and MQTT.
type HeartbeatMessage struct {
	CurrentContent *domain.AssignmentPayload `json:"currentContent,omitempty"`
	Status         string                    `json:"status,omitempty"`
}

func (m HeartbeatMessage) Report() screen.HeartbeatReport {
	return screen.HeartbeatReport{Content: m.CurrentContent, Status: m.Status}
}

type Inbound struct {
	heartbeats HeartbeatRecorder
	captures   CaptureResolver
}

func NewInbound(heartbeats HeartbeatRecorder, captures CaptureResolver) *Inbound {
	return &Inbound{heartbeats: heartbeats, captures: captures}
}

// Handle applies one upstream frame from the screen identified by code. A
// heartbeat returns the refreshed screen; other events return nil.
func (in *Inbound) Handle(ctx context.Context, code string, env dispatch.Envelope) (*domain.Screen, error) {
	ctx = correlation.WithScreen(ctx, code)

	switch env.Event {
	case domain.EventHeartbeat:
		var msg HeartbeatMessage
		if err := decode(env.Payload, &msg); err != nil {
			return nil, err
		}
		return in.heartbeats.RecordHeartbeat(ctx, code, msg.Report())

	case domain.EventCaptureResponse:
		var reply domain.CaptureReply
		if err := decode(env.Payload, &reply); err != nil {
			return nil, err
		}
		if !in.captures.ResolveCapture(ctx, code, reply) {
			slog.DebugContext(ctx, "Capture reply had no waiter", "request_id", reply.RequestID)
		}
		return nil, nil

	default:
		slog.DebugContext(ctx, "Ignoring upstream event", "event", env.Event)
		return nil, nil
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
