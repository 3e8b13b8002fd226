// Package correlation carries per-request and per-device log fields through
// a context and stamps them onto every slog record.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Header is the request header carrying an upstream correlation ID.
const Header = "X-Request-ID"

const maxIDLength = 64

type fields struct {
	id     string
	screen string
}

type ctxKey struct{}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(ctxKey{}).(fields)
	return f
}

// NewID returns an 8-character correlation ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FromHeader keeps an upstream ID that is short printable ASCII and mints a
// fresh one otherwise.
func FromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxIDLength || strings.IndexFunc(value, unprintable) >= 0 {
		return NewID()
	}
	return value
}

func unprintable(r rune) bool { return r < 0x21 || r > 0x7e }

func WithID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.id = id
	return context.WithValue(ctx, ctxKey{}, f)
}

// WithScreen tags ctx with the screen a frame or command concerns.
func WithScreen(ctx context.Context, code string) context.Context {
	f := fromContext(ctx)
	f.screen = code
	return context.WithValue(ctx, ctxKey{}, f)
}

// ID returns the correlation ID on ctx, if any.
func ID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).id
	return id, id != ""
}

func Screen(ctx context.Context) (string, bool) {
	code := fromContext(ctx).screen
	return code, code != ""
}

// Handler decorates records with correlation_id and screen_code when present.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	f := fromContext(ctx)
	if f.id != "" {
		r.AddAttrs(slog.String("correlation_id", f.id))
	}
	if f.screen != "" {
		r.AddAttrs(slog.String("screen_code", f.screen))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewHandler(h.inner.WithAttrs(attrs))
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return NewHandler(h.inner.WithGroup(name))
}
