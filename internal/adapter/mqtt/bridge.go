// Package mqtt lets screens without a WebSocket talk to the coordinator over
// an MQTT broker. Each screen publishes envelopes to <prefix>/screens/<code>/up
// and receives dispatched events on <prefix>/screens/<code>/events.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos            = 1
	sessionBuffer  = 16
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// Options configures the broker connection.
type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// broker is the part of paho.Client the bridge uses.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// SessionBinder attaches device sessions to dispatch scopes.
type SessionBinder interface {
	Join(ctx context.Context, s dispatch.Session, scopes ...domain.Scope) error
	Leave(s dispatch.Session)
}

// InboundHandler applies an upstream frame for a screen.
type InboundHandler interface {
	Handle(ctx context.Context, code string, env dispatch.Envelope) (*domain.Screen, error)
}

type Bridge struct {
	prefix  string
	inbound InboundHandler
	binder  SessionBinder

	mu       sync.Mutex
	client   broker
	sessions map[string]*deviceSession
	ctx      context.Context

	// ready holds sessions with frames waiting; wake nudges the publish loop.
	readyMu sync.Mutex
	ready   []*deviceSession
	wake    chan struct{}

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewBridge(prefix string, inbound InboundHandler, binder SessionBinder) *Bridge {
	return &Bridge{
		prefix:   strings.TrimSuffix(prefix, "/"),
		inbound:  inbound,
		binder:   binder,
		sessions: make(map[string]*deviceSession),
		ctx:      context.Background(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the broker and starts forwarding. Subscriptions are renewed
// on every reconnect. ctx bounds the handlers' work and the bridge lifetime.
// A failed dial leaves the bridge untouched, so Connect may be retried.
func (b *Bridge) Connect(ctx context.Context, opts Options) error {
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c paho.Client) {
			if err := b.subscribe(c); err != nil {
				slog.Error("MQTT subscribe failed", "error", err)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("MQTT connection lost", "error", err)
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	b.start(ctx)

	slog.Info("MQTT bridge connected", "broker", opts.BrokerURL, "prefix", b.prefix)
	return nil
}

func (b *Bridge) start(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.wg.Add(1)
	go b.publishLoop()

	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.done:
		}
	}()
}

func (b *Bridge) subscribe(c broker) error {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	topic := b.prefix + "/screens/+/up"
	token := c.Subscribe(topic, qos, b.handleMessage)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	slog.Info("MQTT bridge subscribed", "topic", topic)
	return nil
}

// Close leaves every device session, stops forwarding and disconnects.
func (b *Bridge) Close() {
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()

		b.mu.Lock()
		sessions := b.sessions
		b.sessions = make(map[string]*deviceSession)
		client := b.client
		b.mu.Unlock()

		for _, s := range sessions {
			b.binder.Leave(s)
		}
		if client != nil {
			client.Disconnect(quiesceMillis)
		}
		slog.Info("MQTT bridge closed")
	})
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	code, ok := b.codeFromTopic(msg.Topic())
	if !ok {
		slog.Warn("MQTT message on unexpected topic", "topic", msg.Topic())
		return
	}

	env, err := dispatch.Decode(msg.Payload())
	if err != nil || env.Event == "" {
		slog.Warn("Discarding malformed MQTT frame", "screen_code", code)
		return
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	screen, err := b.inbound.Handle(ctx, code, env)
	if err != nil {
		if errors.Is(err, domain.ErrScreenNotFound) || errors.Is(err, domain.ErrNotApproved) {
			b.unbind(code)
		}
		slog.WarnContext(ctx, "MQTT upstream frame rejected", "screen_code", code, "event", env.Event, "error", err)
		return
	}
	if screen != nil {
		b.bind(ctx, screen)
	}
}

// codeFromTopic extracts <code> from <prefix>/screens/<code>/up.
func (b *Bridge) codeFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/screens/")
	if !ok {
		return "", false
	}
	code, kind, ok := strings.Cut(rest, "/")
	if !ok || kind != "up" || code == "" {
		return "", false
	}
	return code, true
}

func (b *Bridge) eventsTopic(code string) string {
	return b.prefix + "/screens/" + code + "/events"
}

// bind gives an approved screen a session on its device scopes, replacing
// the previous session when the screen moved area.
func (b *Bridge) bind(ctx context.Context, screen *domain.Screen) {
	scopes := domain.DeviceScopes(screen)

	b.mu.Lock()
	current := b.sessions[screen.Code]
	if current != nil && slices.Equal(current.scopes, scopes) {
		b.mu.Unlock()
		return
	}
	s := b.newSession(screen.Code, scopes)
	b.sessions[screen.Code] = s
	b.mu.Unlock()

	if err := b.binder.Join(ctx, s, scopes...); err != nil {
		b.forget(s)
		slog.WarnContext(ctx, "Failed to bind MQTT device session", "screen_code", screen.Code, "error", err)
		return
	}
	slog.InfoContext(ctx, "MQTT device session bound", "screen_code", screen.Code, "scopes", len(scopes))
}

func (b *Bridge) unbind(code string) {
	b.mu.Lock()
	s := b.sessions[code]
	delete(b.sessions, code)
	b.mu.Unlock()
	if s != nil {
		b.binder.Leave(s)
	}
}

// forget drops s if it is still the current session for its screen.
func (b *Bridge) forget(s *deviceSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[s.code] == s {
		delete(b.sessions, s.code)
	}
}

func (b *Bridge) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// schedule queues s for the publish loop and wakes it.
func (b *Bridge) schedule(s *deviceSession) {
	b.readyMu.Lock()
	b.ready = append(b.ready, s)
	b.readyMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.wake:
			b.drainReady()
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) drainReady() {
	b.readyMu.Lock()
	batch := b.ready
	b.ready = nil
	b.readyMu.Unlock()

	for _, s := range batch {
		// Cleared before flushing so a Send racing the flush reschedules.
		s.scheduled.Store(false)
		b.flush(s)
	}
}

func (b *Bridge) flush(s *deviceSession) {
	topic := b.eventsTopic(s.code)
	for {
		if b.closed() {
			return
		}
		select {
		case frame := <-s.frames:
			b.publish(topic, frame)
		default:
			return
		}
	}
}

func (b *Bridge) publish(topic string, frame []byte) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		slog.Warn("Dropping MQTT frame before broker connection", "topic", topic)
		return
	}

	token := client.Publish(topic, qos, false, frame)
	if !token.WaitTimeout(publishTimeout) {
		slog.Warn("MQTT publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}

// deviceSession is the dispatch.Session of one screen reachable over MQTT.
// Each session buffers its own frames, so only a screen that falls behind
// on its own queue is reported slow.
type deviceSession struct {
	code   string
	bridge *Bridge
	scopes []domain.Scope

	frames    chan []byte
	scheduled atomic.Bool
}

func (b *Bridge) newSession(code string, scopes []domain.Scope) *deviceSession {
	return &deviceSession{
		code:   code,
		bridge: b,
		scopes: scopes,
		frames: make(chan []byte, sessionBuffer),
	}
}

var _ dispatch.Session = (*deviceSession)(nil)

func (s *deviceSession) ID() string { return "mqtt:" + s.code }

func (s *deviceSession) Send(frame []byte) bool {
	if s.bridge.closed() {
		return false
	}
	select {
	case s.frames <- frame:
	default:
		return false
	}
	if s.scheduled.CompareAndSwap(false, true) {
		s.bridge.schedule(s)
	}
	return true
}

func (s *deviceSession) Close(reason string) {
	s.bridge.forget(s)
	slog.Debug("MQTT device session closed", "screen_code", s.code, "reason", reason)
}
