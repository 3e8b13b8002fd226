package dispatch

// Session is one transport endpoint (a WebSocket, an MQTT device topic).
type Session interface {
	ID() string
	// Send enqueues a frame without blocking. False means the buffer is full.
	Send(frame []byte) bool
	Close(reason string)
}
