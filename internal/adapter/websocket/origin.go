// Package websocket configures the socket upgrade shared by the screen and
// dashboard endpoints.
package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gorillaws "github.com/gorilla/websocket"
)

const (
	readBufferSize  = 4096
	writeBufferSize = 4096
)

// kioskSchemes are origins of players that load a packaged page rather than
// the dashboard (browser kiosks, Electron shells).
var kioskSchemes = []string{"file://", "app://"}

// OriginPolicy decides which browser origins may open a socket.
type OriginPolicy struct {
	// AppURL is the dashboard's public URL; its scheme and host are allowed.
	AppURL string
	// Extra lists further exact origins, e.g. a second dashboard host.
	Extra []string
	// AllowLocalhost admits localhost and 127.0.0.1 on any port.
	AllowLocalhost bool
}

func NewUpgrader(policy OriginPolicy) *gorillaws.Upgrader {
	return &gorillaws.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     policy.Check,
	}
}

// Check admits non-browser clients (no Origin, or "null") and kiosk players
// outright; everything else must match the allow list.
func (p OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "" || origin == "null":
		return true
	case hasKioskScheme(origin):
		return true
	case p.allowed(origin):
		return true
	case p.AllowLocalhost && isLocalhost(origin):
		return true
	}

	slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func (p OriginPolicy) allowed(origin string) bool {
	if app := originOf(p.AppURL); app != "" && origin == app {
		return true
	}
	for _, extra := range p.Extra {
		if o := originOf(extra); o != "" && origin == o {
			return true
		}
	}
	return false
}

func hasKioskScheme(origin string) bool {
	for _, scheme := range kioskSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	return false
}

// originOf reduces a URL to scheme://host[:port]; "" when it has no host.
func originOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhost(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
