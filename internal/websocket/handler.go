package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"adminreports/internal/config"
	"adminreports/internal/infrastructure"
)

// Handler upgrades HTTP requests to WebSocket connections served by a Hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	timing   Timing
}

// NewHandler creates the upgrade handler. Browsers must connect from one of
// allowedOrigins; requests without an Origin header are accepted.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		timing: TimingFromConfig(cfg),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(o), "/")
		if o == "*" {
			wildcard = true
		}
		set[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.TrimRight(strings.ToLower(origin), "/")]
	}
}

// ServeHTTP upgrades the connection and starts the client pumps
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := infrastructure.GetTraceID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.hub.logger.WarnContext(r.Context(), "upgrade_failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()))
		return
	}

	client := NewClient(h.hub, wrapConn(conn), h.timing, traceID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
