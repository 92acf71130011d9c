package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yellowbus/route-tracker/internal/app/livemap"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

func newUpgrader(origins []string) websocket.Upgrader {
	u := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(origins) == 0 {
		return u
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	u.CheckOrigin = func(r *http.Request) bool {
		if allowed["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
	return u
}

// LiveRoute streams the route snapshot over a websocket: the current snapshot first,
// then one frame per change. Client messages are ignored.
func (s *Server) LiveRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := s.routeMember(w, r)
	if !ok {
		return
	}

	sub := livemap.NewSubscriber(s.registry, s.log)
	defer sub.Close()
	if err := sub.Attach(r.Context(), route); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.Warn("websocket upgrade failed", logger.Action("live_upgrade_failed"), logger.Err(err))
		return
	}
	defer conn.Close()

	s.log.Info("live stream opened", logger.Action("live_opened"), slog.String(logger.RouteKey, string(route)))
	defer s.log.Info("live stream closed", logger.Action("live_closed"), slog.String(logger.RouteKey, string(route)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readPump(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	if !writeFrame(conn, sub.Snapshot()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Changed():
			if !writeFrame(conn, sub.Snapshot()) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, snap livemap.Snapshot) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap) == nil
}
