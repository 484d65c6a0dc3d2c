package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"salechain/core/types"
	"salechain/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
)

// handleEventsWS streams committed events as JSON text frames. The optional
// "types" query parameter is a comma separated list of event types.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		http.Error(w, "event stream not configured", http.StatusServiceUnavailable)
		return
	}
	source := s.clientSource(r)
	if !s.allowSource(source) {
		observability.ModuleMetrics().RecordThrottle("ws", "rate_limit")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	var filter []string
	for _, part := range strings.Split(r.URL.Query().Get("types"), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			filter = append(filter, trimmed)
		}
	}
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Streams outlive the server's request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.cfg.Events.Subscribe(wsBuffer, filter...)
	defer sub.Cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	s.logger.Debug("event stream opened", "source", source, "types", filter)

	// Clients only listen; CloseRead surfaces their disconnects.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub.C()); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
	if dropped := sub.Dropped(); dropped > 0 {
		s.logger.Warn("event stream dropped events", "source", source, "dropped", dropped)
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
