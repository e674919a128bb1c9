package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"licensestake/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// eventFilter keeps envelopes whose type starts with one of the prefixes.
// An empty filter keeps everything.
type eventFilter []string

func parseEventFilter(raw string) eventFilter {
	var out eventFilter
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (f eventFilter) match(env events.Envelope) bool {
	if len(f) == 0 {
		return true
	}
	for _, prefix := range f {
		if strings.HasPrefix(env.Type, prefix) {
			return true
		}
	}
	return false
}

// handleEventStream upgrades to a websocket, replays retained events after
// ?cursor= and then pushes new ones. ?types= takes comma-separated type
// prefixes.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "stream_disabled", "event stream is not configured")
		return
	}
	query := r.URL.Query()
	var cursor uint64
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		cursor = parsed
	}
	filter := parseEventFilter(query.Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.pushEvents(ctx, conn, cursor, filter); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		s.logger.Warn("event stream ended", "request_id", RequestIDFrom(r.Context()), "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (s *Server) pushEvents(ctx context.Context, conn *websocket.Conn, cursor uint64, filter eventFilter) error {
	updates, backlog, cancel := s.stream.Subscribe(cursor)
	defer cancel()

	for _, env := range backlog {
		if !filter.match(env) {
			continue
		}
		if err := sendEnvelope(ctx, conn, env); err != nil {
			return err
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			pingCtx, stop := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			stop()
			if err != nil {
				return err
			}
		case env, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
			}
			if !filter.match(env) {
				continue
			}
			if err := sendEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func sendEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, stop := context.WithTimeout(ctx, wsWriteTimeout)
	defer stop()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
