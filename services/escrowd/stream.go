package escrowd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/events"
)

const wsWriteTimeout = 10 * time.Second

// streamFilter narrows the event stream. Non-operators only see events for
// trades in which they are seller or buyer.
type streamFilter struct {
	trade   string
	account string
}

func (f streamFilter) match(env events.Envelope) bool {
	if env.Event == nil {
		return false
	}
	attrs := env.Event.Attributes
	if f.trade != "" && attrs["tradeId"] != f.trade {
		return false
	}
	if f.account != "" && attrs["seller"] != f.account && attrs["buyer"] != f.account {
		return false
	}
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	filter := streamFilter{trade: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.URL.Query().Get("trade")), "0x"))}
	if id, ok := IdentityFromContext(r.Context()); ok && !id.HasScope(s.operatorScope) {
		filter.account = hex.EncodeToString(id.Account[:])
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, filter streamFilter) error {
	updates, cancel, backlog := s.bus.Subscribe(ctx, cursor)
	defer cancel()

	for _, env := range backlog {
		if !filter.match(env) {
			continue
		}
		if err := writeEnvelope(ctx, conn, env); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.match(env) {
				continue
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
