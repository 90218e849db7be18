package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/domain"
)

// Engine receives bridge traffic. *classifier.Classifier satisfies it.
type Engine interface {
	ProcessSegments(segments []domain.TranscriptSegment)
	ProcessGameEvent(ev domain.GameEvent)
	HandleCommand(cmd domain.GMCommand) classifier.CommandResult
}

// Bridge message types.
const (
	MsgTranscript    = "transcript"
	MsgGameEvent     = "game_event"
	MsgChat          = "chat"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgAck           = "ack"
	MsgCommandResult = "command_result"
	MsgError         = "error"
)

// bridgeMessage is the inbound envelope.
type bridgeMessage struct {
	Type     string                     `json:"type"`
	Segments []domain.TranscriptSegment `json:"segments,omitempty"`
	Event    *domain.GameEvent          `json:"event,omitempty"`
	Text     string                     `json:"text,omitempty"`
}

// bridgeReply is the outbound envelope.
type bridgeReply struct {
	Type     string                    `json:"type"`
	Accepted int                       `json:"accepted,omitempty"`
	Result   *classifier.CommandResult `json:"result,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// WebSocketHandler accepts bridge connections on /ws/bridge?name=<bridge>.
type WebSocketHandler struct {
	engine        Engine
	bm            *BridgeManager
	allowedOrigin string
	isDev         bool
	readLimit     int64
	writeTimeout  time.Duration
}

// NewWebSocketHandler creates a new bridge WebSocket handler.
func NewWebSocketHandler(engine Engine, bm *BridgeManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		engine:        engine,
		bm:            bm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		readLimit:     1 << 20,
		writeTimeout:  5 * time.Second,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "default"
	}
	slog.Info("[INGEST] Bridge connection request", "bridge", name, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("[INGEST] Failed to accept WebSocket", "error", err, "bridge", name)
		return
	}
	ws.SetReadLimit(h.readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bridge session ended"); closeErr != nil {
			slog.Debug("[INGEST] Failed to close websocket", "error", closeErr, "bridge", name)
		}
	}()

	h.bm.Register(name, ws)
	defer h.bm.Unregister(name, ws)

	h.readLoop(r.Context(), ws, name)
	slog.Info("[INGEST] Bridge session ended", "bridge", name)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("[INGEST] WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, name string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("[INGEST] WebSocket closed by bridge", "bridge", name)
			} else if ctx.Err() == nil {
				slog.Warn("[INGEST] WebSocket read error", "error", err, "bridge", name)
			}
			return
		}

		reply := h.dispatch(data, name)
		if reply == nil {
			continue
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("[INGEST] Failed to send reply", "error", err, "bridge", name)
			return
		}
	}
}

// dispatch applies one inbound message and returns the reply, if any.
func (h *WebSocketHandler) dispatch(data []byte, name string) *bridgeReply {
	var msg bridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &bridgeReply{Type: MsgError, Error: "invalid JSON"}
	}

	switch msg.Type {
	case MsgTranscript:
		if len(msg.Segments) == 0 {
			return &bridgeReply{Type: MsgError, Error: "segments cannot be empty"}
		}
		h.engine.ProcessSegments(msg.Segments)
		return &bridgeReply{Type: MsgAck, Accepted: len(msg.Segments)}
	case MsgGameEvent:
		if msg.Event == nil || msg.Event.EventType == "" {
			return &bridgeReply{Type: MsgError, Error: "event.event_type is required"}
		}
		h.engine.ProcessGameEvent(*msg.Event)
		return &bridgeReply{Type: MsgAck, Accepted: 1}
	case MsgChat:
		cmd, ok := domain.ParseCommand(msg.Text)
		if !ok {
			// Ordinary chat is not classified.
			return nil
		}
		res := h.engine.HandleCommand(cmd)
		return &bridgeReply{Type: MsgCommandResult, Result: &res}
	case MsgPing:
		return &bridgeReply{Type: MsgPong}
	default:
		slog.Debug("[INGEST] Unknown message type", "type", msg.Type, "bridge", name)
		return &bridgeReply{Type: MsgError, Error: "unknown message type: " + msg.Type}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
