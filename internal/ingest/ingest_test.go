package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/domain"
)

type fakeEngine struct {
	mu       sync.Mutex
	segments []domain.TranscriptSegment
	events   []domain.GameEvent
	commands []domain.GMCommand
}

func (f *fakeEngine) ProcessSegments(s []domain.TranscriptSegment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, s...)
}

func (f *fakeEngine) ProcessGameEvent(ev domain.GameEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEngine) HandleCommand(cmd domain.GMCommand) classifier.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return classifier.CommandResult{OK: true, Message: "act 2 started"}
}

func (f *fakeEngine) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func dialBridge(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bridge?name=" + name
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) bridgeReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reply bridgeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return reply
}

func newTestServer(engine Engine) (*httptest.Server, *BridgeManager) {
	bm := NewBridgeManager()
	mux := http.NewServeMux()
	mux.Handle("/ws/bridge", NewWebSocketHandler(engine, bm, "", true))
	return httptest.NewServer(mux), bm
}

func TestBridgeTranscriptAndEvents(t *testing.T) {
	engine := &fakeEngine{}
	srv, bm := newTestServer(engine)
	defer srv.Close()

	conn := dialBridge(t, srv, "discord")

	reply := roundTrip(t, conn, `{"type":"transcript","segments":[{"id":"s1","text":"hello","final":true},{"id":"s2","text":"there"}]}`)
	if reply.Type != MsgAck || reply.Accepted != 2 {
		t.Errorf("transcript reply = %+v", reply)
	}

	reply = roundTrip(t, conn, `{"type":"game_event","event":{"event_type":"combat_start"}}`)
	if reply.Type != MsgAck {
		t.Errorf("game event reply = %+v", reply)
	}

	reply = roundTrip(t, conn, `{"type":"ping"}`)
	if reply.Type != MsgPong {
		t.Errorf("ping reply = %+v", reply)
	}

	engine.mu.Lock()
	if len(engine.segments) != 2 || len(engine.events) != 1 || engine.events[0].EventType != "combat_start" {
		t.Errorf("engine saw segments=%d events=%+v", len(engine.segments), engine.events)
	}
	engine.mu.Unlock()

	if names := bm.Names(); len(names) != 1 || names[0] != "discord" {
		t.Errorf("Names() = %v, want [discord]", names)
	}
}

func TestBridgeChatCommands(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(engine)
	defer srv.Close()

	conn := dialBridge(t, srv, "vtt")

	// Plain chat gets no reply, so the ping answer must be the next frame.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","text":"nice roll"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if reply := roundTrip(t, conn, `{"type":"ping"}`); reply.Type != MsgPong {
		t.Fatalf("reply after plain chat = %+v, want pong", reply)
	}

	reply := roundTrip(t, conn, `{"type":"chat","text":"/act 2 45"}`)
	if reply.Type != MsgCommandResult || reply.Result == nil || !reply.Result.OK {
		t.Errorf("command reply = %+v", reply)
	}
	if engine.commandCount() != 1 || engine.commands[0].Type != "act" {
		t.Errorf("commands = %+v", engine.commands)
	}
}

func TestBridgeRejectsBadMessages(t *testing.T) {
	srv, _ := newTestServer(&fakeEngine{})
	defer srv.Close()

	conn := dialBridge(t, srv, "bad")
	tests := []struct {
		msg  string
		want string
	}{
		{`not json`, "invalid JSON"},
		{`{"type":"transcript"}`, "segments cannot be empty"},
		{`{"type":"game_event","event":{}}`, "event.event_type is required"},
		{`{"type":"dance"}`, "unknown message type: dance"},
	}
	for _, tt := range tests {
		reply := roundTrip(t, conn, tt.msg)
		if reply.Type != MsgError || reply.Error != tt.want {
			t.Errorf("%s: reply = %+v, want error %q", tt.msg, reply, tt.want)
		}
	}
}

func TestBridgeReconnectReplacesConnection(t *testing.T) {
	srv, bm := newTestServer(&fakeEngine{})
	defer srv.Close()

	first := dialBridge(t, srv, "discord")
	if reply := roundTrip(t, first, `{"type":"ping"}`); reply.Type != MsgPong {
		t.Fatalf("first ping = %+v", reply)
	}
	second := dialBridge(t, srv, "discord")
	if reply := roundTrip(t, second, `{"type":"ping"}`); reply.Type != MsgPong {
		t.Fatalf("second ping = %+v", reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("first connection read err = %v, want normal closure", err)
	}
	if names := bm.Names(); len(names) != 1 {
		t.Errorf("Names() = %v, want one bridge", names)
	}
}

func TestBridgeManagerUnregisterStale(t *testing.T) {
	bm := NewBridgeManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	bm.Register("discord", conn1)
	bm.Register("vtt", conn2)
	bm.Unregister("discord", conn2)

	if bm.Get("discord") != conn1 {
		t.Error("stale unregister removed the current connection")
	}
	bm.Unregister("discord", conn1)
	if bm.Get("discord") != nil {
		t.Error("expected discord to be unregistered")
	}
	if names := bm.Names(); len(names) != 1 || names[0] != "vtt" {
		t.Errorf("Names() = %v, want [vtt]", names)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewWebSocketHandler(&fakeEngine{}, NewBridgeManager(), "https://table.example", false)

	req := httptest.NewRequest(http.MethodGet, "/ws/bridge", nil)
	if !h.checkOrigin(req) {
		t.Error("missing origin should be allowed for native bridges")
	}
	req.Header.Set("Origin", "https://table.example")
	if !h.checkOrigin(req) {
		t.Error("configured origin should be allowed")
	}
	req.Header.Set("Origin", "https://evil.example")
	if h.checkOrigin(req) {
		t.Error("foreign origin should be rejected")
	}
}
