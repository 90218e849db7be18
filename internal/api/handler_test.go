//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
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
	if cmd.Type == "act" && len(cmd.Args) == 0 {
		return classifier.CommandResult{OK: false, Message: "usage: /act <n> [minutes]"}
	}
	return classifier.CommandResult{OK: true, Message: "ok"}
}

func (f *fakeEngine) Snapshot() pacing.State {
	return pacing.State{AssistantState: domain.StateActive, Act: 2, Scene: "Docks"}
}

func (f *fakeEngine) QueueDepth() int { return 3 }

type fakeHistory struct {
	batches []domain.TriggerBatch
	advice  map[string][]*advisor.Advice
	err     error
	limit   int
}

func (f *fakeHistory) ListBatches(_ context.Context, limit int) ([]domain.TriggerBatch, error) {
	f.limit = limit
	return f.batches, f.err
}

func (f *fakeHistory) ListAdvice(_ context.Context, batchID string) ([]*advisor.Advice, error) {
	return f.advice[batchID], f.err
}

func newTestRouter(engine Engine, history History) http.Handler {
	r := chi.NewRouter()
	NewSessionHandler(NewHandler(engine, history), nil).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestPostTranscript(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestRouter(engine, nil)

	w := do(t, h, http.MethodPost, "/api/transcript",
		`{"segments":[{"id":"s1","text":"who runs the docks?","user_id":"p1","final":true}]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if len(engine.segments) != 1 || engine.segments[0].Text != "who runs the docks?" || !engine.segments[0].Final {
		t.Errorf("segments = %+v", engine.segments)
	}

	for _, body := range []string{``, `{"segments":[]}`, `{"segments":`} {
		if w := do(t, h, http.MethodPost, "/api/transcript", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestPostTranscriptTooLarge(t *testing.T) {
	h := newTestRouter(&fakeEngine{}, nil)
	body := `{"segments":[{"text":"` + strings.Repeat("a", defaultMaxRequestBodySize) + `"}]}`
	w := do(t, h, http.MethodPost, "/api/transcript", body)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "too large") {
		t.Errorf("status = %d body = %s, want 400 too large", w.Code, w.Body.String())
	}
}

func TestPostGameEvent(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestRouter(engine, nil)

	w := do(t, h, http.MethodPost, "/api/events", `{"event_type":"scene_change","data":{"scene":"Warehouse"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(engine.events) != 1 || engine.events[0].Data["scene"] != "Warehouse" {
		t.Errorf("events = %+v", engine.events)
	}

	if w := do(t, h, http.MethodPost, "/api/events", `{"data":{}}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing event_type: status = %d, want 400", w.Code)
	}
}

func TestPostCommand(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestRouter(engine, nil)

	w := do(t, h, http.MethodPost, "/api/commands", `{"text":"/act 2 45"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/commands", `{"type":"/sleep"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(engine.commands) != 2 || engine.commands[0].Type != "act" || engine.commands[1].Type != "sleep" {
		t.Fatalf("commands = %+v", engine.commands)
	}

	w = do(t, h, http.MethodPost, "/api/commands", `{"type":"act"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid command: status = %d, want 422", w.Code)
	}
	var res classifier.CommandResult
	decode(t, w, &res)
	if res.OK || res.Message == "" {
		t.Errorf("result = %+v, want failure with usage", res)
	}

	if w := do(t, h, http.MethodPost, "/api/commands", `{"text":"just chatting"}`); w.Code != http.StatusBadRequest {
		t.Errorf("non-command text: status = %d, want 400", w.Code)
	}
}

func TestGetState(t *testing.T) {
	h := newTestRouter(&fakeEngine{}, nil)
	w := do(t, h, http.MethodGet, "/api/state", "")

	var got struct {
		State      pacing.State `json:"state"`
		QueueDepth int          `json:"queue_depth"`
	}
	decode(t, w, &got)
	if got.State.Scene != "Docks" || got.State.AssistantState != domain.StateActive || got.QueueDepth != 3 {
		t.Errorf("state = %+v", got)
	}
}

func TestListBatches(t *testing.T) {
	history := &fakeHistory{batches: []domain.TriggerBatch{{ID: "b2"}, {ID: "b1"}}}
	h := newTestRouter(&fakeEngine{}, history)

	w := do(t, h, http.MethodGet, "/api/batches?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got struct {
		Batches []domain.TriggerBatch `json:"batches"`
	}
	decode(t, w, &got)
	if len(got.Batches) != 2 || got.Batches[0].ID != "b2" || history.limit != 2 {
		t.Errorf("batches = %+v limit = %d", got.Batches, history.limit)
	}

	if w := do(t, h, http.MethodGet, "/api/batches?limit=nope", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", w.Code)
	}

	history.err = errors.New("disk gone")
	if w := do(t, h, http.MethodGet, "/api/batches", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("store error: status = %d, want 500", w.Code)
	}
}

func TestListAdvice(t *testing.T) {
	history := &fakeHistory{advice: map[string][]*advisor.Advice{
		"b1": {{BatchID: "b1", Kind: advisor.AdviceSuggestion, Content: "Stall"}},
	}}
	h := newTestRouter(&fakeEngine{}, history)

	w := do(t, h, http.MethodGet, "/api/batches/b1/advice", "")
	var got struct {
		BatchID string            `json:"batch_id"`
		Advice  []*advisor.Advice `json:"advice"`
	}
	decode(t, w, &got)
	if got.BatchID != "b1" || len(got.Advice) != 1 || got.Advice[0].Content != "Stall" {
		t.Errorf("advice = %+v", got)
	}
}

func TestHistoryUnavailable(t *testing.T) {
	h := newTestRouter(&fakeEngine{}, nil)
	if w := do(t, h, http.MethodGet, "/api/batches", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

type fakeDep struct{ err error }

func (f fakeDep) Ping(context.Context) error   { return f.err }
func (f fakeDep) Health(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		advisor    AdvisorHealth
		wantCode   int
		wantStatus string
	}{
		{"all healthy", fakeDep{}, fakeDep{}, http.StatusOK, "ok"},
		{"advisor disabled", fakeDep{}, nil, http.StatusOK, "ok"},
		{"advisor down", fakeDep{}, fakeDep{errors.New("unreachable")}, http.StatusOK, "degraded"},
		{"db down", fakeDep{errors.New("closed")}, nil, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db, tt.advisor).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			var got map[string]string
			decode(t, w, &got)
			if got["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", got["status"], tt.wantStatus)
			}
		})
	}
}
