package advisor

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent reads SSE lines until a blank line and returns the event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (id, event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return id, event, data
			}
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url, lastEventID string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestHubBroadcastsToDashboard(t *testing.T) {
	hub := NewHub(HubConfig{KeepaliveInterval: time.Minute}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := openStream(t, ctx, srv.URL, "")

	_, event, _ := readEvent(t, r)
	require.Equal(t, EventConnected, event)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, hub.Publish(EventAdvice, &Advice{BatchID: "b1", Kind: AdviceSuggestion, Content: "Roll initiative."}))

	id, event, data := readEvent(t, r)
	assert.Equal(t, "1", id)
	assert.Equal(t, EventAdvice, event)
	assert.Contains(t, data, `"content":"Roll initiative."`)
}

func TestHubReplaysMissedMessages(t *testing.T) {
	hub := NewHub(HubConfig{KeepaliveInterval: time.Minute}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(EventBatch, map[string]string{"id": "b1"})
	hub.Publish(EventBatch, map[string]string{"id": "b2"})
	hub.Publish(EventBatch, map[string]string{"id": "b3"})
	require.Eventually(t, func() bool { return len(hub.Recent(0)) == 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := openStream(t, ctx, srv.URL, "1")

	id, _, data := readEvent(t, r)
	assert.Equal(t, "2", id)
	assert.Contains(t, data, "b2")
	id, _, data = readEvent(t, r)
	assert.Equal(t, "3", id)
	assert.Contains(t, data, "b3")

	_, event, data := readEvent(t, r)
	assert.Equal(t, EventConnected, event)
	assert.Contains(t, data, `"last_event_id":3`)
}

func TestReplayQueueBounded(t *testing.T) {
	q := newReplayQueue(2)
	for i := int64(1); i <= 4; i++ {
		q.enqueue(&Message{EventID: i})
	}
	got := q.after(0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].EventID)
	assert.Equal(t, int64(4), got[1].EventID)
}

func TestHubPublishAfterClose(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	hub.Close()
	hub.Close()
	assert.False(t, hub.Publish(EventState, "x"))
}
