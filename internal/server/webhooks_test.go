package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/config"
	"stagegate/internal/events"
)

type hookSink struct {
	mu       sync.Mutex
	received []webhookEvent
	secrets  []string
	fail     bool
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	var evt webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.received = append(s.received, evt)
	s.secrets = append(s.secrets, r.Header.Get("X-Stagegate-Secret"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *hookSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.received {
		out = append(out, e.Type)
	}
	return out
}

func TestWebhookDispatcherDeliversNewMatchingEvents(t *testing.T) {
	ctx := context.Background()
	rec := events.NewMemoryLog(0)
	require.NoError(t, rec.Record(ctx, "document.registered", "document", "old", "", nil))

	sink := &hookSink{}
	ts := httptest.NewServer(sink)
	defer ts.Close()

	d := NewWebhookDispatcher([]config.WebhookConfig{{
		URL:    ts.URL,
		Events: []string{"document.follow_up_delivered", "workflow.approved"},
		Secret: "s3cret",
	}}, rec, nil)

	// First pass only pins the cursor past existing events.
	d.dispatchAll(ctx)
	assert.Empty(t, sink.types())

	require.NoError(t, rec.Record(ctx, "document.status_changed", "document", "d1", "", nil))
	require.NoError(t, rec.Record(ctx, "document.follow_up_delivered", "document", "d1", "", events.EventPayload{"actor_acknowledged": true}))
	require.NoError(t, rec.Record(ctx, "workflow.approved", "workflow", "req-1", "ceo", nil))
	d.dispatchAll(ctx)

	assert.Equal(t, []string{"document.follow_up_delivered", "workflow.approved"}, sink.types())
	assert.Equal(t, []string{"s3cret", "s3cret"}, sink.secrets)
	assert.JSONEq(t, `{"actor_acknowledged":true}`, string(sink.received[0].Payload))

	d.dispatchAll(ctx)
	assert.Len(t, sink.types(), 2)
}

func TestWebhookDispatcherRetriesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	rec := events.NewMemoryLog(0)
	sink := &hookSink{fail: true}
	ts := httptest.NewServer(sink)
	defer ts.Close()

	disabled := false
	d := NewWebhookDispatcher([]config.WebhookConfig{
		{URL: ts.URL},
		{URL: ts.URL, Enabled: &disabled},
	}, rec, nil)
	d.dispatchAll(ctx)

	require.NoError(t, rec.Record(ctx, "workflow.initiated", "workflow", "req-1", "alice", nil))
	d.dispatchAll(ctx)
	assert.Empty(t, sink.types())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	d.dispatchAll(ctx)
	assert.Equal(t, []string{"workflow.initiated"}, sink.types())
}
