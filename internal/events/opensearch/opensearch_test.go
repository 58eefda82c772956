package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/appfort/warden/internal/events"
	"github.com/appfort/warden/internal/store"
)

func TestSinkSend(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"x","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "warden-events")
	e := events.Event{
		ProcessID:  "bot-7",
		Type:       events.EventUnresponsive,
		Status:     store.StatusUnresponsive,
		PID:        777,
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", receivedMethod)
	}
	if receivedPath != "/warden-events/_doc" {
		t.Fatalf("unexpected path: %s", receivedPath)
	}
	var decoded events.Event
	if err := json.Unmarshal(receivedBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.ProcessID != "bot-7" || decoded.Type != events.EventUnresponsive {
		t.Fatalf("unexpected body: %+v", decoded)
	}
}

func TestSinkSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := New(server.URL, "warden-events")
	err := sink.Send(context.Background(), events.Event{ProcessID: "p", Type: events.EventStopped})
	if err == nil {
		t.Fatalf("expected error for 5xx response")
	}
}
