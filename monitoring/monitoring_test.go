package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordPrediction(2 * time.Millisecond)
	mc.RecordPrediction(4 * time.Millisecond)
	mc.RecordError("shape_mismatch")
	mc.RecordError("shape_mismatch")
	mc.RecordExplainFailure()

	snapshot := mc.Snapshot()
	if snapshot.PredictionsTotal != 2 {
		t.Fatalf("expected 2 predictions, got %d", snapshot.PredictionsTotal)
	}
	if snapshot.PredictionErrors["shape_mismatch"] != 2 {
		t.Fatalf("unexpected errors: %v", snapshot.PredictionErrors)
	}
	if snapshot.ExplainFailuresTotal != 1 {
		t.Fatalf("expected 1 explain failure, got %d", snapshot.ExplainFailuresTotal)
	}
	if snapshot.LatencyMeanMs != 3 || snapshot.LatencyMaxMs != 4 {
		t.Fatalf("unexpected latency: mean %v max %v", snapshot.LatencyMeanMs, snapshot.LatencyMaxMs)
	}

	snapshot.PredictionErrors["shape_mismatch"] = 99
	if mc.Snapshot().PredictionErrors["shape_mismatch"] != 2 {
		t.Fatal("snapshot must not alias collector state")
	}
}

func TestHubBroadcastsPredictions(t *testing.T) {
	hub := NewHub(nil, []string{"*"})
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(PredictionEvent{ID: 7, Prediction: 4.75, Unit: "mm/s", Features: []float64{1, 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if message.Type != PredictionMessage {
		t.Fatalf("unexpected message type %s", message.Type)
	}
	var event PredictionEvent
	if err := json.Unmarshal(message.Data, &event); err != nil {
		t.Fatalf("invalid event: %v", err)
	}
	if event.ID != 7 || event.Prediction != 4.75 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(nil, []string{"*"})
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsDisallowedOrigins(t *testing.T) {
	hub := NewHub(nil, []string{"http://lab.example"})
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(hub)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://other.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	header.Set("Origin", "http://lab.example")
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origins []string
		origin  string
		want    bool
	}{
		{nil, "", true},
		{nil, "http://lab.example", false},
		{[]string{"*"}, "http://any.example", true},
		{[]string{"http://lab.example"}, "http://lab.example", true},
		{[]string{"http://lab.example"}, "http://other.example", false},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origins, tt.origin); got != tt.want {
			t.Errorf("originAllowed(%v, %q) = %v, want %v", tt.origins, tt.origin, got, tt.want)
		}
	}
}
