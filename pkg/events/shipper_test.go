package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type testTokenProvider struct {
	token   string
	logsURL string
}

func (p testTokenProvider) GetToken() string   { return p.token }
func (p testTokenProvider) GetLogsURL() string { return p.logsURL }

func TestShipperSendEventShipsBatch(t *testing.T) {
	var gotAuth atomic.Value
	received := make(chan BatchPayload, 1)

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotAuth.Store(req.Header.Get("Authorization"))

		var payload BatchPayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("decoding batch payload: %v", err)
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- payload
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := testTokenProvider{token: "test-token", logsURL: server.URL}
	shipper := NewShipper(provider, &ShipperConfig{
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
	})
	shipper.Start()

	event := NewBlockEvent("192.168.1.1", "10.0.0.1", "GET", "example.com", "/", "https", "test-agent", "blocklist")
	shipper.SendEvent(event)

	select {
	case payload := <-received:
		if len(payload.Events) != 1 {
			t.Fatalf("expected 1 event in batch, got %d", len(payload.Events))
		}
		if payload.Events[0].Client.IP != "192.168.1.1" {
			t.Errorf("expected client IP 192.168.1.1, got %s", payload.Events[0].Client.IP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shipped batch")
	}

	if auth, _ := gotAuth.Load().(string); auth != "Bearer test-token" {
		t.Errorf("expected Authorization 'Bearer test-token', got %q", auth)
	}

	if err := shipper.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}

	shipped, dropped := shipper.GetStats()
	if shipped != 1 {
		t.Errorf("expected 1 event shipped, got %d", shipped)
	}
	if dropped != 0 {
		t.Errorf("expected 0 events dropped, got %d", dropped)
	}
}

func TestShipperSendEventMissingLogsURL(t *testing.T) {
	provider := testTokenProvider{token: "test-token", logsURL: ""}
	shipper := NewShipper(provider, &ShipperConfig{
		BatchSize:     1,
		FlushInterval: 10 * time.Millisecond,
	})
	shipper.Start()

	event := NewBlockEvent("192.168.1.1", "10.0.0.1", "GET", "example.com", "/", "https", "", "blocklist")
	shipper.SendEvent(event)

	time.Sleep(50 * time.Millisecond)
	_ = shipper.Stop()

	shipped, _ := shipper.GetStats()
	if shipped != 0 {
		t.Errorf("expected 0 events shipped without a logs URL, got %d", shipped)
	}
}
