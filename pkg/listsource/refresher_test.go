package listsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prefixset/prefixset/pkg/guard"
)

func TestRefresherStartPopulatesStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("10.0.0.0/8\n2001:db8::/32\n"))
	}))
	defer server.Close()

	store := guard.NewStore()
	src := &HTTPSource{URL: server.URL}
	refresher := NewRefresher(src, store, time.Hour)

	if err := refresher.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.Contains(netip.MustParseAddr("10.1.2.3")) {
		t.Error("expected v4 prefix to be loaded")
	}
	if !store.Contains(netip.MustParseAddr("2001:db8::1")) {
		t.Error("expected v6 prefix to be loaded")
	}
	if store.Count() != 2 {
		t.Errorf("expected count 2, got %d", store.Count())
	}

	_, lastErr, count := refresher.Status()
	if lastErr != nil {
		t.Errorf("expected no error, got %v", lastErr)
	}
	if count != 1 {
		t.Errorf("expected 1 successful update, got %d", count)
	}
}

func TestRefresherStartSurfacesFetchError(t *testing.T) {
	store := guard.NewStore()
	src := &FileSource{Path: "/nonexistent/list.txt"}
	refresher := NewRefresher(src, store, time.Hour)

	if err := refresher.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}

	_, lastErr, count := refresher.Status()
	if lastErr == nil {
		t.Error("expected Status to report the last error")
	}
	if count != 0 {
		t.Errorf("expected 0 successful updates, got %d", count)
	}
}

func TestRefresherNeverPublishesNilSetsAfterStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("10.0.0.0/8\n"))
	}))
	defer server.Close()

	store := guard.NewStore()
	refresher := NewRefresher(&HTTPSource{URL: server.URL}, store, time.Hour)
	if err := refresher.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if store.Contains(netip.MustParseAddr("8.8.8.8")) {
		t.Error("unrelated address should not match")
	}
	if !store.Contains(netip.MustParseAddr("10.0.0.1")) {
		t.Error("loaded prefix should match")
	}
}
