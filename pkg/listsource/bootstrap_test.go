package listsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func makeBootstrapToken(t *testing.T, issuer string) string {
	t.Helper()
	claims := bootstrapClaims{
		ComponentType: "prefixsetctl",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestTokenIssuer(t *testing.T) {
	token := makeBootstrapToken(t, "https://issuer.example")
	issuer, err := tokenIssuer(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer != "https://issuer.example" {
		t.Errorf("got issuer %q", issuer)
	}
}

func TestTokenIssuerMalformed(t *testing.T) {
	if _, err := tokenIssuer("not.a.jwt.at.all"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestBootstrapSourceFetchEndToEnd(t *testing.T) {
	var configServer, listServer *httptest.Server

	listServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("10.0.0.0/8\n"))
	}))
	defer listServer.Close()

	configServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(listConfig{
			UpdateFrequencySeconds: 60,
			URLs:                   []string{listServer.URL},
		})
	}))
	defer configServer.Close()

	bootstrapServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bootstrapResponse{
			AccessToken: "access-token-1",
			ExpiresIn:   3600,
			ConfigURL:   configServer.URL,
		})
	}))
	defer bootstrapServer.Close()

	token := makeBootstrapToken(t, bootstrapServer.URL)
	src := NewBootstrapSource(token, "machine-1", "prefixsetctl")

	rc, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	if src.Token() != "access-token-1" {
		t.Errorf("expected access token to be cached, got %q", src.Token())
	}
}

func TestBootstrapSourceReusesValidToken(t *testing.T) {
	bootstrapCalls := 0
	var configServer *httptest.Server

	configServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listConfig{URLs: []string{configServer.URL}})
	}))
	defer configServer.Close()

	bootstrapServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bootstrapCalls++
		json.NewEncoder(w).Encode(bootstrapResponse{
			AccessToken: "access-token-1",
			ExpiresIn:   3600,
			ConfigURL:   configServer.URL,
		})
	}))
	defer bootstrapServer.Close()

	token := makeBootstrapToken(t, bootstrapServer.URL)
	src := NewBootstrapSource(token, "machine-1", "prefixsetctl")

	if err := src.ensureToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := src.ensureToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bootstrapCalls != 1 {
		t.Errorf("expected a single bootstrap call while token is valid, got %d", bootstrapCalls)
	}
}
