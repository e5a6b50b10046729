package twitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisplayNameQueriesHelix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("id") != "123" {
			t.Fatalf("expected the U prefix stripped, got id=%q", r.URL.Query().Get("id"))
		}
		if r.Header.Get("Client-ID") != "cid" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing auth headers")
		}
		w.Write([]byte(`{"data":[{"display_name":"StreamFan","login":"streamfan"}]}`))
	}))
	defer server.Close()

	client := NewHelixClient(server.URL, "cid", "tok")
	name, err := client.DisplayName(context.Background(), "U123")
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "StreamFan" {
		t.Fatalf("expected StreamFan, got %q", name)
	}
}

func TestDisplayNameErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHelixClient(server.URL, "cid", "tok")
	if _, err := client.DisplayName(context.Background(), "U123"); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestDisplayNameEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client := NewHelixClient(server.URL, "cid", "tok")
	if _, err := client.DisplayName(context.Background(), "U123"); err == nil {
		t.Fatalf("expected error when no user is returned")
	}
}
