package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTP_RunForwardsArguments(t *testing.T) {
	var gotBody map[string]any
	var gotRequestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21.5}`))
	}))
	defer ts.Close()

	h, err := NewHTTP(HTTPConfig{
		Name:     "forecast",
		Endpoint: ts.URL,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := h.Run(context.Background(), map[string]any{"city": "Oslo"}, &Context{RequestID: "req-42"})
	if err != nil {
		t.Fatal(err)
	}

	if gotBody["city"] != "Oslo" {
		t.Fatalf("expected city argument forwarded, got %v", gotBody)
	}
	if gotRequestID != "req-42" {
		t.Fatalf("expected request id header, got %q", gotRequestID)
	}
	m, ok := result.(map[string]any)
	if !ok || m["temp"] != 21.5 {
		t.Fatalf("expected decoded JSON result, got %v", result)
	}
}

func TestHTTP_RunNonJSONBodyReturnedAsText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer ts.Close()

	h, err := NewHTTP(HTTPConfig{Name: "txt", Endpoint: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	result, err := h.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != "plain text" {
		t.Fatalf("expected raw text result, got %v", result)
	}
}

func TestHTTP_RunErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	h, err := NewHTTP(HTTPConfig{Name: "flaky", Endpoint: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestNewHTTP_Defaults(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{Name: "x"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}

	h, err := NewHTTP(HTTPConfig{Name: "x", Endpoint: "http://localhost:1/call"})
	if err != nil {
		t.Fatal(err)
	}
	if h.cfg.Method != http.MethodPost {
		t.Fatalf("expected POST default, got %s", h.cfg.Method)
	}
	if h.cfg.Timeout != defaultHTTPTimeout {
		t.Fatalf("expected default timeout, got %v", h.cfg.Timeout)
	}
}
