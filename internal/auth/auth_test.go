package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestStaticAuthenticator_ValidRequest(t *testing.T) {
	a := NewStaticAuthenticator()

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer tgk_abc123")

	project, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if project.ID != "static-tgk_abc1" {
		t.Errorf("expected derived project id, got '%s'", project.ID)
	}
	if project.Mode != "enforce" {
		t.Errorf("expected mode 'enforce', got '%s'", project.Mode)
	}
	if !project.FailOpen {
		t.Error("expected fail_open=true")
	}
}

func TestStaticAuthenticator_MissingHeader(t *testing.T) {
	a := NewStaticAuthenticator()
	r := httptest.NewRequest("POST", "/mcp", nil)

	_, err := a.Authenticate(r)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got: %v", err)
	}
}

func TestStaticAuthenticator_InvalidKeyPrefix(t *testing.T) {
	a := NewStaticAuthenticator()

	tests := []struct {
		name  string
		token string
	}{
		{"wrong prefix", "Bearer bad_abc123"},
		{"no prefix", "Bearer abc123"},
		{"empty after Bearer", "Bearer "},
		{"just Bearer", "Bearer"},
		{"sk_ prefix", "Bearer sk_abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/mcp", nil)
			r.Header.Set("Authorization", tt.token)

			_, err := a.Authenticate(r)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("expected ErrUnauthenticated for token '%s', got: %v", tt.token, err)
			}
		})
	}
}

// mockProjectStore is a test helper.
type mockProjectStore struct {
	row       *projectRow
	err       error
	callCount int
}

func (m *mockProjectStore) LookupByPrefix(_ context.Context, _ string) (*projectRow, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestPostgresAuthenticator_ValidKey(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	key := "tgk_abcd1234secret"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	store := &mockProjectStore{row: &projectRow{
		ProjectID:  "proj-1",
		APIKeyHash: string(hash),
		Mode:       "enforce",
		FailOpen:   false,
	}}
	a := NewPostgresAuthenticatorWithStore(store, 30*time.Second, false, logger)

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer "+key)

	project, err := a.Authenticate(r)
	if err != nil {
		t.Fatal(err)
	}
	if project.ID != "proj-1" {
		t.Fatalf("expected proj-1, got %s", project.ID)
	}

	// Second call hits the cache, not the store.
	if _, err := a.Authenticate(r); err != nil {
		t.Fatal(err)
	}
	if store.callCount != 1 {
		t.Fatalf("expected 1 store call, got %d", store.callCount)
	}
}

func TestPostgresAuthenticator_WrongKey(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hash, err := bcrypt.GenerateFromPassword([]byte("tgk_rightkey1234"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	store := &mockProjectStore{row: &projectRow{
		ProjectID:  "proj-1",
		APIKeyHash: string(hash),
	}}
	a := NewPostgresAuthenticatorWithStore(store, 30*time.Second, false, logger)

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer tgk_wrongkey1234")

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for wrong key")
	}
}

func TestPostgresAuthenticator_FailOpen(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := &mockProjectStore{err: errors.New("db down")}
	a := NewPostgresAuthenticatorWithStore(store, 30*time.Second, true, logger)

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer tgk_abcd1234")

	project, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("fail-open should not surface the error, got %v", err)
	}
	if project.ID != "unknown" {
		t.Fatalf("expected degraded project, got %s", project.ID)
	}
}

func TestCache_FreshHit(t *testing.T) {
	cache := NewCache(1 * time.Minute)
	project := &Project{ID: "proj-1", Mode: "enforce", FailOpen: true}

	cache.Set("tgk_abc123", project)

	result := cache.Get("tgk_abc123")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Project.ID != "proj-1" {
		t.Errorf("expected proj-1, got %s", result.Project.ID)
	}
}

func TestCache_StaleHit_SignalsRefreshOnce(t *testing.T) {
	cache := NewCache(1 * time.Millisecond)
	cache.Set("tgk_abc123", &Project{ID: "proj-1"})
	time.Sleep(5 * time.Millisecond)

	first := cache.Get("tgk_abc123")
	if !first.Hit || !first.NeedsRefresh {
		t.Fatal("expected stale hit signalling refresh")
	}

	second := cache.Get("tgk_abc123")
	if !second.Hit {
		t.Fatal("expected stale hit")
	}
	if second.NeedsRefresh {
		t.Error("only the first stale reader should win the refresh")
	}
}

func TestCache_AbandonRefreshAllowsRetry(t *testing.T) {
	cache := NewCache(1 * time.Millisecond)
	cache.Set("tgk_abc123", &Project{ID: "proj-1"})
	time.Sleep(5 * time.Millisecond)

	first := cache.Get("tgk_abc123")
	if !first.NeedsRefresh {
		t.Fatal("expected stale hit signalling refresh")
	}

	// The refresh failed; releasing the claim lets the next stale reader
	// try again instead of serving the stale entry forever.
	cache.AbandonRefresh("tgk_abc123")

	second := cache.Get("tgk_abc123")
	if !second.Hit || !second.NeedsRefresh {
		t.Fatal("expected a new refresh claim after the failed one was abandoned")
	}
}

func TestProjectContextRoundTrip(t *testing.T) {
	p := &Project{ID: "proj-1"}
	ctx := WithProject(context.Background(), p)
	if got := ProjectFromContext(ctx); got != p {
		t.Fatal("expected project back from context")
	}
	if got := ProjectFromContext(context.Background()); got != nil {
		t.Fatal("expected nil for bare context")
	}
}
