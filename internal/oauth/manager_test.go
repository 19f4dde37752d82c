package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type memoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

type tokenServer struct {
	mu     sync.Mutex
	grants []url.Values
}

func (s *tokenServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		if err != nil {
			t.Errorf("parse form: %v", err)
		}
		s.mu.Lock()
		s.grants = append(s.grants, values)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch values.Get("grant_type") {
		case "password":
			if values.Get("username") != "me@example.com" || values.Get("password") != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"pw-token","refresh_token":"refresh-1","expires_in":3600,"token_type":"Bearer"}`)
		case "refresh_token":
			if values.Get("refresh_token") != "stored-refresh" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"refreshed-token","refresh_token":"refresh-2","expires_in":3600,"token_type":"Bearer"}`)
		case "client_credentials":
			_, _ = io.WriteString(w, `{"access_token":"cc-token","expires_in":3600,"token_type":"Bearer"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func (s *tokenServer) grantTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g.Get("grant_type"))
	}
	return out
}

func newDecl(serverURL, statePath string) Declaration {
	return Declaration{
		Provider:  "flair",
		Flow:      FlowPassword,
		TokenURL:  serverURL + "/oauth/token",
		Scope:     FlairScope,
		StatePath: statePath,
	}
}

func TestManagerPasswordGrantPersistsState(t *testing.T) {
	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler(t))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "flair-oauth.json")
	blob := &memoryBlobStore{}
	bootstrap := Bootstrap{ClientID: "id", ClientSecret: "secret", Username: "me@example.com", Password: "hunter2"}

	m, err := NewManager(newDecl(server.URL, statePath), bootstrap, blob)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "pw-token" {
		t.Fatalf("expected pw-token, got %q", token)
	}

	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "refresh-1" {
		t.Fatalf("expected persisted refresh-1, got %q", state.RefreshToken)
	}
	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("stat state: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 state file, got %v", info.Mode().Perm())
	}
	if _, err := blob.Load(context.Background(), "flair"); err != nil {
		t.Fatalf("expected blob mirror: %v", err)
	}

	// Cached token is reused.
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("second access token: %v", err)
	}
	if got := ts.grantTypes(); len(got) != 1 || got[0] != "password" {
		t.Fatalf("expected one password grant, got %v", got)
	}
}

func TestManagerRefreshesStoredState(t *testing.T) {
	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler(t))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "flair-oauth.json")
	if err := WriteState(statePath, State{ClientID: "id", ClientSecret: "secret", RefreshToken: "stored-refresh", Scope: FlairScope}); err != nil {
		t.Fatalf("write state: %v", err)
	}

	m, err := NewManager(newDecl(server.URL, statePath), Bootstrap{ClientID: "id", ClientSecret: "secret"}, NopStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "refreshed-token" {
		t.Fatalf("expected refreshed-token, got %q", token)
	}
	if got := ts.grantTypes(); len(got) != 1 || got[0] != "refresh_token" {
		t.Fatalf("expected one refresh grant, got %v", got)
	}
	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token, got %q", state.RefreshToken)
	}
}

func TestManagerRejectsScopeMismatch(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "flair-oauth.json")
	if err := WriteState(statePath, State{ClientID: "id", RefreshToken: "r", Scope: "vents.view"}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	_, err := NewManager(newDecl("http://127.0.0.1:0", statePath), Bootstrap{ClientID: "id", ClientSecret: "secret"}, NopStore{})
	if !errors.Is(err, ErrScopeMismatch) {
		t.Fatalf("expected ErrScopeMismatch, got %v", err)
	}
}

func TestManagerNeedsStateOrPassword(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "flair-oauth.json")
	_, err := NewManager(newDecl("http://127.0.0.1:0", statePath), Bootstrap{ClientID: "id", ClientSecret: "secret"}, NopStore{})
	if err == nil {
		t.Fatalf("expected error without state or password")
	}
}

func TestManagerBadPasswordLeavesTokenUnavailable(t *testing.T) {
	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler(t))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "flair-oauth.json")
	bootstrap := Bootstrap{ClientID: "id", ClientSecret: "secret", Username: "me@example.com", Password: "wrong"}
	m, err := NewManager(newDecl(server.URL, statePath), bootstrap, NopStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.AccessToken(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}
	if err := m.Login(context.Background()); err == nil {
		t.Fatalf("expected login failure")
	}
}

func TestManagerClientCredentials(t *testing.T) {
	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler(t))
	defer server.Close()

	decl := Declaration{Provider: "flair", Flow: FlowClientCredentials, TokenURL: server.URL + "/oauth/token", Scope: FlairScope}
	m, err := NewManager(decl, Bootstrap{ClientID: "id", ClientSecret: "secret"}, NopStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "cc-token" {
		t.Fatalf("expected cc-token, got %q", token)
	}
}
