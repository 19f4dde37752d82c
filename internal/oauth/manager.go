package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	ErrScopeMismatch    = errors.New("oauth scope mismatch")
	ErrTokenUnavailable = errors.New("oauth token unavailable")
)

// Manager manages OAuth refresh tokens and access token caching.
type Manager struct {
	decl       Declaration
	bootstrap  Bootstrap
	blobStore  BlobStore
	httpClient *http.Client
	config     *oauth2.Config

	refreshMu sync.Mutex

	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
	scope        string
}

func NewManager(decl Declaration, bootstrap Bootstrap, blobStore BlobStore) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.Scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.Flow == "" {
		decl.Flow = FlowPassword
	}
	if decl.Flow != FlowPassword && decl.Flow != FlowClientCredentials {
		return nil, fmt.Errorf("unsupported flow %q", decl.Flow)
	}
	if decl.Flow == FlowPassword {
		if decl.StatePath == "" {
			return nil, fmt.Errorf("statePath is required")
		}
		if !filepath.IsAbs(decl.StatePath) {
			return nil, fmt.Errorf("statePath must be absolute")
		}
	}
	if blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	m := &Manager{
		decl:       decl,
		bootstrap:  bootstrap,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		scope:      decl.Scope,
		config: &oauth2.Config{
			ClientID:     bootstrap.ClientID,
			ClientSecret: bootstrap.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}
	if decl.Flow == FlowClientCredentials {
		return m, nil
	}

	state, err := m.loadInitialState()
	if err != nil {
		return nil, err
	}
	m.refreshToken = state.RefreshToken
	if state.Scope != "" {
		m.scope = state.Scope
	}
	return m, nil
}

// Provider returns the declaration's provider id.
func (m *Manager) Provider() string {
	return m.decl.Provider
}

func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < 30*time.Second {
		threshold = 30 * time.Second
	}
	m.refreshIfNeeded(ctx, threshold)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// AccessToken returns a cached token, refreshing synchronously when it is missing or close to expiry.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := m.cached(30 * time.Second); ok {
		return token, nil
	}
	m.refreshIfNeeded(ctx, 30*time.Second)
	if token, ok := m.cached(0); ok {
		return token, nil
	}
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	return "", ErrTokenUnavailable
}

// TriggerRefresh drops the cached access token and refreshes in the background.
func (m *Manager) TriggerRefresh(ctx context.Context) {
	m.mu.Lock()
	m.accessToken = ""
	m.mu.Unlock()

	if !m.refreshMu.TryLock() {
		return
	}
	go func() {
		defer m.refreshMu.Unlock()
		_ = m.refresh(context.WithoutCancel(ctx))
	}()
}

// Login runs the password grant and persists the resulting refresh token.
func (m *Manager) Login(ctx context.Context) error {
	if m.decl.Flow != FlowPassword {
		return fmt.Errorf("login requires the %s flow", FlowPassword)
	}
	if !m.bootstrap.hasPassword() {
		return fmt.Errorf("username and password are required for login")
	}
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	token, err := m.passwordGrant(ctx)
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return err
	}
	return m.store(ctx, token)
}

func (m *Manager) cached(margin time.Duration) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken != "" && time.Until(m.expiresAt) > margin {
		return m.accessToken, true
	}
	return "", false
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if _, ok := m.cached(threshold); ok {
		return
	}
	_ = m.refresh(ctx)
}

// refresh must be called with refreshMu held.
func (m *Manager) refresh(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	var (
		token *oauth2.Token
		err   error
	)
	switch {
	case m.decl.Flow == FlowClientCredentials:
		cc := clientcredentials.Config{
			ClientID:     m.bootstrap.ClientID,
			ClientSecret: m.bootstrap.ClientSecret,
			TokenURL:     m.decl.TokenURL,
			Scopes:       m.config.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		token, err = cc.Token(ctx)
	case m.currentRefreshToken() != "":
		source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.currentRefreshToken()})
		token, err = source.Token()
		if err != nil && m.bootstrap.hasPassword() {
			token, err = m.passwordGrant(ctx)
		}
	case m.bootstrap.hasPassword():
		token, err = m.passwordGrant(ctx)
	default:
		err = fmt.Errorf("no refresh token or password available; run flairbridge login")
	}
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("token refresh failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return err
	}
	return m.store(ctx, token)
}

func (m *Manager) passwordGrant(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.config.PasswordCredentialsToken(ctx, m.bootstrap.Username, m.bootstrap.Password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	return token, nil
}

func (m *Manager) currentRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

func (m *Manager) store(ctx context.Context, token *oauth2.Token) error {
	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	if m.expiresAt.IsZero() {
		m.expiresAt = time.Now().Add(time.Hour)
	}
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	refreshToken := m.refreshToken
	m.mu.Unlock()

	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)

	if m.decl.Flow != FlowPassword || refreshToken == "" {
		return nil
	}

	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.bootstrap.ClientID,
		ClientSecret:  m.bootstrap.ClientSecret,
		RefreshToken:  refreshToken,
		Scope:         m.scope,
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return fmt.Errorf("persist state: %w", err)
	}
	if err := m.persistBlob(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		return nil
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	return nil
}

// loadInitialState prefers the local state file, then the blob mirror.
// An empty state is fine when a password is configured: the first refresh logs in.
func (m *Manager) loadInitialState() (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		if err := m.checkScope(&local); err != nil {
			return State{}, err
		}
		if err := m.persistBlob(context.Background(), local); err != nil {
			remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		} else {
			remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
		}
		return local, nil
	}

	blob, blobErr := m.loadFromBlob(context.Background())
	if blobErr == nil {
		if err := m.checkScope(&blob); err != nil {
			return State{}, err
		}
		if err := WriteState(m.decl.StatePath, blob); err != nil {
			return State{}, err
		}
		return blob, nil
	}

	if !errors.Is(blobErr, ErrBlobNotFound) {
		if !errors.Is(localErr, ErrStateNotFound) {
			return State{}, localErr
		}
		return State{}, blobErr
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.bootstrap.RefreshToken != "" {
		return State{
			SchemaVersion: SchemaVersion,
			ClientID:      m.bootstrap.ClientID,
			ClientSecret:  m.bootstrap.ClientSecret,
			RefreshToken:  m.bootstrap.RefreshToken,
			Scope:         m.decl.Scope,
		}, nil
	}
	if !m.bootstrap.hasPassword() {
		return State{}, fmt.Errorf("no oauth state at %s and no password configured; run flairbridge login", m.decl.StatePath)
	}
	return State{SchemaVersion: SchemaVersion, ClientID: m.bootstrap.ClientID, Scope: m.decl.Scope}, nil
}

func (m *Manager) checkScope(state *State) error {
	if state.Scope == "" {
		state.Scope = m.decl.Scope
	}
	if state.Scope != m.decl.Scope {
		scopeMismatch.WithLabelValues(m.decl.Provider).Inc()
		return ErrScopeMismatch
	}
	state.ClientID = m.bootstrap.ClientID
	state.ClientSecret = m.bootstrap.ClientSecret
	return nil
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, m.decl.Provider, data)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
