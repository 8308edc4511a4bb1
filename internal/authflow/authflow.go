package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailgrant/mailgrant/internal/upstream"
	"github.com/mailgrant/mailgrant/internal/vault"
)

// DefaultStateTTL bounds how long an issued state token stays
// exchangeable. An attempt not completed within the TTL is abandoned.
const DefaultStateTTL = 10 * time.Minute

var (
	// ErrInvalidState indicates a state token that is unknown: already
	// consumed, forged, or expired.
	ErrInvalidState = errors.New("invalid or missing state")

	// ErrCredentialExpired indicates an expired credential that cannot be
	// refreshed because no refresh token was granted.
	ErrCredentialExpired = errors.New("upstream credential expired and not refreshable")
)

// Exchanger drives the authorization-code flow: it issues consent URLs
// bound to one-time state tokens, exchanges returned codes for
// credentials, and refreshes expired credentials on demand.
type Exchanger struct {
	upstream upstream.Service
	vault    *vault.Vault
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time
	stateTTL time.Duration
	now      func() time.Time
}

// New creates an Exchanger persisting exchanged credentials into v.
func New(svc upstream.Service, v *vault.Vault, logger *slog.Logger) *Exchanger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchanger{
		upstream: svc,
		vault:    v,
		logger:   logger,
		pending:  make(map[string]time.Time),
		stateTTL: DefaultStateTTL,
		now:      time.Now,
	}
}

// Begin starts an authorization attempt: it records a fresh one-time
// state token and returns the consent URL bound to it.
func (e *Exchanger) Begin() (authURL, state string, err error) {
	state, err = randomToken(24)
	if err != nil {
		return "", "", fmt.Errorf("generating state token: %w", err)
	}

	now := e.now()
	e.mu.Lock()
	e.evictLocked(now)
	e.pending[state] = now
	e.mu.Unlock()

	return e.upstream.AuthCodeURL(state), state, nil
}

// Exchange consumes the state token, trades the authorization code for a
// credential, persists it under a freshly generated principal id and
// returns that id with the credential.
//
// A state token is accepted at most once: the known-check and the removal
// happen atomically, so concurrent exchanges with the same state cannot
// both succeed.
func (e *Exchanger) Exchange(ctx context.Context, code, state string) (string, *upstream.Credential, error) {
	if state == "" || !e.consume(state) {
		return "", nil, ErrInvalidState
	}

	cred, err := e.upstream.ExchangeCode(ctx, code)
	if err != nil {
		return "", nil, err
	}

	principal, err := randomToken(16)
	if err != nil {
		return "", nil, fmt.Errorf("generating principal id: %w", err)
	}

	if err := e.vault.Save(principal, cred); err != nil {
		return "", nil, fmt.Errorf("persisting credential: %w", err)
	}

	e.logger.Info("authorization exchanged", slog.String("principal", principal))
	return principal, cred, nil
}

// RefreshIfNeeded returns the usable form of cred. When the access token
// has expired it performs a single refresh attempt and reports
// refreshed=true, in which case the caller must re-persist the result.
// Upstream failures propagate immediately; there is no retry loop here.
func (e *Exchanger) RefreshIfNeeded(ctx context.Context, cred *upstream.Credential) (*upstream.Credential, bool, error) {
	if !cred.Expired(e.now()) {
		return cred, false, nil
	}
	if cred.RefreshToken == "" {
		return nil, false, ErrCredentialExpired
	}

	updated, err := e.upstream.Refresh(ctx, cred)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// PendingCount reports how many authorization attempts are outstanding.
func (e *Exchanger) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Exchanger) consume(state string) bool {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictLocked(now)
	_, ok := e.pending[state]
	if ok {
		delete(e.pending, state)
	}
	return ok
}

func (e *Exchanger) evictLocked(now time.Time) {
	for state, issued := range e.pending {
		if now.Sub(issued) > e.stateTTL {
			delete(e.pending, state)
		}
	}
}

// randomToken returns n bytes of cryptographic randomness, base64url
// encoded without padding.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
