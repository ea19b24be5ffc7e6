package form

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultTokenTTL is how long a confirmation link stays usable.
const DefaultTokenTTL = 72 * time.Hour

// tokenBytes yields a 64-character hex token (256 bits of entropy).
const tokenBytes = 32

// TokenStore persists confirmation-token writes inside the caller's
// transaction.
type TokenStore interface {
	SetToken(ctx context.Context, tx pgx.Tx, formID, token string, expiresAt time.Time) error
	ClearToken(ctx context.Context, tx pgx.Tx, formID string) error
}

// TokenIssuer manages the single-use, time-boxed confirmation token bound to
// a form. Issuing and renewing run inside the caller's transaction so the
// persisted token can never diverge from the one handed out.
type TokenIssuer struct {
	store    TokenStore
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

func NewTokenIssuer(store TokenStore) *TokenIssuer {
	return &TokenIssuer{
		store:    store,
		ttl:      DefaultTokenTTL,
		now:      time.Now,
		newToken: randomToken,
	}
}

func (t *TokenIssuer) WithTTL(ttl time.Duration) *TokenIssuer {
	if ttl > 0 {
		t.ttl = ttl
	}
	return t
}

func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

func (t *TokenIssuer) WithTokenGenerator(gen func() (string, error)) *TokenIssuer {
	t.newToken = gen
	return t
}

// Issue generates a fresh token for the form, valid for the configured TTL.
// Any previously issued token is overwritten and thereby invalidated.
func (t *TokenIssuer) Issue(ctx context.Context, tx pgx.Tx, f *Form) (string, error) {
	token, err := t.newToken()
	if err != nil {
		return "", fmt.Errorf("form: generate confirmation token: %w", err)
	}

	expiresAt := t.now().Add(t.ttl).UTC()
	if err := t.store.SetToken(ctx, tx, f.ID, token, expiresAt); err != nil {
		return "", err
	}

	f.ConfirmationToken = &token
	f.TokenExpiresAt = &expiresAt
	return token, nil
}

// Renew extends the current token's expiry window and returns the same
// token. When the form has no token, a fresh one is issued instead.
func (t *TokenIssuer) Renew(ctx context.Context, tx pgx.Tx, f *Form) (string, error) {
	if f.ConfirmationToken == nil {
		return t.Issue(ctx, tx, f)
	}

	token := *f.ConfirmationToken
	expiresAt := t.now().Add(t.ttl).UTC()
	if err := t.store.SetToken(ctx, tx, f.ID, token, expiresAt); err != nil {
		return "", err
	}

	f.TokenExpiresAt = &expiresAt
	return token, nil
}

// Valid reports whether the form currently carries an unexpired token.
func (t *TokenIssuer) Valid(f *Form) bool {
	return f.ConfirmationToken != nil &&
		f.TokenExpiresAt != nil &&
		t.now().Before(*f.TokenExpiresAt)
}

// Invalidate clears the token and its expiry. Called exactly once, when the
// client accepts the form.
func (t *TokenIssuer) Invalidate(ctx context.Context, tx pgx.Tx, f *Form) error {
	if err := t.store.ClearToken(ctx, tx, f.ID); err != nil {
		return err
	}
	f.ConfirmationToken = nil
	f.TokenExpiresAt = nil
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
