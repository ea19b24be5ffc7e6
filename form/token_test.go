package form

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

type tokenStoreRecorder struct {
	setFormID string
	setToken  string
	setExpiry time.Time
	cleared   string
}

func (r *tokenStoreRecorder) SetToken(ctx context.Context, tx pgx.Tx, formID, token string, expiresAt time.Time) error {
	r.setFormID = formID
	r.setToken = token
	r.setExpiry = expiresAt
	return nil
}

func (r *tokenStoreRecorder) ClearToken(ctx context.Context, tx pgx.Tx, formID string) error {
	r.cleared = formID
	return nil
}

func TestTokenIssuer_Issue(t *testing.T) {
	store := &tokenStoreRecorder{}
	issuer := NewTokenIssuer(store).WithClock(testClock)

	f := &Form{ID: "form-1"}
	token, err := issuer.Issue(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if store.setToken != token || store.setFormID != "form-1" {
		t.Errorf("store write = %q for %q", store.setToken, store.setFormID)
	}
	want := testTime.Add(DefaultTokenTTL)
	if !store.setExpiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", store.setExpiry, want)
	}
	if f.ConfirmationToken == nil || *f.ConfirmationToken != token {
		t.Errorf("form token not set")
	}

	// A second issue replaces the token outright.
	second, err := issuer.Issue(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if second == token {
		t.Errorf("second issue must generate a fresh token")
	}
}

func TestTokenIssuer_RenewKeepsToken(t *testing.T) {
	store := &tokenStoreRecorder{}
	issuer := NewTokenIssuer(store).WithTTL(24 * time.Hour).WithClock(testClock)

	f := &Form{ID: "form-1"}
	token, err := issuer.Issue(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	renewed, err := issuer.Renew(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed != token {
		t.Errorf("renew must keep the token, got %q want %q", renewed, token)
	}
	want := testTime.Add(24 * time.Hour)
	if f.TokenExpiresAt == nil || !f.TokenExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", f.TokenExpiresAt, want)
	}
}

func TestTokenIssuer_RenewWithoutTokenIssues(t *testing.T) {
	store := &tokenStoreRecorder{}
	issuer := NewTokenIssuer(store).WithClock(testClock)

	f := &Form{ID: "form-1"}
	token, err := issuer.Renew(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if token == "" || f.ConfirmationToken == nil {
		t.Errorf("renew on a tokenless form must issue")
	}
}

func TestTokenIssuer_Valid(t *testing.T) {
	issuer := NewTokenIssuer(&tokenStoreRecorder{}).WithClock(testClock)

	token := "abc"
	live := testTime.Add(time.Hour)
	expired := testTime.Add(-time.Minute)

	cases := []struct {
		name string
		form Form
		want bool
	}{
		{"live", Form{ConfirmationToken: &token, TokenExpiresAt: &live}, true},
		{"expired", Form{ConfirmationToken: &token, TokenExpiresAt: &expired}, false},
		{"no token", Form{TokenExpiresAt: &live}, false},
		{"no expiry", Form{ConfirmationToken: &token}, false},
	}
	for _, tc := range cases {
		if got := issuer.Valid(&tc.form); got != tc.want {
			t.Errorf("%s: valid = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTokenIssuer_Invalidate(t *testing.T) {
	store := &tokenStoreRecorder{}
	issuer := NewTokenIssuer(store).WithClock(testClock)

	f := &Form{ID: "form-1"}
	if _, err := issuer.Issue(context.Background(), nil, f); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := issuer.Invalidate(context.Background(), nil, f); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if store.cleared != "form-1" {
		t.Errorf("store not cleared")
	}
	if f.ConfirmationToken != nil || f.TokenExpiresAt != nil {
		t.Errorf("form must drop token and expiry")
	}
}
