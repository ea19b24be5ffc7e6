package confirmation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeflow/auth"
	"intakeflow/form"
)

var testTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testTime }

func seedForm(token string, expiresAt time.Time) *form.Form {
	return &form.Form{
		ID:                "form-1",
		ClientID:          "client-1",
		AgentID:           "agent-1",
		AgentName:         "Agent One",
		Status:            form.StatusPending,
		ConfirmationToken: &token,
		TokenExpiresAt:    &expiresAt,
	}
}

func newTestService(f *form.Form) (*Service, *fakeRepository) {
	repo := &fakeRepository{forms: map[string]*form.Form{}}
	if f != nil {
		repo.forms[f.ID] = f
	}
	svc := NewService(&fakePool{}, repo, nil).WithClock(testClock)
	return svc, repo
}

func TestLookup(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, _ := newTestService(f)

	got, err := svc.Lookup(context.Background(), "tok-live")
	require.NoError(t, err)
	assert.Equal(t, "form-1", got.ID)

	_, err = svc.Lookup(context.Background(), "tok-unknown")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLookup_Expired(t *testing.T) {
	expiredAt := testTime.Add(-time.Hour)
	svc, _ := newTestService(seedForm("tok-old", expiredAt))

	_, err := svc.Lookup(context.Background(), "tok-old")
	require.ErrorIs(t, err, ErrTokenExpired)

	var expired *TokenExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, expiredAt, expired.ExpiredAt)
}

func TestAccept(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, repo := newTestService(f)
	renderer := &fakeRenderer{path: "/storage/pdfs/form-1.pdf"}
	notifier := &fakeNotifier{}
	svc.WithRenderer(renderer).WithNotifier(notifier)

	got, err := svc.Accept(context.Background(), "tok-live")
	require.NoError(t, err)

	assert.True(t, got.Confirmed)
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, testTime, *got.ConfirmedAt)
	assert.Nil(t, got.ConfirmationToken, "live token must be retired")
	assert.Nil(t, got.TokenExpiresAt)
	require.NotNil(t, got.ConfirmedToken)
	assert.Equal(t, "tok-live", *got.ConfirmedToken)
	require.NotNil(t, got.PdfPath)
	assert.Equal(t, renderer.path, *got.PdfPath)
	assert.Equal(t, "form-1", notifier.confirmed)

	stored := repo.forms["form-1"]
	assert.True(t, stored.Confirmed)
	assert.Nil(t, stored.ConfirmationToken)
	require.NotNil(t, stored.PdfPath)
}

func TestAccept_ReplayIsDistinguishable(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, _ := newTestService(f)

	_, err := svc.Accept(context.Background(), "tok-live")
	require.NoError(t, err)

	// The same link again: the live token is gone, but the retained accepted
	// token identifies this as a replay, not an unknown token.
	_, err = svc.Accept(context.Background(), "tok-live")
	require.ErrorIs(t, err, ErrAlreadyConfirmed)

	var replay *AlreadyConfirmedError
	require.ErrorAs(t, err, &replay)
	assert.Equal(t, testTime, replay.ConfirmedAt)

	_, err = svc.Accept(context.Background(), "tok-other")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestAccept_Expired(t *testing.T) {
	f := seedForm("tok-old", testTime.Add(-time.Minute))
	svc, repo := newTestService(f)

	_, err := svc.Accept(context.Background(), "tok-old")
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, repo.forms["form-1"].Confirmed)
}

func TestAccept_RendererFailureIsNotFatal(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, repo := newTestService(f)
	svc.WithRenderer(&fakeRenderer{err: errors.New("ghostscript exploded")})

	got, err := svc.Accept(context.Background(), "tok-live")
	require.NoError(t, err, "acceptance is durable even when the pdf is not")
	assert.True(t, got.Confirmed)
	assert.Nil(t, got.PdfPath)
	assert.True(t, repo.forms["form-1"].Confirmed)
}

func TestRenewToken(t *testing.T) {
	expiresAt := testTime.Add(-time.Hour)
	f := seedForm("tok-old", expiresAt)
	svc, repo := newTestService(f)

	agent := auth.Actor{ID: "agent-1", Role: auth.RoleAgent}
	token, newExpiry, err := svc.RenewToken(context.Background(), agent, "form-1")
	require.NoError(t, err)

	assert.Equal(t, "tok-old", token, "renewal keeps the issued token")
	assert.Equal(t, testTime.Add(form.DefaultTokenTTL), newExpiry)
	assert.Equal(t, newExpiry, *repo.forms["form-1"].TokenExpiresAt)

	// The once-expired link is usable again.
	_, err = svc.Lookup(context.Background(), "tok-old")
	assert.NoError(t, err)
}

func TestRenewToken_Authorization(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, _ := newTestService(f)

	foreign := auth.Actor{ID: "agent-2", Role: auth.RoleAgent}
	_, _, err := svc.RenewToken(context.Background(), foreign, "form-1")
	assert.ErrorIs(t, err, ErrForbidden)

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	_, _, err = svc.RenewToken(context.Background(), client, "form-1")
	assert.ErrorIs(t, err, ErrForbidden)

	admin := auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	_, _, err = svc.RenewToken(context.Background(), admin, "form-1")
	assert.NoError(t, err)
}

func TestRenewToken_ConfirmedForm(t *testing.T) {
	f := seedForm("tok-live", testTime.Add(time.Hour))
	svc, _ := newTestService(f)

	_, err := svc.Accept(context.Background(), "tok-live")
	require.NoError(t, err)

	admin := auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	_, _, err = svc.RenewToken(context.Background(), admin, "form-1")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

type fakeRenderer struct {
	path string
	err  error
}

func (f *fakeRenderer) Render(ctx context.Context, _ form.Form) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeNotifier struct {
	confirmed string
}

func (f *fakeNotifier) FormConfirmed(ctx context.Context, frm form.Form) error {
	f.confirmed = frm.ID
	return nil
}

type fakeRepository struct {
	forms map[string]*form.Form
}

func (f *fakeRepository) byToken(token string) (*form.Form, error) {
	for _, frm := range f.forms {
		if frm.ConfirmationToken != nil && *frm.ConfirmationToken == token {
			return frm, nil
		}
		if frm.ConfirmedToken != nil && *frm.ConfirmedToken == token {
			return frm, nil
		}
	}
	return nil, form.ErrNotFound
}

func (f *fakeRepository) FindByToken(ctx context.Context, token string) (form.Form, error) {
	frm, err := f.byToken(token)
	if err != nil {
		return form.Form{}, err
	}
	return *frm, nil
}

func (f *fakeRepository) FindByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (form.Form, error) {
	return f.FindByToken(ctx, token)
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (form.Form, error) {
	frm, ok := f.forms[id]
	if !ok {
		return form.Form{}, form.ErrNotFound
	}
	return *frm, nil
}

func (f *fakeRepository) MarkConfirmed(ctx context.Context, tx pgx.Tx, formID string, at time.Time) error {
	frm, ok := f.forms[formID]
	if !ok {
		return form.ErrNotFound
	}
	frm.Confirmed = true
	frm.ConfirmedAt = &at
	frm.ConfirmedToken = frm.ConfirmationToken
	frm.ConfirmationToken = nil
	frm.TokenExpiresAt = nil
	return nil
}

func (f *fakeRepository) SetPdfPath(ctx context.Context, formID, path string) error {
	frm, ok := f.forms[formID]
	if !ok {
		return form.ErrNotFound
	}
	frm.PdfPath = &path
	return nil
}

func (f *fakeRepository) SetToken(ctx context.Context, tx pgx.Tx, formID, token string, expiresAt time.Time) error {
	frm, ok := f.forms[formID]
	if !ok {
		return form.ErrNotFound
	}
	frm.ConfirmationToken = &token
	frm.TokenExpiresAt = &expiresAt
	return nil
}

func (f *fakeRepository) ClearToken(ctx context.Context, tx pgx.Tx, formID string) error {
	frm, ok := f.forms[formID]
	if !ok {
		return form.ErrNotFound
	}
	frm.ConfirmationToken = nil
	frm.TokenExpiresAt = nil
	return nil
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct {
	committed bool
	rolled    bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
