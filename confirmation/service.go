package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"intakeflow/auth"
	"intakeflow/form"
)

// Repository is the data access the confirmation flow needs. Implemented by
// form.PGRepository.
type Repository interface {
	form.TokenStore

	FindByToken(ctx context.Context, token string) (form.Form, error)
	FindByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (form.Form, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (form.Form, error)
	MarkConfirmed(ctx context.Context, tx pgx.Tx, formID string, at time.Time) error
	SetPdfPath(ctx context.Context, formID, path string) error
}

// Renderer produces the signed application PDF after acceptance and returns
// the stored path.
type Renderer interface {
	Render(ctx context.Context, f form.Form) (string, error)
}

// Notifier is told about accepted forms. Failures are logged, never
// propagated; the confirmation itself is already durable.
type Notifier interface {
	FormConfirmed(ctx context.Context, f form.Form) error
}

// Service is the public confirmation flow: token lookup and one-shot
// acceptance. It is the only unauthenticated surface, so everything is keyed
// by the token alone.
type Service struct {
	pool     form.TxBeginner
	repo     Repository
	tokens   *form.TokenIssuer
	renderer Renderer
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(pool form.TxBeginner, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		tokens: form.NewTokenIssuer(repo),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) WithRenderer(r Renderer) *Service {
	s.renderer = r
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.tokens.WithClock(now)
	return s
}

// Tokens exposes the issuer, mainly so tests can pin the generator.
func (s *Service) Tokens() *form.TokenIssuer {
	return s.tokens
}

// Lookup resolves a confirmation link to the form it belongs to, so the
// client can review the application before accepting. The three failure modes
// are distinct: unknown token, known but expired, and already accepted.
func (s *Service) Lookup(ctx context.Context, token string) (form.Form, error) {
	f, err := s.find(ctx, token)
	if err != nil {
		return form.Form{}, err
	}
	if err := s.check(f); err != nil {
		return form.Form{}, err
	}
	return f, nil
}

// Accept confirms the form. The token row is locked for the duration, so two
// racing accepts serialize: the first one confirms, the second sees the form
// already confirmed. The accepted token is retired, never reusable.
func (s *Service) Accept(ctx context.Context, token string) (form.Form, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return form.Form{}, fmt.Errorf("confirmation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.FindByTokenForUpdate(ctx, tx, token)
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return form.Form{}, ErrTokenNotFound
		}
		return form.Form{}, err
	}
	if err := s.check(f); err != nil {
		return form.Form{}, err
	}

	confirmedAt := s.now().UTC()
	if err := s.repo.MarkConfirmed(ctx, tx, f.ID, confirmedAt); err != nil {
		return form.Form{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return form.Form{}, fmt.Errorf("confirmation: commit accept: %w", err)
	}

	f.Confirmed = true
	f.ConfirmedAt = &confirmedAt
	f.ConfirmedToken = f.ConfirmationToken
	f.ConfirmationToken = nil
	f.TokenExpiresAt = nil

	s.afterAccept(ctx, &f)

	return f, nil
}

// afterAccept runs the non-transactional tail of an acceptance: PDF render
// and notification. Both are best effort; the confirmation is already
// committed and must not be reported as failed.
func (s *Service) afterAccept(ctx context.Context, f *form.Form) {
	if s.renderer != nil {
		path, err := s.renderer.Render(ctx, *f)
		if err != nil {
			s.logger.Warn("confirmation pdf render failed",
				zap.String("form_id", f.ID),
				zap.Error(err))
		} else if err := s.repo.SetPdfPath(ctx, f.ID, path); err != nil {
			s.logger.Warn("confirmation pdf path not stored",
				zap.String("form_id", f.ID),
				zap.Error(err))
		} else {
			f.PdfPath = &path
		}
	}

	if s.notifier != nil {
		if err := s.notifier.FormConfirmed(ctx, *f); err != nil {
			s.logger.Warn("confirmation notification failed",
				zap.String("form_id", f.ID),
				zap.Error(err))
		}
	}
}

// RenewToken extends the confirmation window of an unconfirmed form. Admins
// and the responsible agent only. The token itself is kept, so a link already
// sent to the client stays valid.
func (s *Service) RenewToken(ctx context.Context, actor auth.Actor, formID string) (string, time.Time, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("confirmation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.GetForUpdate(ctx, tx, formID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !actor.IsAdmin() && !(actor.IsAgent() && actor.ID == f.AgentID) {
		return "", time.Time{}, fmt.Errorf("%w: not allowed to renew this form's token", ErrForbidden)
	}
	if f.Confirmed {
		return "", time.Time{}, &AlreadyConfirmedError{ConfirmedAt: confirmedAt(f)}
	}

	token, err := s.tokens.Renew(ctx, tx, &f)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", time.Time{}, fmt.Errorf("confirmation: commit renew: %w", err)
	}

	return token, *f.TokenExpiresAt, nil
}

func (s *Service) find(ctx context.Context, token string) (form.Form, error) {
	f, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return form.Form{}, ErrTokenNotFound
		}
		return form.Form{}, err
	}
	return f, nil
}

// check orders the failure modes: a confirmed form always reports the replay,
// even when the original window has long passed.
func (s *Service) check(f form.Form) error {
	if f.Confirmed {
		return &AlreadyConfirmedError{ConfirmedAt: confirmedAt(f)}
	}
	if f.TokenExpiresAt == nil || !s.now().Before(*f.TokenExpiresAt) {
		var expiredAt time.Time
		if f.TokenExpiresAt != nil {
			expiredAt = *f.TokenExpiresAt
		}
		return &TokenExpiredError{ExpiredAt: expiredAt}
	}
	return nil
}

func confirmedAt(f form.Form) time.Time {
	if f.ConfirmedAt != nil {
		return *f.ConfirmedAt
	}
	return time.Time{}
}
