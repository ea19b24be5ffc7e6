// Package cleanup implements the periodic maintenance sweeps run by the
// cleanup binary.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultStaleAfter is how long a proposal may sit unreviewed before the
// sweep reports it.
const DefaultStaleAfter = 30 * 24 * time.Hour

// DB is the slice of pgxpool.Pool the sweeps use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Report summarizes one sweep run.
type Report struct {
	ExpiredTokensCleared int64
	StaleProposals       int64
}

// Sweeper runs the maintenance passes. Sweeps are independent and run
// concurrently; a failure in one does not block the others from finishing.
type Sweeper struct {
	db         DB
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewSweeper(db DB, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		db:         db,
		logger:     logger,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

func (s *Sweeper) WithStaleAfter(d time.Duration) *Sweeper {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var report Report
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.clearExpiredTokens(ctx)
		if err != nil {
			return err
		}
		report.ExpiredTokensCleared = n
		return nil
	})
	g.Go(func() error {
		n, err := s.countStaleProposals(ctx)
		if err != nil {
			return err
		}
		report.StaleProposals = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	s.logger.Info("cleanup sweep finished",
		zap.Int64("expired_tokens_cleared", report.ExpiredTokensCleared),
		zap.Int64("stale_proposals", report.StaleProposals))
	return report, nil
}

// clearExpiredTokens drops confirmation tokens whose window has passed on
// forms that never confirmed. The forms stay; a renewal issues a fresh token.
func (s *Sweeper) clearExpiredTokens(ctx context.Context) (int64, error) {
	const query = `
		UPDATE application_forms
		SET confirmation_token = NULL,
		    token_expires_at = NULL,
		    updated_at = now()
		WHERE confirmed = FALSE
		  AND token_expires_at IS NOT NULL
		  AND token_expires_at < $1
	`
	tag, err := s.db.Exec(ctx, query, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup: clear expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// countStaleProposals reports proposals that have sat unreviewed too long.
// Deciding them is an admin's job, so the sweep only surfaces the backlog.
func (s *Sweeper) countStaleProposals(ctx context.Context) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM application_forms
		WHERE has_pending_changes = TRUE
		  AND pending_changes_at < $1
	`
	var n int64
	cutoff := s.now().UTC().Add(-s.staleAfter)
	if err := s.db.QueryRow(ctx, query, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("cleanup: count stale proposals: %w", err)
	}
	return n, nil
}
