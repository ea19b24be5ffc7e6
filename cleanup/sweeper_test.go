package cleanup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var testTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeDB struct {
	execSQL   string
	execArgs  []any
	execTag   pgconn.CommandTag
	execErr   error
	queryArgs []any
	staleN    int64
	queryErr  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return f.execTag, f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queryArgs = args
	return fakeRow{n: f.staleN, err: f.queryErr}
}

type fakeRow struct {
	n   int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.n
	return nil
}

func TestRun(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 3"), staleN: 2}
	sweeper := NewSweeper(db, nil).WithClock(func() time.Time { return testTime })

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ExpiredTokensCleared != 3 {
		t.Errorf("cleared = %d, want 3", report.ExpiredTokensCleared)
	}
	if report.StaleProposals != 2 {
		t.Errorf("stale = %d, want 2", report.StaleProposals)
	}

	if !strings.Contains(db.execSQL, "confirmed = FALSE") {
		t.Errorf("token sweep must only touch unconfirmed forms:\n%s", db.execSQL)
	}
	if len(db.execArgs) != 1 || !db.execArgs[0].(time.Time).Equal(testTime) {
		t.Errorf("token sweep cutoff = %v", db.execArgs)
	}

	wantCutoff := testTime.Add(-DefaultStaleAfter)
	if len(db.queryArgs) != 1 || !db.queryArgs[0].(time.Time).Equal(wantCutoff) {
		t.Errorf("stale cutoff = %v, want %v", db.queryArgs, wantCutoff)
	}
}

func TestRun_SweepFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset"), staleN: 1}
	sweeper := NewSweeper(db, nil)

	if _, err := sweeper.Run(context.Background()); err == nil {
		t.Fatalf("expected error from failed sweep")
	}
}

func TestWithStaleAfter(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	sweeper := NewSweeper(db, nil).
		WithClock(func() time.Time { return testTime }).
		WithStaleAfter(7 * 24 * time.Hour)

	if _, err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	wantCutoff := testTime.Add(-7 * 24 * time.Hour)
	if !db.queryArgs[0].(time.Time).Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", db.queryArgs[0], wantCutoff)
	}
}
