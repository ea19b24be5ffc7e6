package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the postgres-backed Repository. Form rows are wide, so
// reads use SELECT * with struct-by-name scanning instead of hand-written
// column lists; the db tags on Form are the single source of truth.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, f *Form) error {
	const query = `
		INSERT INTO application_forms (id, client_id, agent_id, agent_name, status, confirmed)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id::text, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query, f.ID, f.ClientID, f.AgentID, f.AgentName, f.Status, f.Confirmed).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrClientHasForm
		}
		return fmt.Errorf("form: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Form, error) {
	rows, err := r.pool.Query(ctx, `SELECT * FROM application_forms WHERE id = $1`, id)
	if err != nil {
		return Form{}, fmt.Errorf("form: get: %w", err)
	}
	return collectForm(rows, "get")
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Form, error) {
	rows, err := tx.Query(ctx, `SELECT * FROM application_forms WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return Form{}, fmt.Errorf("form: get for update: %w", err)
	}
	return collectForm(rows, "get for update")
}

// FindByToken locates a form by confirmation token, matching the live token
// or the one the form was confirmed with so replays are distinguishable from
// unknown tokens.
func (r *PGRepository) FindByToken(ctx context.Context, token string) (Form, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM application_forms WHERE confirmation_token = $1 OR confirmed_token = $1`, token)
	if err != nil {
		return Form{}, fmt.Errorf("form: find by token: %w", err)
	}
	return collectForm(rows, "find by token")
}

func (r *PGRepository) FindByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (Form, error) {
	rows, err := tx.Query(ctx,
		`SELECT * FROM application_forms WHERE confirmation_token = $1 OR confirmed_token = $1 FOR UPDATE`, token)
	if err != nil {
		return Form{}, fmt.Errorf("form: find by token for update: %w", err)
	}
	return collectForm(rows, "find by token for update")
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Form, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.ClientID != "" {
		where = append(where, fmt.Sprintf("client_id=$%d", len(args)+1))
		args = append(args, filters.ClientID)
	}
	if filters.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id=$%d", len(args)+1))
		args = append(args, filters.AgentID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT * FROM application_forms%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("form: query list: %w", err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[Form])
	if err != nil {
		return nil, 0, fmt.Errorf("form: scan list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM application_forms%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("form: count list: %w", err)
	}

	return list, total, nil
}

// ApplyFields writes a validated change set. The SET list is generated from
// the same cast table validation ran against, so every column name here is
// whitelisted; values arrive as text and are cast to the column's type.
func (r *PGRepository) ApplyFields(ctx context.Context, tx pgx.Tx, id string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	if err := ValidateFormChanges(changes); err != nil {
		return err
	}

	sets := make([]string, 0, len(changes)+1)
	args := []any{id}
	for _, column := range sortedKeys(changes) {
		args = append(args, sqlValue(changes[column]))
		sets = append(sets, fmt.Sprintf("%s = $%d%s", column, len(args), fieldCasts[column]))
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE application_forms SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("form: apply fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateClientFields writes approved client_ changes to the owning user
// account.
func (r *PGRepository) UpdateClientFields(ctx context.Context, tx pgx.Tx, clientID string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	if err := ValidateClientChanges(changes); err != nil {
		return err
	}

	sets := make([]string, 0, len(changes)+1)
	args := []any{clientID}
	for _, column := range sortedKeys(changes) {
		args = append(args, sqlValue(changes[column]))
		sets = append(sets, fmt.Sprintf("%s = $%d%s", column, len(args), clientFieldCasts[column]))
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("form: update client fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	return nil
}

func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, id string, update StatusUpdate) error {
	const query = `
		UPDATE application_forms
		SET status = $2,
		    status_comment = $3,
		    reviewed_by = $4,
		    reviewed_at = $5,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, update.Status, update.Comment, update.ReviewedBy, update.ReviewedAt)
	if err != nil {
		return fmt.Errorf("form: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetPendingChanges(ctx context.Context, tx pgx.Tx, id string, raw map[string]any, proposedBy string, at time.Time) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("form: marshal pending changes: %w", err)
	}

	const query = `
		UPDATE application_forms
		SET has_pending_changes = TRUE,
		    pending_changes = $2,
		    pending_changes_by = $3,
		    pending_changes_at = $4,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, payload, proposedBy, at)
	if err != nil {
		return fmt.Errorf("form: set pending changes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ClearPendingChanges(ctx context.Context, tx pgx.Tx, id string, stamp ReviewStamp) error {
	const query = `
		UPDATE application_forms
		SET has_pending_changes = FALSE,
		    pending_changes = NULL,
		    pending_changes_by = NULL,
		    pending_changes_at = NULL,
		    reviewed_by = $2,
		    reviewed_at = $3,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, stamp.ReviewedBy, stamp.ReviewedAt)
	if err != nil {
		return fmt.Errorf("form: clear pending changes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) RejectPendingChanges(ctx context.Context, tx pgx.Tx, id string, reason string, stamp ReviewStamp) error {
	const query = `
		UPDATE application_forms
		SET has_pending_changes = FALSE,
		    pending_changes = NULL,
		    pending_changes_by = NULL,
		    pending_changes_at = NULL,
		    rejection_reason = $2,
		    rejected_at = $3,
		    status_comment = $4,
		    reviewed_by = $5,
		    reviewed_at = $3,
		    updated_at = now()
		WHERE id = $1
	`
	comment := "Changes rejected: " + reason
	tag, err := tx.Exec(ctx, query, id, reason, stamp.ReviewedAt, comment, stamp.ReviewedBy)
	if err != nil {
		return fmt.Errorf("form: reject pending changes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetToken and ClearToken implement TokenStore.
func (r *PGRepository) SetToken(ctx context.Context, tx pgx.Tx, formID, token string, expiresAt time.Time) error {
	const query = `
		UPDATE application_forms
		SET confirmation_token = $2,
		    token_expires_at = $3,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, formID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("form: set token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ClearToken(ctx context.Context, tx pgx.Tx, formID string) error {
	const query = `
		UPDATE application_forms
		SET confirmation_token = NULL,
		    token_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, formID)
	if err != nil {
		return fmt.Errorf("form: clear token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConfirmed flips the form to confirmed and retires the live token into
// confirmed_token in one statement, so there is no window where the token is
// gone but the confirmation is not recorded.
func (r *PGRepository) MarkConfirmed(ctx context.Context, tx pgx.Tx, formID string, at time.Time) error {
	const query = `
		UPDATE application_forms
		SET confirmed = TRUE,
		    confirmed_at = $2,
		    confirmed_token = confirmation_token,
		    confirmation_token = NULL,
		    token_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, formID, at)
	if err != nil {
		return fmt.Errorf("form: mark confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetPdfPath(ctx context.Context, formID, path string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE application_forms SET pdf_path = $2, updated_at = now() WHERE id = $1`, formID, path)
	if err != nil {
		return fmt.Errorf("form: set pdf path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM application_forms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("form: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) GetUser(ctx context.Context, tx pgx.Tx, userID string) (UserRef, error) {
	const query = `SELECT id::text, name, email, type, created_by::text FROM users WHERE id = $1`

	var u UserRef
	err := tx.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Type, &u.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRef{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return UserRef{}, fmt.Errorf("form: get user: %w", err)
	}
	return u, nil
}

func (r *PGRepository) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("form: marshal history metadata: %w", err)
		}
	}

	const query = `
		INSERT INTO application_form_history
			(application_form_id, action, user_id, comment, metadata, old_status, new_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		entry.ApplicationFormID,
		entry.Action,
		entry.UserID,
		entry.Comment,
		metadata,
		entry.OldStatus,
		entry.NewStatus,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("form: insert history: %w", err)
	}
	return nil
}

func (r *PGRepository) ListHistory(ctx context.Context, formID string) ([]HistoryEntry, error) {
	const query = `
		SELECT id, application_form_id::text, action, user_id::text, comment, metadata, old_status, new_status, created_at
		FROM application_form_history
		WHERE application_form_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("form: query history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[HistoryEntry])
	if err != nil {
		return nil, fmt.Errorf("form: scan history: %w", err)
	}
	return entries, nil
}

func collectForm(rows pgx.Rows, op string) (Form, error) {
	f, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[Form])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Form{}, ErrNotFound
		}
		return Form{}, fmt.Errorf("form: %s: %w", op, err)
	}
	return f, nil
}

// sqlValue binds one change value. An explicit null clears the column
// (proposals may carry null client values through approval); everything
// else is rendered as text for the cast parameter.
func sqlValue(v any) any {
	if v == nil {
		return nil
	}
	return textValue(v)
}

// textValue renders a loosely typed change value as text for a cast
// parameter. Change sets round-trip through JSON, so numbers arrive as
// float64 and dates as strings.
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", t)
	}
}

var _ Repository = (*PGRepository)(nil)
