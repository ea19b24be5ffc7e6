// Package oracles holds the SQL invariant checks run repeatedly during the
// stress test. Each query returns rows only when its invariant is violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_form_per_client",
			SQL: `SELECT client_id, COUNT(*) FROM application_forms
                  GROUP BY client_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_confirmed_token_retired",
			SQL: `SELECT id FROM application_forms
                  WHERE confirmed AND confirmation_token IS NOT NULL`,
		},
		{
			Name: "O3_confirmed_keeps_accepted_token",
			SQL: `SELECT id FROM application_forms
                  WHERE confirmed AND confirmed_token IS NULL`,
		},
		{
			Name: "O4_confirmed_at_iff_confirmed",
			SQL: `SELECT id FROM application_forms
                  WHERE confirmed <> (confirmed_at IS NOT NULL)`,
		},
		{
			Name: "O5_token_expiry_paired",
			SQL: `SELECT id FROM application_forms
                  WHERE (confirmation_token IS NULL) <> (token_expires_at IS NULL)`,
		},
		{
			Name: "O6_pending_latch_matches_payload",
			SQL: `SELECT id FROM application_forms
                  WHERE has_pending_changes <> (pending_changes IS NOT NULL)`,
		},
		{
			Name: "O7_status_history_complete",
			SQL: `SELECT id FROM application_form_history
                  WHERE action = 'status_changed'
                    AND (old_status IS NULL OR new_status IS NULL)`,
		},
		{
			Name: "O8_proposal_stamp_paired",
			SQL: `SELECT id FROM application_forms
                  WHERE has_pending_changes
                    AND (pending_changes_by IS NULL OR pending_changes_at IS NULL)`,
		},
		{
			Name: "O9_history_not_orphaned",
			SQL: `SELECT h.id FROM application_form_history h
                  LEFT JOIN application_forms f ON f.id = h.application_form_id
                  WHERE f.id IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name if every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
