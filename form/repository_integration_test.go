package form

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"intakeflow/auth"
)

// TestLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the repository + service behavior end to end, including the
// jsonb round trip of pending changes and the cast-based field writes.
func TestLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "application_forms") || !tableExists(ctx, t, pool, "users") {
		t.Skip("database schema missing; apply the files under migrations/ first")
	}

	run := time.Now().UnixNano()
	seedUser := func(name, email, userType string, createdBy *string) string {
		var id string
		err := pool.QueryRow(ctx,
			`INSERT INTO users (name, email, password_hash, type, created_by)
			 VALUES ($1, $2, 'x', $3, $4) RETURNING id::text`,
			name, email, userType, createdBy).Scan(&id)
		if err != nil {
			t.Fatalf("seed %s: %v", email, err)
		}
		return id
	}

	adminID := seedUser("Admin", fmt.Sprintf("admin+%d@example.com", run), "admin", nil)
	agentID := seedUser("Agent", fmt.Sprintf("agent+%d@example.com", run), "agent", nil)
	clientID := seedUser("Client", fmt.Sprintf("client+%d@example.com", run), "client", &agentID)

	admin := auth.Actor{ID: adminID, Role: auth.RoleAdmin}
	agent := auth.Actor{ID: agentID, Role: auth.RoleAgent}

	svc := NewService(pool, NewRepository(pool), nil)

	// Create with typed attributes crossing the text-cast boundary.
	res, err := svc.Create(ctx, agent, CreateParams{
		ClientID: clientID,
		Attributes: map[string]any{
			"applicant_name":     "Maria Lopez",
			"dob":                "1990-01-15",
			"subsidy":            350.50,
			"policy_payment_day": float64(15),
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	formID := res.Form.ID
	defer func() {
		if err := svc.Delete(context.Background(), admin, formID); err != nil && !IsNotFound(err) {
			t.Logf("cleanup delete: %v", err)
		}
	}()

	if res.Form.ApplicantName == nil || *res.Form.ApplicantName != "Maria Lopez" {
		t.Errorf("applicant_name = %v", res.Form.ApplicantName)
	}
	if res.Form.DOB == nil || res.Form.DOB.Format("2006-01-02") != "1990-01-15" {
		t.Errorf("dob = %v", res.Form.DOB)
	}
	if res.Form.Subsidy == nil || *res.Form.Subsidy != 350.50 {
		t.Errorf("subsidy = %v", res.Form.Subsidy)
	}
	if res.Form.PolicyPaymentDay == nil || *res.Form.PolicyPaymentDay != 15 {
		t.Errorf("policy_payment_day = %v", res.Form.PolicyPaymentDay)
	}
	if len(res.Token) != 64 {
		t.Errorf("token length = %d", len(res.Token))
	}

	// Second form for the same client loses to the unique constraint.
	if _, err := svc.Create(ctx, agent, CreateParams{ClientID: clientID}); err != ErrClientHasForm {
		t.Errorf("duplicate create err = %v, want ErrClientHasForm", err)
	}

	// Agent edit to an active form parks as a proposal and survives the
	// jsonb round trip.
	if _, err := svc.ChangeStatus(ctx, admin, formID, StatusActive, "activated"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	edit, err := svc.RequestEdit(ctx, agent, formID, map[string]any{
		"city":         "Tampa",
		"subsidy":      400.0,
		"client_phone": "305-555-0101",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !edit.RequiresApproval || !edit.Form.HasPendingChanges {
		t.Fatalf("proposal not parked: %+v", edit)
	}
	if edit.Form.PendingChanges["city"] != "Tampa" {
		t.Errorf("jsonb round trip lost city: %v", edit.Form.PendingChanges)
	}

	approved, err := svc.ApprovePendingChanges(ctx, admin, formID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.City == nil || *approved.City != "Tampa" {
		t.Errorf("approved city = %v", approved.City)
	}
	if approved.Subsidy == nil || *approved.Subsidy != 400.0 {
		t.Errorf("approved subsidy = %v", approved.Subsidy)
	}
	if approved.HasPendingChanges {
		t.Errorf("latch still set after approval")
	}

	var clientPhone *string
	if err := pool.QueryRow(ctx, `SELECT phone FROM users WHERE id = $1`, clientID).Scan(&clientPhone); err != nil {
		t.Fatalf("read client phone: %v", err)
	}
	if clientPhone == nil || *clientPhone != "305-555-0101" {
		t.Errorf("client phone = %v", clientPhone)
	}

	// An approved explicit null clears the client column (SQL NULL, not the
	// text rendering of a nil).
	if _, err := svc.RequestEdit(ctx, agent, formID, map[string]any{"client_phone": nil}); err != nil {
		t.Fatalf("propose null: %v", err)
	}
	if _, err := svc.ApprovePendingChanges(ctx, admin, formID); err != nil {
		t.Fatalf("approve null: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT phone FROM users WHERE id = $1`, clientID).Scan(&clientPhone); err != nil {
		t.Fatalf("re-read client phone: %v", err)
	}
	if clientPhone != nil {
		t.Errorf("client phone not cleared: %q", *clientPhone)
	}

	entries, err := svc.History(ctx, admin, formID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	actions := map[HistoryAction]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []HistoryAction{ActionCreated, ActionStatusChanged, ActionPendingProposed, ActionPendingApproved} {
		if !actions[want] {
			t.Errorf("history missing %s: %v", want, actions)
		}
	}

	// Token lookup matches the live token.
	found, err := NewRepository(pool).FindByToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if found.ID != formID {
		t.Errorf("token resolved to %s, want %s", found.ID, formID)
	}

	// Delete cascades history.
	if err := svc.Delete(ctx, admin, formID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var historyCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM application_form_history WHERE application_form_id = $1`, formID).Scan(&historyCount); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if historyCount != 0 {
		t.Errorf("history not cascaded: %d rows", historyCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
