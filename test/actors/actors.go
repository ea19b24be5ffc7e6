// Package actors contains the concurrent workloads for the stress run. Each
// actor drives the real services in a loop; domain errors that are expected
// under contention (conflicts, forbidden, no pending changes) are tolerated,
// and transient database errors from the chaos monkey are counted rather
// than fatal. Only context cancellation stops an actor.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"intakeflow/auth"
	"intakeflow/confirmation"
	"intakeflow/form"
)

// Env bundles the services and identities the actors share.
type Env struct {
	Pool    *pgxpool.Pool
	Forms   *form.Service
	Confirm *confirmation.Service

	Admin   auth.Actor
	Agents  []auth.Actor
	Clients []string

	transient atomic.Int64
}

func (e *Env) randomAgent() auth.Actor { return e.Agents[rand.Intn(len(e.Agents))] }
func (e *Env) randomClient() string    { return e.Clients[rand.Intn(len(e.Clients))] }

func (e *Env) noteTransient() { e.transient.Add(1) }

// TransientErrors reports how many chaos-induced failures the actors rode
// out during the run.
func (e *Env) TransientErrors() int64 { return e.transient.Load() }

// expected reports whether err is a domain outcome contention is allowed to
// produce.
func expected(err error) bool {
	return errors.Is(err, form.ErrClientHasForm) ||
		errors.Is(err, form.ErrForbidden) ||
		errors.Is(err, form.ErrNotFound) ||
		errors.Is(err, form.ErrNoPendingChanges) ||
		errors.Is(err, form.ErrValidation) ||
		errors.Is(err, confirmation.ErrTokenNotFound) ||
		errors.Is(err, confirmation.ErrTokenExpired) ||
		errors.Is(err, confirmation.ErrAlreadyConfirmed) ||
		errors.Is(err, confirmation.ErrForbidden)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// Creator races to open forms for the shared client set. With one form per
// client, most attempts lose to the unique constraint.
func Creator(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		agent := env.randomAgent()
		_, err := env.Forms.Create(ctx, agent, form.CreateParams{
			ClientID: env.randomClient(),
			Attributes: map[string]any{
				"applicant_name": fmt.Sprintf("Applicant %d", rand.Int63()),
				"city":           "Miami",
			},
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			env.noteTransient()
		}
		pause(10, 20)
	}
	return nil
}

// Confirmer hunts for live confirmation tokens and accepts them, racing other
// confirmers for the same link.
func Confirmer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var token string
		err := env.Pool.QueryRow(ctx,
			`SELECT confirmation_token FROM application_forms
			 WHERE confirmation_token IS NOT NULL
			 ORDER BY random() LIMIT 1`).Scan(&token)
		if err == nil {
			if _, err := env.Confirm.Accept(ctx, token); err != nil && !expected(err) && ctx.Err() == nil {
				env.noteTransient()
			}
		}
		pause(20, 40)
	}
	return nil
}

// Proposer submits agent edits. Against active forms they park as proposals;
// against anything else they apply directly. Racing proposers exercise
// last-proposal-wins.
func Proposer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	cities := []string{"Miami", "Tampa", "Orlando", "Naples"}
	for !done(ctx, stop) {
		agent := env.randomAgent()
		id, err := randomFormOf(ctx, env.Pool, agent.ID)
		if err == nil {
			_, err := env.Forms.RequestEdit(ctx, agent, id, map[string]any{
				"city":         cities[rand.Intn(len(cities))],
				"client_phone": fmt.Sprintf("305-555-%04d", rand.Intn(10000)),
			})
			if err != nil && !expected(err) && ctx.Err() == nil {
				env.noteTransient()
			}
		}
		pause(15, 30)
	}
	return nil
}

// Reviewer is the admin deciding parked proposals, randomly approving or
// rejecting. Races with Proposer over the latch.
func Reviewer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var id string
		err := env.Pool.QueryRow(ctx,
			`SELECT id::text FROM application_forms
			 WHERE has_pending_changes ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if rand.Intn(2) == 0 {
				_, err = env.Forms.ApprovePendingChanges(ctx, env.Admin, id)
			} else {
				_, err = env.Forms.RejectPendingChanges(ctx, env.Admin, id, "stress rejection")
			}
			if err != nil && !expected(err) && ctx.Err() == nil {
				env.noteTransient()
			}
		}
		pause(25, 50)
	}
	return nil
}

// StatusFlipper moves random forms between statuses, including in and out of
// rejected, while proposals are in flight.
func StatusFlipper(ctx context.Context, env *Env, stop <-chan struct{}) error {
	statuses := form.AvailableStatuses()
	for !done(ctx, stop) {
		var id string
		err := env.Pool.QueryRow(ctx,
			`SELECT id::text FROM application_forms ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			next := statuses[rand.Intn(len(statuses))]
			if _, err := env.Forms.ChangeStatus(ctx, env.Admin, id, next, "stress flip"); err != nil && !expected(err) && ctx.Err() == nil {
				env.noteTransient()
			}
		}
		pause(30, 60)
	}
	return nil
}

// Renewer extends confirmation windows so Confirmer keeps finding live
// tokens through the run.
func Renewer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var id string
		err := env.Pool.QueryRow(ctx,
			`SELECT id::text FROM application_forms
			 WHERE confirmed = FALSE ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if _, _, err := env.Confirm.RenewToken(ctx, env.Admin, id); err != nil && !expected(err) && ctx.Err() == nil {
				env.noteTransient()
			}
		}
		pause(40, 80)
	}
	return nil
}

func randomFormOf(ctx context.Context, pool *pgxpool.Pool, agentID string) (string, error) {
	var id string
	err := pool.QueryRow(ctx,
		`SELECT id::text FROM application_forms WHERE agent_id = $1 ORDER BY random() LIMIT 1`,
		agentID).Scan(&id)
	return id, err
}
