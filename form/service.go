package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"intakeflow/auth"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StatusUpdate bundles the writes of an admin status change.
type StatusUpdate struct {
	Status     Status
	Comment    string
	ReviewedBy string
	ReviewedAt time.Time
}

// ReviewStamp records who decided on a pending proposal and when.
type ReviewStamp struct {
	ReviewedBy string
	ReviewedAt time.Time
}

// UserRef is the slice of a user account the lifecycle needs: ownership
// linkage and the display name snapshotted onto forms.
type UserRef struct {
	ID        string
	Name      string
	Email     string
	Type      auth.Role
	CreatedBy *string
}

// Repository defines the data access required by the lifecycle service. All
// mutating methods operate inside the caller's transaction.
type Repository interface {
	TokenStore

	Insert(ctx context.Context, tx pgx.Tx, f *Form) error
	Get(ctx context.Context, id string) (Form, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Form, error)
	List(ctx context.Context, filters Filters) ([]Form, int, error)

	ApplyFields(ctx context.Context, tx pgx.Tx, id string, changes map[string]any) error
	UpdateClientFields(ctx context.Context, tx pgx.Tx, clientID string, changes map[string]any) error
	SetStatus(ctx context.Context, tx pgx.Tx, id string, update StatusUpdate) error
	SetPendingChanges(ctx context.Context, tx pgx.Tx, id string, raw map[string]any, proposedBy string, at time.Time) error
	ClearPendingChanges(ctx context.Context, tx pgx.Tx, id string, stamp ReviewStamp) error
	RejectPendingChanges(ctx context.Context, tx pgx.Tx, id string, reason string, stamp ReviewStamp) error
	Delete(ctx context.Context, tx pgx.Tx, id string) error

	GetUser(ctx context.Context, tx pgx.Tx, userID string) (UserRef, error)
	AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error
	ListHistory(ctx context.Context, formID string) ([]HistoryEntry, error)
}

// DocumentRemover removes a form's stored documents ahead of a cascade
// delete. Optional collaborator.
type DocumentRemover interface {
	RemoveAllForForm(ctx context.Context, formID string) error
}

// Service is the application form lifecycle engine: it owns status
// transitions, edit authorization, and pending-change orchestration. Every
// mutating operation runs in a single transaction against the form row, with
// the matching history entry appended in the same transaction.
type Service struct {
	pool        TxBeginner
	repo        Repository
	tokens      *TokenIssuer
	documents   DocumentRemover
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		tokens:      NewTokenIssuer(repo),
		logger:      logger,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

func (s *Service) WithDocumentStore(d DocumentRemover) *Service {
	s.documents = d
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.tokens.WithClock(now)
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Tokens exposes the issuer so the confirmation flow can share it.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// CreateParams contains the creation payload. Attributes are the form's
// application data keyed by column name; nil values are ignored.
type CreateParams struct {
	ClientID string
	// AgentID is optional: when empty, the agent that registered the client
	// is used, falling back to the acting user.
	AgentID    string
	Attributes map[string]any
}

// CreateResult carries the created form together with the confirmation token
// the surrounding code needs to build the client's confirmation link. The
// plaintext token is only available here.
type CreateResult struct {
	Form           Form
	Token          string
	TokenExpiresAt time.Time
}

// Create registers a new application form for a client. The form starts
// PENDING and unconfirmed, with a fresh confirmation token. A client can own
// at most one form; a second create fails with ErrClientHasForm.
func (s *Service) Create(ctx context.Context, actor auth.Actor, params CreateParams) (CreateResult, error) {
	if !actor.IsAdmin() && !actor.IsAgent() {
		return CreateResult{}, fmt.Errorf("%w: only agents and admins can create application forms", ErrForbidden)
	}
	if params.ClientID == "" {
		return CreateResult{}, fmt.Errorf("%w: client id required", ErrValidation)
	}

	attrs := FilterNulls(params.Attributes)
	if err := ValidateFormChanges(attrs); err != nil {
		return CreateResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	client, err := s.repo.GetUser(ctx, tx, params.ClientID)
	if err != nil {
		return CreateResult{}, err
	}
	if client.Type != auth.RoleClient {
		return CreateResult{}, fmt.Errorf("%w: user %s is not a client account", ErrNotFound, params.ClientID)
	}

	agentID := params.AgentID
	if agentID == "" {
		if client.CreatedBy != nil {
			agentID = *client.CreatedBy
		} else {
			agentID = actor.ID
		}
	}
	agent, err := s.repo.GetUser(ctx, tx, agentID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("form: resolve agent %s: %w", agentID, err)
	}

	f := &Form{
		ID:        s.idGenerator(),
		ClientID:  client.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Status:    StatusPending,
		Confirmed: false,
	}
	if err := s.repo.Insert(ctx, tx, f); err != nil {
		return CreateResult{}, err
	}
	if len(attrs) > 0 {
		if err := s.repo.ApplyFields(ctx, tx, f.ID, attrs); err != nil {
			return CreateResult{}, err
		}
	}

	token, err := s.tokens.Issue(ctx, tx, f)
	if err != nil {
		return CreateResult{}, err
	}

	if err := s.appendHistory(ctx, tx, historyParams{
		formID:  f.ID,
		action:  ActionCreated,
		actorID: actor.ID,
		comment: "application form created",
		metadata: map[string]any{
			"client_id": client.ID,
			"agent_id":  agent.ID,
		},
	}); err != nil {
		return CreateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, fmt.Errorf("form: commit create: %w", err)
	}

	created, err := s.repo.Get(ctx, f.ID)
	if err != nil {
		return CreateResult{}, err
	}

	return CreateResult{
		Form:           created,
		Token:          token,
		TokenExpiresAt: *f.TokenExpiresAt,
	}, nil
}

// ChangeStatus moves a form to a new status. Admin only; a non-empty comment
// is required. Any status may move to any other, including back out of
// REJECTED and INACTIVE.
func (s *Service) ChangeStatus(ctx context.Context, actor auth.Actor, formID string, next Status, comment string) (Form, error) {
	if !CanChangeStatus(actor) {
		return Form{}, fmt.Errorf("%w: only admins can change status", ErrForbidden)
	}
	if !ValidStatus(next) {
		return Form{}, fmt.Errorf("%w: invalid status %q", ErrValidation, next)
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return Form{}, fmt.Errorf("%w: status comment required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Form{}, fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.GetForUpdate(ctx, tx, formID)
	if err != nil {
		return Form{}, err
	}
	oldStatus := f.Status

	now := s.now().UTC()
	if err := s.repo.SetStatus(ctx, tx, formID, StatusUpdate{
		Status:     next,
		Comment:    comment,
		ReviewedBy: actor.ID,
		ReviewedAt: now,
	}); err != nil {
		return Form{}, err
	}

	if err := s.appendHistory(ctx, tx, historyParams{
		formID:    formID,
		action:    ActionStatusChanged,
		actorID:   actor.ID,
		comment:   comment,
		oldStatus: &oldStatus,
		newStatus: &next,
	}); err != nil {
		return Form{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Form{}, fmt.Errorf("form: commit status change: %w", err)
	}

	return s.repo.Get(ctx, formID)
}

// RequestEdit applies a change set on behalf of the actor. Admin edits, and
// agent edits to forms that are not ACTIVE, apply immediately. An agent edit
// to an ACTIVE form is parked as a pending proposal for admin review and does
// not touch live data. A second proposal overwrites the first: last proposal
// wins, there is no merging.
func (s *Service) RequestEdit(ctx context.Context, actor auth.Actor, formID string, changes map[string]any) (EditResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EditResult{}, fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.GetForUpdate(ctx, tx, formID)
	if err != nil {
		return EditResult{}, err
	}
	if !f.EditableBy(actor) {
		return EditResult{}, fmt.Errorf("%w: not allowed to edit this form", ErrForbidden)
	}

	if f.NeedsAdminApproval(actor) {
		return s.proposeChanges(ctx, tx, actor, formID, changes)
	}
	return s.applyDirect(ctx, tx, actor, formID, changes)
}

func (s *Service) proposeChanges(ctx context.Context, tx pgx.Tx, actor auth.Actor, formID string, changes map[string]any) (EditResult, error) {
	// Stored with original keys (client_ prefix intact) for audit. Null form
	// values are dropped; client values are kept as submitted.
	raw := make(map[string]any, len(changes))
	for key, value := range changes {
		if !strings.HasPrefix(key, ClientFieldPrefix) && value == nil {
			continue
		}
		raw[key] = value
	}

	cs := SplitChanges(raw)
	if cs.Empty() {
		return EditResult{}, fmt.Errorf("%w: empty change set", ErrValidation)
	}
	if err := ValidateFormChanges(cs.Form); err != nil {
		return EditResult{}, err
	}
	if err := ValidateClientChanges(cs.Client); err != nil {
		return EditResult{}, err
	}

	if err := s.repo.SetPendingChanges(ctx, tx, formID, raw, actor.ID, s.now().UTC()); err != nil {
		return EditResult{}, err
	}

	if err := s.appendHistory(ctx, tx, historyParams{
		formID:  formID,
		action:  ActionPendingProposed,
		actorID: actor.ID,
		comment: "changes proposed, awaiting admin approval",
		metadata: map[string]any{
			"changes": raw,
		},
	}); err != nil {
		return EditResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EditResult{}, fmt.Errorf("form: commit proposal: %w", err)
	}

	updated, err := s.repo.Get(ctx, formID)
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Form: updated, RequiresApproval: true}, nil
}

func (s *Service) applyDirect(ctx context.Context, tx pgx.Tx, actor auth.Actor, formID string, changes map[string]any) (EditResult, error) {
	// client_ keys have no business on the direct path; drop them the way the
	// pending path is the only consumer of them.
	direct := make(map[string]any, len(changes))
	for key, value := range changes {
		if value == nil || strings.HasPrefix(key, ClientFieldPrefix) {
			continue
		}
		direct[key] = value
	}
	if len(direct) == 0 {
		return EditResult{}, fmt.Errorf("%w: empty change set", ErrValidation)
	}
	if err := ValidateFormChanges(direct); err != nil {
		return EditResult{}, err
	}

	if err := s.repo.ApplyFields(ctx, tx, formID, direct); err != nil {
		return EditResult{}, err
	}

	if err := s.appendHistory(ctx, tx, historyParams{
		formID:  formID,
		action:  ActionUpdated,
		actorID: actor.ID,
		comment: "application form updated",
		metadata: map[string]any{
			"changes": direct,
		},
	}); err != nil {
		return EditResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EditResult{}, fmt.Errorf("form: commit edit: %w", err)
	}

	updated, err := s.repo.Get(ctx, formID)
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Form: updated, RequiresApproval: false}, nil
}

// ApprovePendingChanges applies the outstanding proposal: form columns to the
// form, client_ columns to the owning client account. Admin only. Approval
// proceeds even if the form has since left ACTIVE; the admin decision is
// authoritative.
func (s *Service) ApprovePendingChanges(ctx context.Context, actor auth.Actor, formID string) (Form, error) {
	if !actor.IsAdmin() {
		return Form{}, fmt.Errorf("%w: only admins can approve changes", ErrForbidden)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Form{}, fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.GetForUpdate(ctx, tx, formID)
	if err != nil {
		return Form{}, err
	}
	if !f.HasPendingChanges || len(f.PendingChanges) == 0 {
		return Form{}, ErrNoPendingChanges
	}

	proposedBy := f.PendingChangesBy
	cs := SplitChanges(f.PendingChanges)

	if formChanges := FilterNulls(cs.Form); len(formChanges) > 0 {
		if err := s.repo.ApplyFields(ctx, tx, formID, formChanges); err != nil {
			return Form{}, err
		}
	}
	if len(cs.Client) > 0 {
		if err := s.repo.UpdateClientFields(ctx, tx, f.ClientID, cs.Client); err != nil {
			return Form{}, err
		}
	}

	now := s.now().UTC()
	if err := s.repo.ClearPendingChanges(ctx, tx, formID, ReviewStamp{
		ReviewedBy: actor.ID,
		ReviewedAt: now,
	}); err != nil {
		return Form{}, err
	}

	metadata := map[string]any{
		"changes":        f.PendingChanges,
		"form_changes":   cs.Form,
		"client_changes": cs.Client,
	}
	if proposedBy != nil {
		metadata["proposed_by"] = *proposedBy
	}
	if err := s.appendHistory(ctx, tx, historyParams{
		formID:   formID,
		action:   ActionPendingApproved,
		actorID:  actor.ID,
		comment:  "pending changes approved",
		metadata: metadata,
	}); err != nil {
		return Form{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Form{}, fmt.Errorf("form: commit approval: %w", err)
	}

	return s.repo.Get(ctx, formID)
}

// RejectPendingChanges discards the outstanding proposal without touching
// live data. Admin only; a non-empty reason is required and is recorded on
// the form and in the history.
func (s *Service) RejectPendingChanges(ctx context.Context, actor auth.Actor, formID, reason string) (Form, error) {
	if !actor.IsAdmin() {
		return Form{}, fmt.Errorf("%w: only admins can reject changes", ErrForbidden)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Form{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Form{}, fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := s.repo.GetForUpdate(ctx, tx, formID)
	if err != nil {
		return Form{}, err
	}
	if !f.HasPendingChanges || len(f.PendingChanges) == 0 {
		return Form{}, ErrNoPendingChanges
	}

	discarded := f.PendingChanges
	proposedBy := f.PendingChangesBy

	now := s.now().UTC()
	if err := s.repo.RejectPendingChanges(ctx, tx, formID, reason, ReviewStamp{
		ReviewedBy: actor.ID,
		ReviewedAt: now,
	}); err != nil {
		return Form{}, err
	}

	metadata := map[string]any{
		"changes": discarded,
	}
	if proposedBy != nil {
		metadata["proposed_by"] = *proposedBy
	}
	if err := s.appendHistory(ctx, tx, historyParams{
		formID:   formID,
		action:   ActionPendingRejected,
		actorID:  actor.ID,
		comment:  reason,
		metadata: metadata,
	}); err != nil {
		return Form{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Form{}, fmt.Errorf("form: commit rejection: %w", err)
	}

	return s.repo.Get(ctx, formID)
}

// Delete removes a form together with its documents and history. Admin only.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, formID string) error {
	if !CanDelete(actor) {
		return fmt.Errorf("%w: only admins can delete application forms", ErrForbidden)
	}

	if s.documents != nil {
		if err := s.documents.RemoveAllForForm(ctx, formID); err != nil {
			return fmt.Errorf("form: remove documents: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("form: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Delete(ctx, tx, formID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("form: commit delete: %w", err)
	}
	return nil
}

// Get returns a form if the actor may view it.
func (s *Service) Get(ctx context.Context, actor auth.Actor, formID string) (Form, error) {
	f, err := s.repo.Get(ctx, formID)
	if err != nil {
		return Form{}, err
	}
	if !f.CanView(actor) {
		return Form{}, fmt.Errorf("%w: not allowed to view this form", ErrForbidden)
	}
	return f, nil
}

// List returns forms visible to the actor: all for admins, own forms for
// agents and clients.
func (s *Service) List(ctx context.Context, actor auth.Actor, filters Filters) ([]Form, int, error) {
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleAgent:
		filters.AgentID = actor.ID
	case auth.RoleClient:
		filters.ClientID = actor.ID
	default:
		return nil, 0, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return s.repo.List(ctx, filters)
}

// History returns the audit trail. Admins and the responsible agent only.
func (s *Service) History(ctx context.Context, actor auth.Actor, formID string) ([]HistoryEntry, error) {
	f, err := s.repo.Get(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !f.CanViewHistory(actor) {
		return nil, fmt.Errorf("%w: not allowed to view history", ErrForbidden)
	}
	return s.repo.ListHistory(ctx, formID)
}

type historyParams struct {
	formID    string
	action    HistoryAction
	actorID   string
	comment   string
	metadata  map[string]any
	oldStatus *Status
	newStatus *Status
}

func (s *Service) appendHistory(ctx context.Context, tx pgx.Tx, p historyParams) error {
	entry := HistoryEntry{
		ApplicationFormID: p.formID,
		Action:            p.action,
		Metadata:          p.metadata,
		OldStatus:         p.oldStatus,
		NewStatus:         p.newStatus,
		CreatedAt:         s.now().UTC(),
	}
	if p.actorID != "" {
		entry.UserID = &p.actorID
	}
	if p.comment != "" {
		entry.Comment = &p.comment
	}
	if err := s.repo.AppendHistory(ctx, tx, entry); err != nil {
		return fmt.Errorf("form: append history: %w", err)
	}
	return nil
}

// IsNotFound reports whether err represents a missing form, user, or token.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
