package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/notify"
)

// Notification kinds sent to the gateway.
const (
	NotifyRequestOpened     = "validation_request.opened"
	NotifyRequestClosed     = "validation_request.closed"
	NotifyRequestCancelled  = "validation_request.cancelled"
	NotifyRequestAutoClosed = "validation_request.auto_closed"
)

// RequestCreateOptions are parameters for creating a validation request.
type RequestCreateOptions struct {
	CaseID      string
	Type        string
	Description string
	// Open sends the request to the applicant immediately instead of
	// drafting it as pending.
	Open    bool
	ActorID string
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.ValidationRequest, error) {
	if opts.CaseID == "" {
		return domain.ValidationRequest{}, invalidf("case is required")
	}
	policy, ok := e.Config.RequestType(opts.Type)
	if !ok {
		return domain.ValidationRequest{}, invalidf("unknown validation request type %q", opts.Type)
	}
	if _, err := e.Repo.GetCase(ctx, opts.CaseID); err != nil {
		return domain.ValidationRequest{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	v := domain.ValidationRequest{
		ID:              uuid.New().String(),
		CaseID:          opts.CaseID,
		Type:            opts.Type,
		State:           domain.RequestPending,
		CloseWindowDays: policy.CloseWindowDays,
		Description:     opts.Description,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.Open {
		v.State = domain.RequestOpen
		v.NotifiedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextRequestSequence(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	v.Sequence = seq
	if err := e.Repo.InsertRequest(ctx, tx, v); err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.created", v.CaseID, "validation_request", v.ID, opts.ActorID, events.EventPayload{
		"type":     v.Type,
		"sequence": v.Sequence,
		"state":    v.State,
	}); err != nil {
		return domain.ValidationRequest{}, err
	}
	var pending *domain.Notification
	if opts.Open {
		n, err := e.enqueueNotificationTx(ctx, tx, v, NotifyRequestOpened, now)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		pending = n
		if err := e.Events.Append(ctx, tx, "request.opened", v.CaseID, "validation_request", v.ID, opts.ActorID, nil); err != nil {
			return domain.ValidationRequest{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRequest{}, err
	}
	e.deliver(ctx, pending, v)
	return v, nil
}

// NotifyRequest sends a drafted request to the applicant: pending -> open.
// The gateway call happens after the lock is released; a slow gateway must
// never block another transition on the same request.
func (e Engine) NotifyRequest(ctx context.Context, id, actorID string) (domain.ValidationRequest, error) {
	v, pending, err := e.notifyRequestLocked(ctx, id, actorID)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	e.deliver(ctx, pending, v)
	return v, nil
}

func (e Engine) notifyRequestLocked(ctx context.Context, id, actorID string) (domain.ValidationRequest, *domain.Notification, error) {
	if !e.locks.acquire(ctx, id, e.lockWait()) {
		return domain.ValidationRequest{}, nil, conflictf("request %s is locked", id)
	}
	defer e.locks.release(id)

	now := e.now().UTC().Format(time.RFC3339)
	var pending *domain.Notification
	v, err := e.transitionRequest(ctx, id, domain.RequestPending, func(tx *sql.Tx, v *domain.ValidationRequest) error {
		v.State = domain.RequestOpen
		v.NotifiedAt = &now
		v.UpdatedAt = now
		return nil
	}, func(tx *sql.Tx, v domain.ValidationRequest) error {
		n, err := e.enqueueNotificationTx(ctx, tx, v, NotifyRequestOpened, now)
		if err != nil {
			return err
		}
		pending = n
		return e.Events.Append(ctx, tx, "request.opened", v.CaseID, "validation_request", v.ID, actorID, nil)
	})
	if err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	return v, pending, nil
}

// RespondOptions carries the applicant's answer to an open request.
type RespondOptions struct {
	ID       string
	Approved bool
	Reason   string
	ActorID  string
}

// RespondRequest closes an open request with the applicant's answer.
// Rejecting without a reason is refused before any state moves.
func (e Engine) RespondRequest(ctx context.Context, opts RespondOptions) (domain.ValidationRequest, error) {
	if !opts.Approved && opts.Reason == "" {
		return domain.ValidationRequest{}, invalidf("a reason is required when rejecting")
	}
	v, pending, err := e.respondRequestLocked(ctx, opts)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	e.deliver(ctx, pending, v)
	return v, nil
}

func (e Engine) respondRequestLocked(ctx context.Context, opts RespondOptions) (domain.ValidationRequest, *domain.Notification, error) {
	if !e.locks.acquire(ctx, opts.ID, e.lockWait()) {
		return domain.ValidationRequest{}, nil, conflictf("request %s is locked", opts.ID)
	}
	defer e.locks.release(opts.ID)

	now := e.now().UTC().Format(time.RFC3339)
	var pending *domain.Notification
	v, err := e.transitionRequest(ctx, opts.ID, domain.RequestOpen, func(tx *sql.Tx, v *domain.ValidationRequest) error {
		approved := opts.Approved
		v.State = domain.RequestClosed
		v.Approved = &approved
		if !approved {
			reason := opts.Reason
			v.RejectionReason = &reason
		}
		v.ClosedAt = &now
		v.AutoClosed = false
		v.UpdatedAt = now
		return nil
	}, func(tx *sql.Tx, v domain.ValidationRequest) error {
		n, err := e.enqueueNotificationTx(ctx, tx, v, NotifyRequestClosed, now)
		if err != nil {
			return err
		}
		pending = n
		return e.Events.Append(ctx, tx, "request.closed", v.CaseID, "validation_request", v.ID, opts.ActorID, events.EventPayload{
			"approved": opts.Approved,
		})
	})
	if err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	return v, pending, nil
}

// CancelRequest cancels a pending or open request. Cancelled is terminal and
// carries no approval semantics.
func (e Engine) CancelRequest(ctx context.Context, id, reason, actorID string) (domain.ValidationRequest, error) {
	v, pending, err := e.cancelRequestLocked(ctx, id, reason, actorID)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	e.deliver(ctx, pending, v)
	return v, nil
}

func (e Engine) cancelRequestLocked(ctx context.Context, id, reason, actorID string) (domain.ValidationRequest, *domain.Notification, error) {
	if !e.locks.acquire(ctx, id, e.lockWait()) {
		return domain.ValidationRequest{}, nil, conflictf("request %s is locked", id)
	}
	defer e.locks.release(id)

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	if v.Terminal() {
		return domain.ValidationRequest{}, nil, conflictf("request %s is already %s", id, v.State)
	}
	wasOpen := v.State == domain.RequestOpen
	expected := v.State
	v.State = domain.RequestCancelled
	v.CancelledAt = &now
	if reason != "" {
		v.CancelReason = &reason
	}
	v.UpdatedAt = now
	saved, err := e.Repo.SaveRequestState(ctx, tx, v, expected)
	if err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	if !saved {
		return domain.ValidationRequest{}, nil, conflictf("request %s changed since read", id)
	}
	// The applicant only hears about the cancellation if they were told
	// about the request in the first place.
	var pending *domain.Notification
	if wasOpen {
		n, err := e.enqueueNotificationTx(ctx, tx, v, NotifyRequestCancelled, now)
		if err != nil {
			return domain.ValidationRequest{}, nil, err
		}
		pending = n
	}
	if err := e.Events.Append(ctx, tx, "request.cancelled", v.CaseID, "validation_request", v.ID, actorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRequest{}, nil, err
	}
	return v, pending, nil
}

// AutoCloseRequest closes an overdue open request on behalf of the
// scheduler. A request that is no longer open is a no-op, not an error, so
// repeated scheduler runs and racing workers stay idempotent. The
// notification is recorded atomically with the transition but dispatched by
// the caller, outside the lock.
func (e Engine) AutoCloseRequest(ctx context.Context, id string, asOf time.Time, actorID string) (*domain.Notification, error) {
	if !e.locks.acquire(ctx, id, e.lockWait()) {
		return nil, conflictf("request %s is locked", id)
	}
	defer e.locks.release(id)

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if v.State != domain.RequestOpen {
		return nil, nil
	}
	if v.CloseWindowDays <= 0 {
		return nil, configErrf("request type %s has no close window", v.Type)
	}
	if v.NotifiedAt == nil {
		return nil, conflictf("request %s is open but was never notified", id)
	}
	notifiedAt, err := time.Parse(time.RFC3339, *v.NotifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse notified_at: %w", err)
	}
	if !e.Calendar.IsOverdue(notifiedAt, v.CloseWindowDays, asOf) {
		return nil, invalidf("request %s is not overdue", id)
	}
	policy, ok := e.Config.RequestType(v.Type)
	if !ok {
		return nil, configErrf("no policy for request type %s", v.Type)
	}
	v.State = domain.RequestClosed
	v.AutoClosed = true
	v.ClosedAt = &now
	if policy.AutoApprove {
		approved := true
		v.Approved = &approved
	}
	v.UpdatedAt = now
	saved, err := e.Repo.SaveRequestState(ctx, tx, v, domain.RequestOpen)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflictf("request %s changed since read", id)
	}
	pending, err := e.enqueueNotificationTx(ctx, tx, v, NotifyRequestAutoClosed, now)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "request.auto_closed", v.CaseID, "validation_request", v.ID, actorID, events.EventPayload{
		"type":     v.Type,
		"approved": v.Approved,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}

// ListOverdue mirrors the scheduler's selection query: open, notified
// requests whose business-day window has elapsed as of asOf.
func (e Engine) ListOverdue(ctx context.Context, asOf time.Time) ([]domain.ValidationRequest, error) {
	open, err := e.Repo.OpenNotified(ctx)
	if err != nil {
		return nil, err
	}
	var overdue []domain.ValidationRequest
	for _, v := range open {
		notifiedAt, err := time.Parse(time.RFC3339, *v.NotifiedAt)
		if err != nil {
			// One corrupt row must not starve the rest of the batch.
			e.log().Error("unreadable notified_at, skipping", "request", v.ID, "error", err)
			continue
		}
		if e.Calendar.IsOverdue(notifiedAt, v.CloseWindowDays, asOf) {
			overdue = append(overdue, v)
		}
	}
	return overdue, nil
}

// transitionRequest runs one guarded state transition: read, check the
// expected state, apply, save with the optimistic guard, run extras in the
// same transaction, commit.
func (e Engine) transitionRequest(ctx context.Context, id, expected string,
	apply func(tx *sql.Tx, v *domain.ValidationRequest) error,
	extra func(tx *sql.Tx, v domain.ValidationRequest) error) (domain.ValidationRequest, error) {

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	if v.State != expected {
		return domain.ValidationRequest{}, conflictf("request %s is %s, expected %s", id, v.State, expected)
	}
	if err := apply(tx, &v); err != nil {
		return domain.ValidationRequest{}, err
	}
	saved, err := e.Repo.SaveRequestState(ctx, tx, v, expected)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	if !saved {
		return domain.ValidationRequest{}, conflictf("request %s changed since read", id)
	}
	if extra != nil {
		if err := extra(tx, v); err != nil {
			return domain.ValidationRequest{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRequest{}, err
	}
	return v, nil
}

// enqueueNotificationTx records the message owed for a transition, in the
// same transaction as the transition itself.
func (e Engine) enqueueNotificationTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest, kind, now string) (*domain.Notification, error) {
	n := domain.Notification{
		RequestID:    v.ID,
		TransitionID: uuid.New().String(),
		CaseID:       v.CaseID,
		Kind:         kind,
		State:        domain.NotificationPending,
		CreatedAt:    now,
	}
	id, inserted, err := e.Repo.InsertNotification(ctx, tx, n)
	if err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	n.ID = id
	return &n, nil
}

// deliver makes a single dispatch attempt for a just-committed transition.
// Failures never touch lifecycle state: transient errors leave the
// notification pending for the scheduler's retry sweep, permanent errors
// drop it.
func (e Engine) deliver(ctx context.Context, n *domain.Notification, v domain.ValidationRequest) {
	if n == nil {
		return
	}
	err := e.Dispatcher.Notify(ctx, e.BuildMessage(*n, v))
	switch {
	case err == nil:
		if _, err := e.Repo.MarkNotificationSent(ctx, n.ID, e.now().UTC().Format(time.RFC3339)); err != nil {
			e.log().Error("mark notification sent", "notification", n.ID, "error", err)
		}
	case errors.Is(err, notify.ErrPermanent):
		e.log().Error("notification rejected by gateway, dropping", "notification", n.ID, "error", err)
		if err := e.Repo.MarkNotificationFailed(ctx, n.ID, err.Error()); err != nil {
			e.log().Error("mark notification failed", "notification", n.ID, "error", err)
		}
	default:
		e.log().Warn("notification delivery failed, will retry", "notification", n.ID, "error", err)
		if err := e.Repo.BumpNotificationAttempt(ctx, n.ID, err.Error()); err != nil {
			e.log().Error("record notification attempt", "notification", n.ID, "error", err)
		}
	}
}

// BuildMessage renders the gateway payload for a notification.
func (e Engine) BuildMessage(n domain.Notification, v domain.ValidationRequest) notify.Message {
	payload := map[string]any{
		"type":     v.Type,
		"state":    v.State,
		"sequence": v.Sequence,
	}
	if v.Approved != nil {
		payload["approved"] = *v.Approved
	}
	if v.AutoClosed {
		payload["auto_closed"] = true
	}
	return notify.Message{
		Kind:         n.Kind,
		CaseID:       n.CaseID,
		RequestID:    n.RequestID,
		TransitionID: n.TransitionID,
		Payload:      payload,
	}
}
