package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseflow/internal/domain"
)

const requestColumns = `id,case_id,type,state,sequence,close_window_days,description,notified_at,closed_at,cancelled_at,approved,rejection_reason,cancel_reason,auto_closed,created_by,created_at,updated_at`

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_requests(`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.CaseID, v.Type, v.State, v.Sequence, v.CloseWindowDays, nullable(v.Description),
		nullableStringPtr(v.NotifiedAt), nullableStringPtr(v.ClosedAt), nullableStringPtr(v.CancelledAt),
		nullableBoolPtr(v.Approved), nullableStringPtr(v.RejectionReason), nullableStringPtr(v.CancelReason),
		boolInt(v.AutoClosed), v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	return err
}

// NextRequestSequence reserves the next per-case ordinal. Sequence numbers
// are assigned in creation order and never reused.
func (r Repo) NextRequestSequence(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM validation_requests WHERE case_id=?`, caseID).Scan(&next)
	return next, err
}

func scanRequest(scan func(dest ...any) error) (domain.ValidationRequest, error) {
	var v domain.ValidationRequest
	var description, notifiedAt, closedAt, cancelledAt, rejectionReason, cancelReason sql.NullString
	var approved sql.NullInt64
	var autoClosed int
	if err := scan(&v.ID, &v.CaseID, &v.Type, &v.State, &v.Sequence, &v.CloseWindowDays, &description,
		&notifiedAt, &closedAt, &cancelledAt, &approved, &rejectionReason, &cancelReason,
		&autoClosed, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return v, err
	}
	if description.Valid {
		v.Description = description.String
	}
	if notifiedAt.Valid {
		v.NotifiedAt = &notifiedAt.String
	}
	if closedAt.Valid {
		v.ClosedAt = &closedAt.String
	}
	if cancelledAt.Valid {
		v.CancelledAt = &cancelledAt.String
	}
	if approved.Valid {
		b := approved.Int64 != 0
		v.Approved = &b
	}
	if rejectionReason.Valid {
		v.RejectionReason = &rejectionReason.String
	}
	if cancelReason.Valid {
		v.CancelReason = &cancelReason.String
	}
	v.AutoClosed = autoClosed != 0
	return v, nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.ValidationRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE id=?`, id)
	v, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.ValidationRequest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE id=?`, id)
	v, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

type RequestFilters struct {
	CaseID string
	State  string
	Type   string
	Limit  int
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.ValidationRequest, error) {
	var clauses []string
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM validation_requests ` + where + ` ORDER BY case_id, sequence ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// OpenNotified returns open requests that have been sent to the applicant
// and carry a close window. This is the scheduler's raw candidate set; the
// business-day overdue check happens in the engine.
func (r Repo) OpenNotified(ctx context.Context) ([]domain.ValidationRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM validation_requests
WHERE state=? AND notified_at IS NOT NULL AND close_window_days > 0 ORDER BY notified_at ASC, id ASC`, domain.RequestOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// SaveRequestState writes a transition guarded by the state the caller read.
// It returns false without writing when the row's state no longer matches
// expectedState: the optimistic-concurrency primitive behind every request
// transition.
func (r Repo) SaveRequestState(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest, expectedState string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE validation_requests
SET state=?, notified_at=?, closed_at=?, cancelled_at=?, approved=?, rejection_reason=?, cancel_reason=?, auto_closed=?, updated_at=?
WHERE id=? AND state=?`,
		v.State, nullableStringPtr(v.NotifiedAt), nullableStringPtr(v.ClosedAt), nullableStringPtr(v.CancelledAt),
		nullableBoolPtr(v.Approved), nullableStringPtr(v.RejectionReason), nullableStringPtr(v.CancelReason),
		boolInt(v.AutoClosed), v.UpdatedAt, v.ID, expectedState)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- notifications ---

// InsertNotification records that a transition owes the gateway one message.
// The unique (request_id, transition_id) pair makes the insert idempotent:
// a retried transition enqueues nothing new. Returns the row id and whether a
// new row was written.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) (int64, bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO notifications(request_id,transition_id,case_id,kind,state,attempts,created_at)
VALUES (?,?,?,?,?,0,?)`,
		n.RequestID, n.TransitionID, n.CaseID, n.Kind, domain.NotificationPending, n.CreatedAt)
	if err != nil {
		return 0, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if inserted == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

const notificationColumns = `id,request_id,transition_id,case_id,kind,state,attempts,COALESCE(last_error,''),created_at,sent_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var sentAt sql.NullString
	if err := scan(&n.ID, &n.RequestID, &n.TransitionID, &n.CaseID, &n.Kind, &n.State, &n.Attempts, &n.LastError, &n.CreatedAt, &sentAt); err != nil {
		return n, err
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.String
	}
	return n, nil
}

// PendingNotifications returns undelivered notifications oldest first.
func (r Repo) PendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE state=? ORDER BY id ASC LIMIT ?`,
		domain.NotificationPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) ListNotificationsByRequest(ctx context.Context, requestID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE request_id=? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationSent settles a notification exactly once: the guard on
// state stops a racing deliverer from double-counting a send.
func (r Repo) MarkNotificationSent(ctx context.Context, id int64, sentAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET state=?, sent_at=? WHERE id=? AND state=?`,
		domain.NotificationSent, sentAt, id, domain.NotificationPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkNotificationFailed records a permanent delivery failure; the message
// is dropped, not retried.
func (r Repo) MarkNotificationFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET state=?, last_error=? WHERE id=? AND state=?`,
		domain.NotificationFailed, lastError, id, domain.NotificationPending)
	return err
}

// BumpNotificationAttempt counts a transient failure; the notification stays
// pending for the next delivery sweep.
func (r Repo) BumpNotificationAttempt(ctx context.Context, id int64, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET attempts=attempts+1, last_error=? WHERE id=?`, lastError, id)
	return err
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return boolInt(*v)
}
