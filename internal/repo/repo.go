package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,reference,status,description,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Reference, c.Status, nullable(c.Description), c.CreatedAt)
	return err
}

func scanCase(row *sql.Row) (domain.Case, error) {
	var c domain.Case
	var desc sql.NullString
	err := row.Scan(&c.ID, &c.Reference, &c.Status, &desc, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if desc.Valid {
		c.Description = desc.String
	}
	return c, err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT id,reference,status,description,created_at FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseByReference(ctx context.Context, ref string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT id,reference,status,description,created_at FROM cases WHERE reference=?`, ref))
}

func (r Repo) ListCases(ctx context.Context) ([]domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,reference,status,COALESCE(description,'') AS description,created_at FROM cases ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(&c.ID, &c.Reference, &c.Status, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- revision entries ---

func (r Repo) InsertEntry(ctx context.Context, tx *sql.Tx, e domain.Entry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO revision_entries(id,case_id,category,sequence,assessment_status,review_status,reviewer_verdict,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.CaseID, e.Category, e.Sequence, e.AssessmentStatus, e.ReviewStatus, nullableStringPtr(e.ReviewerVerdict), e.CreatedBy, e.CreatedAt)
	return err
}

// NextEntrySequence reserves the next sequence for a (case, category) item.
// Must run inside the insert transaction so concurrent appends cannot agree
// on the same number.
func (r Repo) NextEntrySequence(ctx context.Context, tx *sql.Tx, caseID, category string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM revision_entries WHERE case_id=? AND category=?`, caseID, category).Scan(&next)
	return next, err
}

func scanEntry(scan func(dest ...any) error) (domain.Entry, error) {
	var e domain.Entry
	var verdict sql.NullString
	if err := scan(&e.ID, &e.CaseID, &e.Category, &e.Sequence, &e.AssessmentStatus, &e.ReviewStatus, &verdict, &e.CreatedBy, &e.CreatedAt); err != nil {
		return e, err
	}
	if verdict.Valid {
		e.ReviewerVerdict = &verdict.String
	}
	return e, nil
}

const entryColumns = `id,case_id,category,sequence,assessment_status,review_status,reviewer_verdict,created_by,created_at`

// LoadRevisableItem returns the full version history for one (case,
// category) pair in ascending sequence order. An item with no entries is
// returned as-is, not as ErrNotFound: zero entries is a legal state.
func (r Repo) LoadRevisableItem(ctx context.Context, caseID, category string) (domain.RevisableItem, error) {
	item := domain.RevisableItem{CaseID: caseID, Category: category}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+entryColumns+` FROM revision_entries WHERE case_id=? AND category=? ORDER BY sequence ASC`, caseID, category)
	if err != nil {
		return item, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return item, err
		}
		item.Entries = append(item.Entries, e)
	}
	return item, rows.Err()
}

// CurrentEntryTx returns the highest-sequence entry for an item.
func (r Repo) CurrentEntryTx(ctx context.Context, tx *sql.Tx, caseID, category string) (domain.Entry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM revision_entries WHERE case_id=? AND category=? ORDER BY sequence DESC LIMIT 1`, caseID, category)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// SetEntryReview records a reviewer's verdict on an entry. Only the review
// fields move; the assessed content of an entry is immutable once created.
func (r Repo) SetEntryReview(ctx context.Context, tx *sql.Tx, entryID, reviewStatus string, verdict *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE revision_entries SET review_status=?, reviewer_verdict=? WHERE id=?`,
		reviewStatus, nullableStringPtr(verdict), entryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCategories returns the categories that have at least one entry for a
// case.
func (r Repo) ListCategories(ctx context.Context, caseID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT category FROM revision_entries WHERE case_id=? ORDER BY category`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- recommendation cycles ---

func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c domain.RecommendationCycle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO recommendation_cycles(id,case_id,cycle_number,status,submitted,challenged,submitted_at,reviewed_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CaseID, c.CycleNumber, c.Status, boolInt(c.Submitted), boolInt(c.Challenged),
		nullableStringPtr(c.SubmittedAt), nullableStringPtr(c.ReviewedAt), c.CreatedAt)
	return err
}

func (r Repo) UpdateCycle(ctx context.Context, tx *sql.Tx, c domain.RecommendationCycle) error {
	res, err := tx.ExecContext(ctx, `UPDATE recommendation_cycles SET status=?, submitted=?, challenged=?, submitted_at=?, reviewed_at=? WHERE id=?`,
		c.Status, boolInt(c.Submitted), boolInt(c.Challenged), nullableStringPtr(c.SubmittedAt), nullableStringPtr(c.ReviewedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCycle(scan func(dest ...any) error) (domain.RecommendationCycle, error) {
	var c domain.RecommendationCycle
	var submitted, challenged int
	var submittedAt, reviewedAt sql.NullString
	if err := scan(&c.ID, &c.CaseID, &c.CycleNumber, &c.Status, &submitted, &challenged, &submittedAt, &reviewedAt, &c.CreatedAt); err != nil {
		return c, err
	}
	c.Submitted = submitted != 0
	c.Challenged = challenged != 0
	if submittedAt.Valid {
		c.SubmittedAt = &submittedAt.String
	}
	if reviewedAt.Valid {
		c.ReviewedAt = &reviewedAt.String
	}
	return c, nil
}

const cycleColumns = `id,case_id,cycle_number,status,submitted,challenged,submitted_at,reviewed_at,created_at`

// LoadRecommendationCycles returns all cycles for a case in ascending cycle
// order, terminal history included.
func (r Repo) LoadRecommendationCycles(ctx context.Context, caseID string) ([]domain.RecommendationCycle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cycleColumns+` FROM recommendation_cycles WHERE case_id=? ORDER BY cycle_number ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RecommendationCycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ActiveCycleTx returns the single non-terminal cycle for a case.
func (r Repo) ActiveCycleTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.RecommendationCycle, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM recommendation_cycles WHERE case_id=? AND status != ? ORDER BY cycle_number DESC LIMIT 1`,
		caseID, domain.CycleReviewComplete)
	c, err := scanCycle(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// MaxCycleNumberTx returns the highest cycle number issued for a case, zero
// when none exist.
func (r Repo) MaxCycleNumberTx(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(cycle_number),0) FROM recommendation_cycles WHERE case_id=?`, caseID).Scan(&n)
	return n, err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, caseID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if caseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, caseID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CaseID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
