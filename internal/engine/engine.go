package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/calendar"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/status"
)

// Engine owns every lifecycle mutation: revisable item history, recommendation
// cycles and validation requests. All mutating calls take an explicit actor
// id; there is no ambient "current user".
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Calendar   calendar.Calendar
	Dispatcher notify.Dispatcher
	Now        func() time.Time
	Log        *slog.Logger

	locks *requestLocks
}

// New builds an engine. Policy problems surface here, at startup, never per
// candidate.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, configErrf("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, configErrf("%v", err)
	}
	cal, err := calendar.New(cfg.Calendar.Holidays)
	if err != nil {
		return Engine{}, configErrf("%v", err)
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Calendar:   cal,
		Dispatcher: notify.NewLogDispatcher(nil),
		Now:        time.Now,
		Log:        slog.Default(),
		locks:      newRequestLocks(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) lockWait() time.Duration {
	return e.Config.Scheduler.LockWait()
}

// CaseCreateOptions are parameters for creating a case.
type CaseCreateOptions struct {
	ID          string
	Reference   string
	Description string
	ActorID     string
}

func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if opts.Reference == "" {
		return domain.Case{}, invalidf("reference is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Case{
		ID:          id,
		Reference:   opts.Reference,
		Status:      "active",
		Description: opts.Description,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	cycle := domain.RecommendationCycle{
		ID:          uuid.New().String(),
		CaseID:      c.ID,
		CycleNumber: 1,
		Status:      domain.CycleInProgress,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertCycle(ctx, tx, cycle); err != nil {
		return domain.Case{}, fmt.Errorf("insert cycle: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "case.created", c.ID, "case", c.ID, opts.ActorID, events.EventPayload{"reference": c.Reference}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// EntryOptions describes a new version of a revisable item.
type EntryOptions struct {
	CaseID           string
	Category         string
	AssessmentStatus string // in_progress (draft) or complete
	ActorID          string
}

// AppendEntry appends a new immutable version to an item's history. Prior
// entries keep their sequence numbers forever.
func (e Engine) AppendEntry(ctx context.Context, opts EntryOptions) (domain.Entry, error) {
	if opts.CaseID == "" || opts.Category == "" {
		return domain.Entry{}, invalidf("case and category are required")
	}
	switch opts.AssessmentStatus {
	case "":
		opts.AssessmentStatus = domain.ProgressInProgress
	case domain.ProgressInProgress, domain.ProgressComplete:
	default:
		return domain.Entry{}, invalidf("assessment status %q not allowed on a new entry", opts.AssessmentStatus)
	}
	if _, err := e.Repo.GetCase(ctx, opts.CaseID); err != nil {
		return domain.Entry{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entry{}, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextEntrySequence(ctx, tx, opts.CaseID, opts.Category)
	if err != nil {
		return domain.Entry{}, err
	}
	entry := domain.Entry{
		ID:               uuid.New().String(),
		CaseID:           opts.CaseID,
		Category:         opts.Category,
		Sequence:         seq,
		AssessmentStatus: opts.AssessmentStatus,
		ReviewStatus:     domain.ProgressNotStarted,
		CreatedBy:        opts.ActorID,
		CreatedAt:        now,
	}
	if err := e.Repo.InsertEntry(ctx, tx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "entry.appended", opts.CaseID, "entry", entry.ID, opts.ActorID, events.EventPayload{
		"category":          opts.Category,
		"sequence":          seq,
		"assessment_status": opts.AssessmentStatus,
	}); err != nil {
		return domain.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

// ReviewOptions records a reviewer's pass over the current entry. An empty
// verdict marks review as started without judging.
type ReviewOptions struct {
	CaseID   string
	Category string
	Verdict  string // accepted, rejected, or empty
	ActorID  string
}

func (e Engine) ReviewEntry(ctx context.Context, opts ReviewOptions) (domain.Entry, error) {
	switch opts.Verdict {
	case "", domain.VerdictAccepted, domain.VerdictRejected:
	default:
		return domain.Entry{}, invalidf("unknown verdict %q", opts.Verdict)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entry{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.CurrentEntryTx(ctx, tx, opts.CaseID, opts.Category)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Entry{}, invalidf("nothing to review: item %s/%s has no entries", opts.CaseID, opts.Category)
		}
		return domain.Entry{}, err
	}
	reviewStatus := domain.ProgressInProgress
	var verdict *string
	if opts.Verdict != "" {
		reviewStatus = domain.ProgressComplete
		verdict = &opts.Verdict
	}
	if err := e.Repo.SetEntryReview(ctx, tx, current.ID, reviewStatus, verdict); err != nil {
		return domain.Entry{}, err
	}
	if err := e.Events.Append(ctx, tx, "entry.reviewed", opts.CaseID, "entry", current.ID, opts.ActorID, events.EventPayload{
		"category": opts.Category,
		"sequence": current.Sequence,
		"verdict":  opts.Verdict,
	}); err != nil {
		return domain.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Entry{}, err
	}
	current.ReviewStatus = reviewStatus
	current.ReviewerVerdict = verdict
	return current, nil
}

// ResolveStatus computes the canonical status for one (case, category) item.
// Read-only: resolving never mutates state.
func (e Engine) ResolveStatus(ctx context.Context, caseID, category string) (status.Status, error) {
	item, err := e.Repo.LoadRevisableItem(ctx, caseID, category)
	if err != nil {
		return "", err
	}
	cycles, err := e.Repo.LoadRecommendationCycles(ctx, caseID)
	if err != nil {
		return "", err
	}
	return status.Resolve(item, cycles, e.categoryPolicy(category)), nil
}

// ResolveAll resolves every category configured or present on the case.
func (e Engine) ResolveAll(ctx context.Context, caseID string) (map[string]status.Status, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for cat := range e.Config.Categories {
		seen[cat] = true
	}
	present, err := e.Repo.ListCategories(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, cat := range present {
		seen[cat] = true
	}
	cycles, err := e.Repo.LoadRecommendationCycles(ctx, caseID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]status.Status, len(seen))
	for cat := range seen {
		item, err := e.Repo.LoadRevisableItem(ctx, caseID, cat)
		if err != nil {
			return nil, err
		}
		out[cat] = status.Resolve(item, cycles, e.categoryPolicy(cat))
	}
	return out, nil
}

func (e Engine) categoryPolicy(category string) status.Policy {
	p := e.Config.Categories[category]
	policy := status.Policy{OptionalWhenEmpty: p.OptionalWhenEmpty, CompletionLabel: status.Complete}
	if p.CompletionLabel == "checked" {
		policy.CompletionLabel = status.Checked
	}
	return policy
}

// CloseWindows exposes the per-type close-window policy table.
func (e Engine) CloseWindows() map[string]int {
	return e.Config.CloseWindows()
}
