package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/notify"
	"caseflow/internal/scheduler"
)

type captureDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (d *captureDispatcher) Notify(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *captureDispatcher) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type testEnv struct {
	Engine     engine.Engine
	Dispatcher *captureDispatcher
	Config     *config.Config
	Ctx        context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	// keep retry loops short under test
	cfg.Scheduler.NotifyMaxElapsedSeconds = 1
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	disp := &captureDispatcher{}
	eng.Dispatcher = disp
	// Monday, 2 June 2025.
	eng.Now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }
	return &testEnv{Engine: eng, Dispatcher: disp, Config: cfg, Ctx: context.Background()}
}

func (env *testEnv) openRequest(t *testing.T, reqType string) domain.ValidationRequest {
	t.Helper()
	c, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{Reference: "25-" + reqType, ActorID: "officer-1"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	v, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		CaseID: c.ID, Type: reqType, Open: true, ActorID: "officer-1",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return v
}

// A week past the 5 and 10 business-day windows opened on Monday 2 June.
var sweepAt = time.Date(2025, 6, 23, 12, 0, 0, 0, time.UTC)

func TestRunOnceClosesOverdueBatch(t *testing.T) {
	env := newTestEnv(t)
	auto := env.openRequest(t, "description_change")
	manual := env.openRequest(t, "red_line_boundary_change")
	env.openRequest(t, "additional_document") // no window, never a candidate

	s := scheduler.Scheduler{Engine: env.Engine, Workers: 2}
	rep, err := s.RunOnce(env.Ctx, sweepAt)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rep.Examined != 2 || rep.Closed != 2 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Notified != 2 {
		t.Fatalf("expected 2 deliveries, got %d", rep.Notified)
	}

	got, err := env.Engine.Repo.GetRequest(env.Ctx, auto.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.RequestClosed || !got.AutoClosed || got.Approved == nil || !*got.Approved {
		t.Fatalf("description_change should auto-approve: %+v", got)
	}
	got, err = env.Engine.Repo.GetRequest(env.Ctx, manual.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.RequestClosed || got.Approved != nil {
		t.Fatalf("red_line_boundary_change closes without approval: %+v", got)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	v := env.openRequest(t, "heads_of_terms")

	s := scheduler.Scheduler{Engine: env.Engine}
	if _, err := s.RunOnce(env.Ctx, sweepAt); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	rep, err := s.RunOnce(env.Ctx, sweepAt)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if rep.Examined != 0 || rep.Closed != 0 {
		t.Fatalf("second sweep should find nothing: %+v", rep)
	}
	rows, err := env.Engine.Repo.ListNotificationsByRequest(env.Ctx, v.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	autoClosed := 0
	for _, n := range rows {
		if n.Kind == engine.NotifyRequestAutoClosed {
			autoClosed++
		}
	}
	if autoClosed != 1 {
		t.Fatalf("expected exactly one auto-close notification, got %d", autoClosed)
	}
}

func TestRunOnceIsolatesBadCandidate(t *testing.T) {
	env := newTestEnv(t)
	bad := env.openRequest(t, "description_change")
	good := env.openRequest(t, "heads_of_terms")

	// corrupt one row's timestamp; it drops out of the sweep instead of
	// killing it
	if _, err := env.Engine.DB.Exec(`UPDATE validation_requests SET notified_at='not-a-time' WHERE id=?`, bad.ID); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	s := scheduler.Scheduler{Engine: env.Engine}
	rep, err := s.RunOnce(env.Ctx, sweepAt)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rep.Examined != 1 || rep.Closed != 1 {
		t.Fatalf("bad candidate must not block the batch: %+v", rep)
	}
	got, err := env.Engine.Repo.GetRequest(env.Ctx, good.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.RequestClosed {
		t.Fatalf("good candidate should close: %+v", got)
	}
	got, err = env.Engine.Repo.GetRequest(env.Ctx, bad.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.RequestOpen {
		t.Fatalf("bad candidate should be left alone: %+v", got)
	}
}

func TestRunOnceAbortsOnMissingPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.openRequest(t, "heads_of_terms")
	// the policy disappears after the request was created
	delete(env.Config.Requests.Types, "heads_of_terms")

	s := scheduler.Scheduler{Engine: env.Engine}
	_, err := s.RunOnce(env.Ctx, sweepAt)
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunOnceRetriesLeftoverNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.Dispatcher.setFail(notify.ErrTransient)
	v := env.openRequest(t, "red_line_boundary_change")
	// inline delivery failed; the notification is still pending
	pending, err := env.Engine.Repo.PendingNotifications(env.Ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending notification, got %v err=%v", pending, err)
	}

	env.Dispatcher.setFail(nil)
	s := scheduler.Scheduler{Engine: env.Engine}
	rep, err := s.RunOnce(env.Ctx, sweepAt)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	// the auto-close notification plus the leftover open notification
	if rep.Notified != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %+v", rep.Notified, rep)
	}
	pending, err = env.Engine.Repo.PendingNotifications(env.Ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending notifications, got %+v", pending)
	}
	rows, err := env.Engine.Repo.ListNotificationsByRequest(env.Ctx, v.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, n := range rows {
		if n.State != domain.NotificationSent {
			t.Fatalf("expected all sent, got %+v", rows)
		}
	}
}

func TestRunOnceDropsPermanentlyRejected(t *testing.T) {
	env := newTestEnv(t)
	v := env.openRequest(t, "heads_of_terms")
	env.Dispatcher.setFail(notify.ErrPermanent)

	s := scheduler.Scheduler{Engine: env.Engine}
	rep, err := s.RunOnce(env.Ctx, sweepAt)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rep.Closed != 1 || rep.Notified != 0 {
		t.Fatalf("permanent rejection still closes the request: %+v", rep)
	}
	rows, err := env.Engine.Repo.ListNotificationsByRequest(env.Ctx, v.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, n := range rows {
		if n.Kind == engine.NotifyRequestAutoClosed && n.State != domain.NotificationFailed {
			t.Fatalf("expected failed auto-close notification, got %+v", n)
		}
	}
}

func TestRunOnceWritesAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	env.openRequest(t, "description_change")

	s := scheduler.Scheduler{Engine: env.Engine}
	if _, err := s.RunOnce(env.Ctx, sweepAt); err != nil {
		t.Fatalf("run once: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "scheduler.run", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one sweep audit event, got %d", len(events))
	}
}
