package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/events"
	"caseflow/internal/notify"
)

// ActorID identifies scheduler-initiated transitions in the audit log.
const ActorID = "scheduler"

// Scheduler sweeps overdue validation requests and retries undelivered
// notifications. It is safe to run several instances against the same
// database: the engine's guarded transitions make a race a skip, not a
// double close.
type Scheduler struct {
	Engine   engine.Engine
	Interval time.Duration
	Workers  int
	Log      *slog.Logger
	Now      func() time.Time
}

// Report summarises one sweep.
type Report struct {
	Examined int `json:"examined"`
	Closed   int `json:"closed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}

func (s Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Scheduler) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s Scheduler) workers() int {
	if s.Workers <= 0 {
		return 4
	}
	return s.Workers
}

// Start runs sweeps on the configured interval until ctx is cancelled. One
// sweep runs immediately on startup.
func (s Scheduler) Start(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	if _, err := s.RunOnce(ctx, s.now()); err != nil {
		if isConfigError(err) {
			return err
		}
		s.log().Error("sweep failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, s.now()); err != nil {
				if isConfigError(err) {
					return err
				}
				s.log().Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full sweep as of the given instant: close every
// overdue request, then retry pending notifications. Per-candidate failures
// are isolated so one bad row never blocks the batch; configuration errors
// abort the run, because they mean every candidate of that type would fail
// the same way.
func (s Scheduler) RunOnce(ctx context.Context, asOf time.Time) (Report, error) {
	var rep Report
	overdue, err := s.Engine.ListOverdue(ctx, asOf)
	if err != nil {
		return rep, err
	}
	rep.Examined = len(overdue)

	q := newQueue(s.workers())
	results := make(chan closeResult, len(overdue))
	q.start(ctx)
	for _, v := range overdue {
		v := v
		q.submit(job{priority: priorityFor(v), run: func(ctx context.Context) {
			n, err := s.Engine.AutoCloseRequest(ctx, v.ID, asOf, ActorID)
			results <- closeResult{request: v, notification: n, err: err}
		}})
	}
	q.close()

	var pending []pendingDelivery
	var configErr error
	for i := 0; i < len(overdue); i++ {
		var res closeResult
		select {
		case res = <-results:
		case <-ctx.Done():
			return rep, ctx.Err()
		}
		switch {
		case res.err == nil && res.notification != nil:
			rep.Closed++
			pending = append(pending, pendingDelivery{res.notification, res.request})
		case res.err == nil:
			// Already terminal by the time the worker got there.
			rep.Skipped++
		case errors.Is(res.err, engine.ErrConflict):
			rep.Skipped++
			s.log().Info("request skipped", "request", res.request.ID, "reason", res.err)
		case isConfigError(res.err):
			configErr = res.err
		default:
			rep.Failed++
			s.log().Error("auto-close failed", "request", res.request.ID, "error", res.err)
		}
	}
	q.wait()
	if configErr != nil {
		return rep, configErr
	}

	for _, p := range pending {
		if s.dispatch(ctx, *p.notification, p.request) {
			rep.Notified++
		}
	}
	sent, err := s.retryPending(ctx)
	if err != nil {
		s.log().Error("notification retry sweep failed", "error", err)
	}
	rep.Notified += sent

	s.audit(ctx, rep, asOf)
	s.log().Info("sweep complete", "examined", rep.Examined, "closed", rep.Closed,
		"skipped", rep.Skipped, "failed", rep.Failed, "notified", rep.Notified)
	return rep, nil
}

type closeResult struct {
	request      domain.ValidationRequest
	notification *domain.Notification
	err          error
}

type pendingDelivery struct {
	notification *domain.Notification
	request      domain.ValidationRequest
}

// dispatch delivers one notification with exponential backoff. Permanent
// gateway rejections stop the retry loop and fail the row; anything still
// undelivered when the backoff gives up stays pending for the next sweep.
func (s Scheduler) dispatch(ctx context.Context, n domain.Notification, v domain.ValidationRequest) bool {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.Engine.Config.Scheduler.NotifyMaxElapsed()
	err := backoff.Retry(func() error {
		err := s.Engine.Dispatcher.Notify(ctx, s.Engine.BuildMessage(n, v))
		if errors.Is(err, notify.ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	switch {
	case err == nil:
		ok, merr := s.Engine.Repo.MarkNotificationSent(ctx, n.ID, s.now().UTC().Format(time.RFC3339))
		if merr != nil {
			s.log().Error("mark notification sent", "notification", n.ID, "error", merr)
		}
		return ok
	case errors.Is(err, notify.ErrPermanent):
		s.log().Error("notification rejected by gateway, dropping", "notification", n.ID, "error", err)
		if merr := s.Engine.Repo.MarkNotificationFailed(ctx, n.ID, err.Error()); merr != nil {
			s.log().Error("mark notification failed", "notification", n.ID, "error", merr)
		}
		return false
	default:
		s.log().Warn("notification still undelivered", "notification", n.ID, "error", err)
		if merr := s.Engine.Repo.BumpNotificationAttempt(ctx, n.ID, err.Error()); merr != nil {
			s.log().Error("record notification attempt", "notification", n.ID, "error", merr)
		}
		return false
	}
}

// retryPending re-attempts notifications left over from earlier transitions
// whose inline delivery failed.
func (s Scheduler) retryPending(ctx context.Context) (int, error) {
	pending, err := s.Engine.Repo.PendingNotifications(ctx, 100)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, n := range pending {
		v, err := s.Engine.Repo.GetRequest(ctx, n.RequestID)
		if err != nil {
			s.log().Error("load request for notification", "notification", n.ID, "error", err)
			continue
		}
		if s.dispatch(ctx, n, v) {
			sent++
		}
	}
	return sent, nil
}

func (s Scheduler) audit(ctx context.Context, rep Report, asOf time.Time) {
	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		s.log().Error("audit sweep", "error", err)
		return
	}
	defer tx.Rollback()
	err = s.Engine.Events.Append(ctx, tx, "scheduler.run", "", "scheduler", "", ActorID, events.EventPayload{
		"as_of":    asOf.UTC().Format(time.RFC3339),
		"examined": rep.Examined,
		"closed":   rep.Closed,
		"skipped":  rep.Skipped,
		"failed":   rep.Failed,
		"notified": rep.Notified,
	})
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		s.log().Error("audit sweep", "error", err)
	}
}

// priorityFor ranks candidates by how tight their window is: short-window
// requests have been overdue proportionally longer and close first.
func priorityFor(v domain.ValidationRequest) int {
	switch {
	case v.CloseWindowDays <= 3:
		return priorityUrgent
	case v.CloseWindowDays <= 5:
		return priorityHigh
	default:
		return priorityDefault
	}
}

func isConfigError(err error) bool {
	return errors.Is(err, engine.ErrConfiguration)
}
