package domain

// Assessment and review progress recorded on a revision entry.
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressComplete   = "complete"
)

// Reviewer verdicts.
const (
	VerdictAccepted = "accepted"
	VerdictRejected = "rejected"
)

// Recommendation cycle statuses.
const (
	CycleInProgress         = "in_progress"
	CycleSubmittedForReview = "submitted_for_review"
	CycleReviewComplete     = "review_complete"
)

// Validation request states.
const (
	RequestPending   = "pending"
	RequestOpen      = "open"
	RequestClosed    = "closed"
	RequestCancelled = "cancelled"
)

type Case struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Entry is one immutable version in a revisable item's history. The current
// entry is always the one with the highest sequence; prior entries are audit
// history and are never mutated or deleted.
type Entry struct {
	ID               string  `json:"id"`
	CaseID           string  `json:"case_id"`
	Category         string  `json:"category"`
	Sequence         int     `json:"sequence"`
	AssessmentStatus string  `json:"assessment_status" enum:"not_started,in_progress,complete"`
	ReviewStatus     string  `json:"review_status" enum:"not_started,in_progress,complete"`
	ReviewerVerdict  *string `json:"reviewer_verdict,omitempty" enum:"accepted,rejected"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// RevisableItem is the version history for one (case, category) pair. Zero
// entries is legal and means "not started".
type RevisableItem struct {
	CaseID   string  `json:"case_id"`
	Category string  `json:"category"`
	Entries  []Entry `json:"entries"`
}

// Current returns the entry with the highest sequence, or nil when the item
// has no entries.
func (i RevisableItem) Current() *Entry {
	if len(i.Entries) == 0 {
		return nil
	}
	cur := &i.Entries[0]
	for idx := range i.Entries {
		if i.Entries[idx].Sequence > cur.Sequence {
			cur = &i.Entries[idx]
		}
	}
	return cur
}

type RecommendationCycle struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	CycleNumber int     `json:"cycle_number"`
	Status      string  `json:"status" enum:"in_progress,submitted_for_review,review_complete"`
	Submitted   bool    `json:"submitted"`
	Challenged  bool    `json:"challenged"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
	ReviewedAt  *string `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Terminal reports whether the cycle has been judged and is immutable history.
func (c RecommendationCycle) Terminal() bool {
	return c.Status == CycleReviewComplete
}

// Accepted reports "submitted and unchallenged": the gate many status
// resolvers query.
func (c RecommendationCycle) Accepted() bool {
	return c.Submitted && !c.Challenged && c.Status == CycleReviewComplete
}

type ValidationRequest struct {
	ID              string  `json:"id"`
	CaseID          string  `json:"case_id"`
	Type            string  `json:"type"`
	State           string  `json:"state" enum:"pending,open,closed,cancelled"`
	Sequence        int     `json:"sequence"`
	CloseWindowDays int     `json:"close_window_days"`
	Description     string  `json:"description,omitempty"`
	NotifiedAt      *string `json:"notified_at,omitempty" format:"date-time"`
	ClosedAt        *string `json:"closed_at,omitempty" format:"date-time"`
	CancelledAt     *string `json:"cancelled_at,omitempty" format:"date-time"`
	Approved        *bool   `json:"approved,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	CancelReason    *string `json:"cancel_reason,omitempty"`
	AutoClosed      bool    `json:"auto_closed"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the request can no longer transition.
func (v ValidationRequest) Terminal() bool {
	return v.State == RequestClosed || v.State == RequestCancelled
}

// Notification states.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is one outbound message owed for a request transition. The
// (RequestID, TransitionID) pair is unique, which is what makes dispatch
// at-most-once per transition.
type Notification struct {
	ID           int64   `json:"id"`
	RequestID    string  `json:"request_id"`
	TransitionID string  `json:"transition_id"`
	CaseID       string  `json:"case_id"`
	Kind         string  `json:"kind"`
	State        string  `json:"state" enum:"pending,sent,failed"`
	Attempts     int     `json:"attempts"`
	LastError    string  `json:"last_error,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	SentAt       *string `json:"sent_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
