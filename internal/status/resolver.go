// Package status computes the canonical lifecycle status of a revisable item
// from its version history and the case's recommendation cycles. Resolve is a
// pure function shared by every item family; per-family differences are
// carried in a small Policy value instead of one resolver variant per entity.
package status

import "caseflow/internal/domain"

// Status is the closed set of lifecycle statuses shown on task lists and
// status tags.
type Status string

const (
	NotStarted   Status = "not_started"
	InProgress   Status = "in_progress"
	ToBeReviewed Status = "to_be_reviewed"
	Updated      Status = "updated"
	Complete     Status = "complete"
	Checked      Status = "checked"
	Optional     Status = "optional"
)

// Policy tunes Resolve per item category.
type Policy struct {
	// OptionalWhenEmpty makes an item with no entries resolve to Optional
	// instead of NotStarted.
	OptionalWhenEmpty bool
	// CompletionLabel is returned when the current entry's review is
	// complete: Complete for assessor-facing categories, Checked for
	// reviewer-facing ones.
	CompletionLabel Status
}

// Resolve maps an item's history and the case's recommendation cycles to a
// canonical status. It is total and deterministic: it never mutates its
// inputs and always returns a member of the closed enum.
//
// Only the current entry's verdict and creation time are decision inputs;
// earlier rejection rounds are history. "Most recent" is always decided by
// sequence, never by wall clock, since two entries can share a timestamp.
func Resolve(item domain.RevisableItem, cycles []domain.RecommendationCycle, policy Policy) Status {
	current := item.Current()
	if current == nil {
		if policy.OptionalWhenEmpty {
			return Optional
		}
		return NotStarted
	}

	if current.ReviewerVerdict != nil && *current.ReviewerVerdict == domain.VerdictRejected {
		return ToBeReviewed
	}

	// An entry created after the most recent accepted submission means the
	// assessor changed something after the determination was finalized.
	// Timestamps are stored as UTC RFC3339, so lexical order is
	// chronological order.
	if gate := latestAcceptedCycle(cycles); gate != nil && gate.SubmittedAt != nil {
		if current.CreatedAt > *gate.SubmittedAt {
			return Updated
		}
	}

	if current.ReviewStatus == domain.ProgressComplete {
		if policy.CompletionLabel == Checked {
			return Checked
		}
		return Complete
	}

	for _, e := range item.Entries {
		if e.ReviewerVerdict != nil {
			return InProgress
		}
	}

	if current.AssessmentStatus == domain.ProgressComplete {
		return Complete
	}
	return InProgress
}

// latestAcceptedCycle returns the most recently terminated cycle that was
// submitted and unchallenged. An active cycle never qualifies: it has not
// been judged yet.
func latestAcceptedCycle(cycles []domain.RecommendationCycle) *domain.RecommendationCycle {
	var gate *domain.RecommendationCycle
	for i := range cycles {
		c := &cycles[i]
		if !c.Accepted() {
			continue
		}
		if gate == nil || c.CycleNumber > gate.CycleNumber {
			gate = c
		}
	}
	return gate
}
