package server

import (
	"caseflow/internal/domain"
	"caseflow/internal/status"
)

// Request payloads

type CreateCaseRequest struct {
	ID          *string `json:"id,omitempty"`
	Reference   string  `json:"reference"`
	Description *string `json:"description,omitempty"`
}

type AppendEntryRequest struct {
	Category         string `json:"category"`
	AssessmentStatus string `json:"assessment_status,omitempty" enum:"in_progress,complete"`
}

type ReviewEntryRequest struct {
	Verdict string `json:"verdict,omitempty" enum:"accepted,rejected"`
}

type CreateValidationRequestRequest struct {
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
	Open        bool    `json:"open,omitempty"`
}

type RespondRequestRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type CancelRequestRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type CaseResponse struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ItemResponse struct {
	CaseID   string         `json:"case_id"`
	Category string         `json:"category"`
	Status   status.Status  `json:"status"`
	Entries  []domain.Entry `json:"entries"`
}

type StatusReportResponse struct {
	CaseID   string                   `json:"case_id"`
	Statuses map[string]status.Status `json:"statuses"`
}

type CycleResponse struct {
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

type OverdueResponse struct {
	AsOf  string                     `json:"as_of" format:"date-time"`
	Items []domain.ValidationRequest `json:"items"`
}

type CloseWindowsResponse struct {
	Windows map[string]int `json:"windows"`
}

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:          c.ID,
		Reference:   c.Reference,
		Status:      c.Status,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
	}
}

func mapCases(items []domain.Case) []CaseResponse {
	res := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		res = append(res, caseResponse(c))
	}
	return res
}

func cycleResponse(c domain.RecommendationCycle) CycleResponse {
	return CycleResponse{
		ID:          c.ID,
		CaseID:      c.CaseID,
		CycleNumber: c.CycleNumber,
		Status:      c.Status,
		Submitted:   c.Submitted,
		Challenged:  c.Challenged,
		SubmittedAt: c.SubmittedAt,
		ReviewedAt:  c.ReviewedAt,
		CreatedAt:   c.CreatedAt,
	}
}

func mapCycles(items []domain.RecommendationCycle) []CycleResponse {
	res := make([]CycleResponse, 0, len(items))
	for _, c := range items {
		res = append(res, cycleResponse(c))
	}
	return res
}
