package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"request is closed, expected open"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Caseflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCases(group, cfg.Engine)
	registerEntries(group, cfg.Engine)
	registerRecommendation(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerPolicies(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's error taxonomy to HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrConfiguration):
		return newAPIError(http.StatusInternalServerError, "configuration_error", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Create case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string            `header:"X-Actor-Id"`
		Body    CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		opts := engine.CaseCreateOptions{
			Reference: input.Body.Reference,
			ActorID:   input.ActorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		c, err := e.CreateCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CaseResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CaseResponse `json:"body"`
		}{Body: mapCases(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-status",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/status",
		Summary:     "Resolve status for every category",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body StatusReportResponse `json:"body"`
	}, error) {
		statuses, err := e.ResolveAll(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusReportResponse `json:"body"`
		}{Body: StatusReportResponse{CaseID: input.CaseID, Statuses: statuses}}, nil
	})
}

func registerEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-entry",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/entries",
		Summary:       "Append a revision entry",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID  string             `path:"case_id"`
		ActorID string             `header:"X-Actor-Id"`
		Body    AppendEntryRequest `json:"body"`
	}) (*struct {
		Body domain.Entry `json:"body"`
	}, error) {
		entry, err := e.AppendEntry(ctx, engine.EntryOptions{
			CaseID:           input.CaseID,
			Category:         input.Body.Category,
			AssessmentStatus: input.Body.AssessmentStatus,
			ActorID:          input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/entries/{category}",
		Summary:     "Item history and resolved status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID   string `path:"case_id"`
		Category string `path:"category"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		item, err := e.Repo.LoadRevisableItem(ctx, input.CaseID, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.ResolveStatus(ctx, input.CaseID, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		entries := item.Entries
		if entries == nil {
			entries = []domain.Entry{}
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: ItemResponse{
			CaseID:   input.CaseID,
			Category: input.Category,
			Status:   st,
			Entries:  entries,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-entry",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/entries/{category}/review",
		Summary:     "Record a reviewer pass over the current entry",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID   string             `path:"case_id"`
		Category string             `path:"category"`
		ActorID  string             `header:"X-Actor-Id"`
		Body     ReviewEntryRequest `json:"body"`
	}) (*struct {
		Body domain.Entry `json:"body"`
	}, error) {
		entry, err := e.ReviewEntry(ctx, engine.ReviewOptions{
			CaseID:   input.CaseID,
			Category: input.Category,
			Verdict:  input.Body.Verdict,
			ActorID:  input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerRecommendation(api huma.API, e engine.Engine) {
	type cyclePath struct {
		CaseID  string `path:"case_id"`
		ActorID string `header:"X-Actor-Id"`
	}
	register := func(opID, suffix, summary string, fn func(ctx context.Context, caseID, actorID string) (domain.RecommendationCycle, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/cases/{case_id}/recommendation/" + suffix,
			Summary:     summary,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *cyclePath) (*struct {
			Body CycleResponse `json:"body"`
		}, error) {
			cycle, err := fn(ctx, input.CaseID, input.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body CycleResponse `json:"body"`
			}{Body: cycleResponse(cycle)}, nil
		})
	}
	register("submit-recommendation", "submit", "Submit recommendation for review", e.SubmitRecommendation)
	register("accept-recommendation", "accept", "Accept a submitted recommendation", e.AcceptRecommendation)
	register("challenge-recommendation", "challenge", "Challenge a submitted recommendation", e.ChallengeRecommendation)
	register("withdraw-recommendation", "withdraw", "Withdraw a submitted recommendation", e.WithdrawRecommendation)

	huma.Register(api, huma.Operation{
		OperationID: "list-recommendation-cycles",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/recommendation",
		Summary:     "Recommendation cycle history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []CycleResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		cycles, err := e.Repo.LoadRecommendationCycles(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CycleResponse `json:"body"`
		}{Body: mapCycles(cycles)}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/requests",
		Summary:       "Create validation request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID  string                         `path:"case_id"`
		ActorID string                         `header:"X-Actor-Id"`
		Body    CreateValidationRequestRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		opts := engine.RequestCreateOptions{
			CaseID:  input.CaseID,
			Type:    input.Body.Type,
			Open:    input.Body.Open,
			ActorID: input.ActorID,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		v, err := e.CreateRequest(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/requests",
		Summary:     "List validation requests for a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		State  string `query:"state" enum:"pending,open,closed,cancelled"`
		Type   string `query:"type"`
	}) (*struct {
		Body []domain.ValidationRequest `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRequests(ctx, repo.RequestFilters{
			CaseID: input.CaseID,
			State:  input.State,
			Type:   input.Type,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ValidationRequest{}
		}
		return &struct {
			Body []domain.ValidationRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get validation request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		v, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "notify-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/notify",
		Summary:     "Send a pending request to the applicant",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		v, err := e.NotifyRequest(ctx, input.ID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/respond",
		Summary:     "Record the applicant's response",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string                `path:"id"`
		ActorID string                `header:"X-Actor-Id"`
		Body    RespondRequestRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		v, err := e.RespondRequest(ctx, engine.RespondOptions{
			ID:       input.ID,
			Approved: input.Body.Approved,
			Reason:   input.Body.Reason,
			ActorID:  input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/cancel",
		Summary:     "Cancel a pending or open request",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string               `path:"id"`
		ActorID string               `header:"X-Actor-Id"`
		Body    CancelRequestRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		v, err := e.CancelRequest(ctx, input.ID, input.Body.Reason, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-notifications",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/notifications",
		Summary:     "Delivery history for a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		if _, err := e.Repo.GetRequest(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListNotificationsByRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-requests",
		Method:      http.MethodGet,
		Path:        "/requests/overdue",
		Summary:     "Open requests past their close window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AsOf string `query:"as_of" format:"date-time"`
	}) (*struct {
		Body OverdueResponse `json:"body"`
	}, error) {
		asOf := time.Now().UTC()
		if input.AsOf != "" {
			parsed, err := time.Parse(time.RFC3339, input.AsOf)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid as_of", map[string]any{"as_of": input.AsOf})
			}
			asOf = parsed.UTC()
		}
		items, err := e.ListOverdue(ctx, asOf)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ValidationRequest{}
		}
		return &struct {
			Body OverdueResponse `json:"body"`
		}{Body: OverdueResponse{
			AsOf:  asOf.Format(time.RFC3339),
			Items: items,
		}}, nil
	})
}

func registerPolicies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "close-windows",
		Method:      http.MethodGet,
		Path:        "/policies/close-windows",
		Summary:     "Auto-close windows by request type",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CloseWindowsResponse `json:"body"`
	}, error) {
		return &struct {
			Body CloseWindowsResponse `json:"body"`
		}{Body: CloseWindowsResponse{Windows: e.CloseWindows()}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		CaseID     string `query:"case_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.CaseID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
