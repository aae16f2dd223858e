package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createCase(t *testing.T, srv *testServer, reference string) domain.Case {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"reference": reference,
	}, map[string]string{"X-Actor-Id": "officer-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return c
}

func TestEntryReviewAndStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createCase(t, srv, "25-00123-FUL")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+c.ID+"/entries", map[string]any{
		"category":          "assessment_narrative",
		"assessment_status": "complete",
	}, map[string]string{"X-Actor-Id": "officer-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("append entry status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+c.ID+"/entries/assessment_narrative", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get item status %d: %s", res.StatusCode, string(data))
	}
	var item ItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if string(item.Status) != "complete" {
		t.Fatalf("expected status complete, got %s", item.Status)
	}
	if len(item.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(item.Entries))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+c.ID+"/entries/assessment_narrative/review", map[string]any{
		"verdict": "rejected",
	}, map[string]string{"X-Actor-Id": "reviewer-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+c.ID+"/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("case status %d: %s", res.StatusCode, string(data))
	}
	var report StatusReportResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if string(report.Statuses["assessment_narrative"]) != "to_be_reviewed" {
		t.Fatalf("expected to_be_reviewed, got %s", report.Statuses["assessment_narrative"])
	}
}

func TestRecommendationChallengeOpensNewCycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createCase(t, srv, "25-00200-OUT")
	headers := map[string]string{"X-Actor-Id": "officer-1"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+c.ID+"/recommendation/submit", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+c.ID+"/recommendation/challenge", nil, map[string]string{"X-Actor-Id": "manager-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("challenge status %d: %s", res.StatusCode, string(data))
	}
	var challenged CycleResponse
	if err := json.Unmarshal(data, &challenged); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	if !challenged.Challenged || challenged.Status != "review_complete" {
		t.Fatalf("expected challenged review_complete cycle, got %+v", challenged)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+c.ID+"/recommendation", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list cycles status %d: %s", res.StatusCode, string(data))
	}
	var cycles []CycleResponse
	if err := json.Unmarshal(data, &cycles); err != nil {
		t.Fatalf("unmarshal cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles after challenge, got %d", len(cycles))
	}
	if cycles[len(cycles)-1].CycleNumber != 2 || cycles[len(cycles)-1].Status != "in_progress" {
		t.Fatalf("expected fresh cycle 2 in_progress, got %+v", cycles[len(cycles)-1])
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createCase(t, srv, "25-00300-HOU")
	headers := map[string]string{"X-Actor-Id": "officer-1"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+c.ID+"/requests", map[string]any{
		"type":        "red_line_boundary_change",
		"description": "Boundary moved to exclude the garage",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var v domain.ValidationRequest
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if v.State != "pending" || v.CloseWindowDays != 5 {
		t.Fatalf("expected pending request with 5 day window, got %+v", v)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+v.ID+"/notify", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notify status %d: %s", res.StatusCode, string(data))
	}

	// Rejecting without a reason is a 400 and must not close the request.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+v.ID+"/respond", map[string]any{
		"approved": false,
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for reject without reason, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+v.ID+"/respond", map[string]any{
		"approved": true,
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}
	var closed domain.ValidationRequest
	if err := json.Unmarshal(data, &closed); err != nil {
		t.Fatalf("unmarshal closed request: %v", err)
	}
	if closed.State != "closed" || closed.Approved == nil || !*closed.Approved {
		t.Fatalf("expected approved closed request, got %+v", closed)
	}

	// Terminal requests reject further responses.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+v.ID+"/respond", map[string]any{
		"approved": true,
	}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on second respond, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+v.ID+"/notifications", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var notifications []domain.Notification
	if err := json.Unmarshal(data, &notifications); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("expected one notification per transition (open, close), got %d", len(notifications))
	}
}

func TestCloseWindowsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/policies/close-windows", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close-windows status %d: %s", res.StatusCode, string(data))
	}
	var body CloseWindowsResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal windows: %v", err)
	}
	if body.Windows["pre_commencement_condition"] != 10 {
		t.Fatalf("expected 10 day window for pre_commencement_condition, got %d", body.Windows["pre_commencement_condition"])
	}
	if _, ok := body.Windows["additional_document"]; ok {
		t.Fatalf("additional_document must not auto-close")
	}
}
