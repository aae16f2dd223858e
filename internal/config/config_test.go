package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	p, ok := cfg.RequestType("description_change")
	if !ok {
		t.Fatalf("description_change missing from default catalog")
	}
	if p.CloseWindowDays != 5 || !p.AutoApprove {
		t.Fatalf("unexpected description_change policy: %+v", p)
	}
	if p, _ := cfg.RequestType("pre_commencement_condition"); p.CloseWindowDays != 10 {
		t.Fatalf("pre_commencement_condition window = %d, want 10", p.CloseWindowDays)
	}
}

func TestCloseWindowsOmitsNonAutoCloseTypes(t *testing.T) {
	windows := Default().CloseWindows()
	if _, ok := windows["other"]; ok {
		t.Fatalf("type without close window listed in close-window table")
	}
	want := map[string]int{
		"description_change":         5,
		"red_line_boundary_change":   5,
		"heads_of_terms":             5,
		"pre_commencement_condition": 10,
	}
	for k, v := range want {
		if windows[k] != v {
			t.Fatalf("close window %s = %d, want %d", k, windows[k], v)
		}
	}
}

func TestValidateRejectsAutoApproveWithoutWindow(t *testing.T) {
	_, err := FromYAML([]byte(`requests:
  types:
    description_change:
      auto_approve: true
`))
	if err == nil || !strings.Contains(err.Error(), "auto_approve") {
		t.Fatalf("expected auto_approve validation error, got %v", err)
	}
}

func TestValidateRejectsEmptyCatalog(t *testing.T) {
	if _, err := FromYAML([]byte(`requests: {types: {}}`)); err == nil {
		t.Fatalf("expected error for empty request type catalog")
	}
}

func TestValidateRejectsBadCompletionLabel(t *testing.T) {
	_, err := FromYAML([]byte(`requests:
  types:
    other: {}
categories:
  assessment_narrative:
    completion_label: finished
`))
	if err == nil || !strings.Contains(err.Error(), "completion_label") {
		t.Fatalf("expected completion_label error, got %v", err)
	}
}

func TestValidateRejectsBadHoliday(t *testing.T) {
	_, err := FromYAML([]byte(`requests:
  types:
    other: {}
calendar:
  holidays: ["next tuesday"]
`))
	if err == nil || !strings.Contains(err.Error(), "holiday") {
		t.Fatalf("expected holiday error, got %v", err)
	}
}
