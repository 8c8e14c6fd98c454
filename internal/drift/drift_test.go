package drift

import (
	"encoding/json"
	"testing"

	"learnproxy/internal/schema"
)

func infer(t *testing.T, js string) *schema.Descriptor {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(js), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return schema.Infer(schema.ParseValue(v))
}

func TestDetect_MissingRequiredField(t *testing.T) {
	s := infer(t, `{"id":1,"email":"a@b.com"}`)
	n := infer(t, `{"id":1}`)

	issues := Detect(s, n)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want 1", issues)
	}
	if issues[0].Kind != KindMissing || issues[0].Severity != SeverityBreaking {
		t.Errorf("issue = %+v, want missing/breaking", issues[0])
	}
	if issues[0].Narration == "" {
		t.Error("expected non-empty narration")
	}
}

func TestDetect_AddedField(t *testing.T) {
	s := infer(t, `{"id":1}`)
	n := infer(t, `{"id":1,"extra":"new"}`)

	issues := Detect(s, n)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want 1", issues)
	}
	if issues[0].Kind != KindAdded || issues[0].Severity != SeverityInfo {
		t.Errorf("issue = %+v, want added/info", issues[0])
	}
}

func TestDetect_TypeChanged(t *testing.T) {
	s := infer(t, `{"id":"abc"}`)
	n := infer(t, `{"id":1}`)

	issues := Detect(s, n)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want 1", issues)
	}
	if issues[0].Kind != KindTypeChanged || issues[0].Severity != SeverityBreaking {
		t.Errorf("issue = %+v, want type_changed/breaking", issues[0])
	}
}

func TestDetect_FormatHintChangeIsWarning(t *testing.T) {
	s := &schema.Descriptor{Kind: schema.KindObjectTag,
		Fields:   map[string]*schema.Descriptor{"id": {Kind: schema.KindStringTag, FormatHint: "uuid"}},
		Required: map[string]bool{"id": true}}
	n := &schema.Descriptor{Kind: schema.KindObjectTag,
		Fields:   map[string]*schema.Descriptor{"id": {Kind: schema.KindStringTag, FormatHint: "email"}},
		Required: map[string]bool{"id": true}}

	issues := Detect(s, n)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want 1", issues)
	}
	if issues[0].Severity != SeverityWarning {
		t.Errorf("severity = %v, want warning", issues[0].Severity)
	}
}

func TestDetect_NoChangesNoIssues(t *testing.T) {
	s := infer(t, `{"id":1,"name":"x"}`)
	n := infer(t, `{"id":2,"name":"y"}`)

	issues := Detect(s, n)
	if len(issues) != 0 {
		t.Errorf("issues = %v, want none", issues)
	}
}

func TestDetect_NestedObjects(t *testing.T) {
	s := infer(t, `{"user":{"id":1,"email":"a@b.com"}}`)
	n := infer(t, `{"user":{"id":1}}`)

	issues := Detect(s, n)
	if len(issues) != 1 || issues[0].Path != "user.email" {
		t.Fatalf("issues = %v, want one at user.email", issues)
	}
}

func TestDetect_ArrayElement(t *testing.T) {
	s := infer(t, `[{"id":1,"tag":"x"}]`)
	n := infer(t, `[{"id":1}]`)

	issues := Detect(s, n)
	if len(issues) != 1 || issues[0].Path != "[].tag" {
		t.Fatalf("issues = %v, want one at [].tag", issues)
	}
}

func TestScore_Formula(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityBreaking}, {Severity: SeverityBreaking},
		{Severity: SeverityWarning},
		{Severity: SeverityInfo}, {Severity: SeverityInfo}, {Severity: SeverityInfo},
	}
	got := Score(issues)
	want := 40*2 + 15*1 + 3*3
	if got != want {
		t.Errorf("Score = %d, want %d", got, want)
	}
}

func TestScore_Clamped(t *testing.T) {
	issues := make([]Issue, 10)
	for i := range issues {
		issues[i] = Issue{Severity: SeverityBreaking}
	}
	if got := Score(issues); got != 100 {
		t.Errorf("Score = %d, want 100 (clamped)", got)
	}
}

func TestNewAlert_EmptyIssuesReportsFalse(t *testing.T) {
	if _, ok := NewAlert("GET /a", nil); ok {
		t.Error("NewAlert with no issues should report false")
	}
}

func TestNewAlert_PopulatesFields(t *testing.T) {
	issues := []Issue{{Severity: SeverityInfo}}
	alert, ok := NewAlert("GET /a", issues)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if alert.ID == "" {
		t.Error("expected a generated ID")
	}
	if alert.EndpointKey != "GET /a" {
		t.Errorf("EndpointKey = %q", alert.EndpointKey)
	}
	if alert.Score != 3 {
		t.Errorf("Score = %d, want 3", alert.Score)
	}
}
