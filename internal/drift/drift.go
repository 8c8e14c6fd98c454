// Package drift implements the Drift Detector (§4.5): a lockstep walk of a
// stored response descriptor against a newly observed one, producing
// scored, narrated Issues when the shape has changed.
package drift

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"learnproxy/internal/schema"
)

// MinObservationsForDetection gates drift detection on the stored
// descriptor's observation count (§4.5), to avoid early-learning noise.
const MinObservationsForDetection = 3

// Severity classifies the impact of a drift Issue.
type Severity string

// Drift severities (§4.5).
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBreaking Severity = "breaking"
)

// IssueKind classifies the nature of a drift Issue.
type IssueKind string

// Drift issue kinds (§4.5).
const (
	KindMissing     IssueKind = "missing"
	KindAdded       IssueKind = "added"
	KindTypeChanged IssueKind = "type_changed"
)

// Issue is a single detected structural change at a field path.
type Issue struct {
	Path      string    `json:"path"`
	Kind      IssueKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Narration string    `json:"narration"`
}

// Alert bundles the issues from one drift check with metadata for the
// admin API and the Live Broadcaster.
type Alert struct {
	ID          string    `json:"id"`
	EndpointKey string    `json:"endpointKey"`
	Timestamp   time.Time `json:"timestamp"`
	Score       int       `json:"score"`
	Issues      []Issue   `json:"issues"`
	Resolved    bool      `json:"resolved"`
}

// Detect walks stored (S) and observed (N) descriptors in lockstep and
// returns every Issue found. Call only when S.Count >= MinObservationsForDetection.
func Detect(stored, observed *schema.Descriptor) []Issue {
	var issues []Issue
	walk("", stored, observed, &issues)
	return issues
}

// NewAlert wraps issues detected for endpointKey into a scored Alert with a
// fresh ID, or returns (Alert{}, false) if there is nothing to report.
func NewAlert(endpointKey string, issues []Issue) (Alert, bool) {
	if len(issues) == 0 {
		return Alert{}, false
	}
	return Alert{
		ID:          uuid.New().String(),
		EndpointKey: endpointKey,
		Timestamp:   time.Now(),
		Score:       Score(issues),
		Issues:      issues,
	}, true
}

// Score implements the §4.5 formula: min(100, 40*#breaking + 15*#warning + 3*#info).
func Score(issues []Issue) int {
	breaking, warning, info := 0, 0, 0
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityBreaking:
			breaking++
		case SeverityWarning:
			warning++
		case SeverityInfo:
			info++
		}
	}
	score := 40*breaking + 15*warning + 3*info
	if score > 100 {
		score = 100
	}
	return score
}

func walk(path string, s, n *schema.Descriptor, issues *[]Issue) {
	if s == nil || n == nil {
		return
	}

	if s.Kind != n.Kind {
		*issues = append(*issues, typeChangedIssue(path, SeverityBreaking,
			fmt.Sprintf("changed from %s to %s", s.Kind, n.Kind)))
		return
	}

	if s.Kind == schema.KindStringTag && s.FormatHint != "" && n.FormatHint != "" && s.FormatHint != n.FormatHint {
		*issues = append(*issues, typeChangedIssue(path, SeverityWarning,
			fmt.Sprintf("format hint changed from %s to %s", s.FormatHint, n.FormatHint)))
	}

	switch s.Kind {
	case schema.KindObjectTag:
		walkObject(path, s, n, issues)
	case schema.KindArrayTag:
		walk(path+"[]", s.Element, n.Element, issues)
	}
}

func walkObject(path string, s, n *schema.Descriptor, issues *[]Issue) {
	for name, sField := range s.Fields {
		fieldPath := joinPath(path, name)
		nField, present := n.Fields[name]
		if !present {
			if s.Required[name] {
				*issues = append(*issues, Issue{
					Path:      fieldPath,
					Kind:      KindMissing,
					Severity:  SeverityBreaking,
					Narration: narrate(fieldPath, KindMissing, SeverityBreaking),
				})
			}
			continue
		}
		walk(fieldPath, sField, nField, issues)
	}

	for name, nField := range n.Fields {
		if _, present := s.Fields[name]; present {
			continue
		}
		fieldPath := joinPath(path, name)
		_ = nField
		*issues = append(*issues, Issue{
			Path:      fieldPath,
			Kind:      KindAdded,
			Severity:  SeverityInfo,
			Narration: narrate(fieldPath, KindAdded, SeverityInfo),
		})
	}
}

func typeChangedIssue(path string, sev Severity, detail string) Issue {
	return Issue{
		Path:      path,
		Kind:      KindTypeChanged,
		Severity:  sev,
		Narration: narrate(path, KindTypeChanged, sev) + " (" + detail + ")",
	}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// narrate fills a short English sentence per Issue, categorizing the field
// by a coarse name heuristic (§4.5: "categorizing the field by name
// heuristic and stating expected impact and recommended action").
func narrate(path string, kind IssueKind, sev Severity) string {
	category := categorize(path)
	switch kind {
	case KindMissing:
		return fmt.Sprintf("%s field %q is no longer present in responses; consumers reading it will break — treat as breaking and coordinate a deprecation window.", category, path)
	case KindAdded:
		return fmt.Sprintf("a new %s field %q appeared in responses; safe to ignore unless a consumer wants to start reading it.", category, path)
	case KindTypeChanged:
		if sev == SeverityBreaking {
			return fmt.Sprintf("%s field %q changed type; any consumer parsing it will break — treat as breaking and confirm with the upstream owner.", category, path)
		}
		return fmt.Sprintf("%s field %q kept its type but its format changed; consumers doing string-level validation may need an update.", category, path)
	default:
		return fmt.Sprintf("field %q changed.", path)
	}
}

func categorize(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "id"):
		return "identifier"
	case strings.Contains(lower, "email"):
		return "email"
	case strings.Contains(lower, "date"), strings.Contains(lower, "time"):
		return "timestamp"
	case strings.Contains(lower, "price"), strings.Contains(lower, "amount"), strings.Contains(lower, "cost"), strings.Contains(lower, "total"):
		return "monetary"
	case strings.Contains(lower, "status"), strings.Contains(lower, "state"):
		return "status"
	case strings.Contains(lower, "count"), strings.Contains(lower, "qty"):
		return "count"
	default:
		return "general"
	}
}
