package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tier thresholds on the overall score.
const (
	CompliantThreshold      = 80.0
	NeedsAttentionThreshold = 60.0
)

// Sub-score weights of the overall score.
var scoreWeights = []struct {
	key    string
	weight float64
}{
	{"technical_safeguards_score", 0.45},
	{"administrative_safeguards_score", 0.30},
	{"physical_safeguards_score", 0.10},
	{"audit_coverage_score", 0.10},
	{"devops_hygiene_score", 0.05},
}

// ErrNoJSONObject is returned when the engine text contains no brace pair.
var ErrNoJSONObject = errors.New("no JSON object found in engine response")

// ExtractJSONObject parses the substring of text from the first '{' to the
// last '}'. The engine is not trusted to return only JSON.
func ExtractJSONObject(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, ErrNoJSONObject
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse analysis results: %w", err)
	}
	if obj == nil {
		return nil, ErrNoJSONObject
	}
	return obj, nil
}

// TierFor maps an overall score to its compliance tier.
func TierFor(score float64) Tier {
	switch {
	case score >= CompliantThreshold:
		return TierCompliant
	case score >= NeedsAttentionThreshold:
		return TierNeedsAttention
	default:
		return TierNonCompliant
	}
}

// Result is the normalized engine report. Missing top-level keys are empty.
type Result struct {
	OverallScore      float64
	Scores            map[string]any
	Summary           map[string]any
	DetailedFindings  []any
	Metrics           map[string]any
	RemediationPlan   []any
	ComponentAnalysis map[string]any
	ActionsRequired   map[string]any
	Metadata          map[string]any
}

// ParseResult reads every expected key from obj with an empty default.
// When scores.overall_score is absent it is derived from the sub-scores.
func ParseResult(obj map[string]any) Result {
	r := Result{
		Scores:            objectOr(obj, "scores"),
		Summary:           objectOr(obj, "summary"),
		DetailedFindings:  arrayOr(obj, "detailed_findings"),
		Metrics:           objectOr(obj, "metrics"),
		RemediationPlan:   arrayOr(obj, "remediation_plan"),
		ComponentAnalysis: objectOr(obj, "component_analysis"),
		ActionsRequired:   objectOr(obj, "actions_required"),
		Metadata:          objectOr(obj, "metadata"),
	}

	if overall, ok := number(r.Scores["overall_score"]); ok {
		r.OverallScore = clampScore(overall)
	} else if derived, ok := WeightedOverall(r.Scores); ok {
		r.OverallScore = derived
		r.Scores["overall_score"] = derived
	}
	return r
}

// WeightedOverall computes 0.45 technical + 0.30 administrative + 0.10
// physical + 0.10 audit coverage + 0.05 devops hygiene, rounded to one
// decimal. Missing sub-scores count as zero; ok is false when none is present.
func WeightedOverall(scores map[string]any) (float64, bool) {
	var total float64
	found := false
	for _, w := range scoreWeights {
		v, ok := number(scores[w.key])
		if !ok {
			continue
		}
		found = true
		total += clampScore(v) * w.weight
	}
	if !found {
		return 0, false
	}
	return math.Round(total*10) / 10, true
}

func objectOr(obj map[string]any, key string) map[string]any {
	if v, ok := obj[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func arrayOr(obj map[string]any, key string) []any {
	if v, ok := obj[key].([]any); ok {
		return v
	}
	return []any{}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
