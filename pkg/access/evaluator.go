package access

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Evaluator turns one upstream response into a decision.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) Decision
}

type EvaluationInput struct {
	Resource string
	Slot     int
	Response any
}

// Policy is what the heuristic does with a response that carries data but no
// clear accept or reject signal.
type Policy string

const (
	PolicyDefaultAllow Policy = "default-allow"
	PolicyStrict       Policy = "strict"
	PolicyRego         Policy = "rego"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDefaultAllow, PolicyStrict, PolicyRego:
		return p, nil
	case "":
		return PolicyDefaultAllow, nil
	default:
		return "", fmt.Errorf("unknown access policy %q", s)
	}
}

type rule struct {
	name  string
	match func(map[string]any) bool
}

// Reject rules run first; any match denies regardless of accept signals.
var rejectRules = []rule{
	{"error", anyTruthy("error", "message", "error_message")},
	{"status", statusIn("error", "fail", "failed", "not_found")},
	{"not_found", anyFalse("found", "exists", "usuario", "registered", "encontrado")},
	{"not_authorized", anyFalse("authorized", "access", "permitido", "con_acceso", "ok", "success", "hasAccess")},
}

var acceptRules = []rule{
	{"join_url", anyTruthy("join_url", "url", "link")},
	{"status", statusIn("ok", "success", "granted")},
	{"authorized", anyTrue("access", "authorized", "permitido", "con_acceso", "ok", "success")},
	{"record", allTruthy("nombre", "sala")},
}

var (
	joinURLFields = []string{"join_url", "url", "link"}
	contactFields = []string{"whatsapp", "phone"}
)

// HeuristicEvaluator sniffs well known fields of an untyped validator
// response.
type HeuristicEvaluator struct {
	Policy Policy
}

func (h HeuristicEvaluator) Evaluate(_ context.Context, input EvaluationInput) Decision {
	return evaluate(input.Response, h.Policy)
}

// Evaluate applies the heuristic with the default-allow fallback.
func Evaluate(response any) Decision {
	return evaluate(response, PolicyDefaultAllow)
}

func evaluate(response any, policy Policy) Decision {
	obj, ok := response.(map[string]any)
	if !ok || len(obj) == 0 {
		return Decision{Verdict: Denied, Reason: "empty"}
	}

	for _, r := range rejectRules {
		if r.match(obj) {
			return Decision{Verdict: Denied, Reason: "reject:" + r.name}
		}
	}

	decision := Decision{Verdict: Granted, Reason: "default:allow"}
	accepted := false
	for _, r := range acceptRules {
		if r.match(obj) {
			decision.Reason = "accept:" + r.name
			accepted = true
			break
		}
	}

	if !accepted && policy == PolicyStrict {
		return Decision{Verdict: Denied, Reason: "default:deny"}
	}

	decision.JoinURL = firstString(obj, joinURLFields)
	decision.Contact = firstString(obj, contactFields)
	return decision
}

func anyTruthy(keys ...string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		for _, k := range keys {
			if truthy(obj[k]) {
				return true
			}
		}
		return false
	}
}

func allTruthy(keys ...string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		for _, k := range keys {
			if !truthy(obj[k]) {
				return false
			}
		}
		return true
	}
}

func anyTrue(keys ...string) func(map[string]any) bool {
	return anyBool(true, keys...)
}

func anyFalse(keys ...string) func(map[string]any) bool {
	return anyBool(false, keys...)
}

func anyBool(want bool, keys ...string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		for _, k := range keys {
			if b, ok := obj[k].(bool); ok && b == want {
				return true
			}
		}
		return false
	}
}

func statusIn(values ...string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		s, ok := obj["status"].(string)
		if !ok {
			return false
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, v := range values {
			if s == v {
				return true
			}
		}
		return false
	}
}

// truthy follows javascript truthiness for decoded json values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}

// firstString returns the first truthy field rendered as text. Spreadsheets
// often hand phone numbers back as numbers.
func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			if t != 0 && !math.IsNaN(t) && !math.IsInf(t, 0) {
				return strconv.FormatFloat(t, 'f', -1, 64)
			}
		case json.Number:
			if s := t.String(); s != "" && s != "0" {
				return s
			}
		}
	}
	return ""
}
