// Package decision parses the structured JSON replies that drive control
// flow: the QA verdict and the manager and broker yes/no decisions.
//
// Parsing is strict. The reply must be a single JSON object whose required
// keys are present with the right JSON types; otherwise a *ParseError is
// returned. A missing boolean is never read as false. The only leniency is
// that one surrounding markdown code fence is removed before decoding.
package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Kind tells which family of structured reply failed to parse.
type Kind string

const (
	KindVerdict  Kind = "verdict"
	KindDecision Kind = "decision"
)

// ParseError reports a malformed structured reply.
type ParseError struct {
	Kind   Kind
	Schema string // verdict, query, human, follow_up
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s (%s): %s", e.Kind, e.Schema, e.Reason)
}

// Verdict is the QA completion judgment.
type Verdict struct {
	IsComplete bool   `json:"is_complete"`
	Feedback   string `json:"feedback"`
}

// QueryDecision is the manager's choice to consult the knowledge source.
type QueryDecision struct {
	NeedsQuery bool   `json:"needs_query"`
	Query      string `json:"query"`
}

// HumanDecision is the manager's choice to escalate to the human.
type HumanDecision struct {
	NeedsHuman bool   `json:"needs_human"`
	Question   string `json:"question"`
}

// FollowUp is the broker's judgment of the knowledge source's last answer.
type FollowUp struct {
	NeedsFollowUp     bool   `json:"needs_follow_up"`
	SourceDoesNotKnow bool   `json:"source_does_not_know"`
	NextQuery         string `json:"next_query"`
}

type field struct {
	name string
	typ  string
}

type shape struct {
	name   string
	kind   Kind
	schema *gojsonschema.Schema
}

func newShape(name string, kind Kind, fields ...field) shape {
	properties := map[string]interface{}{}
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		properties[f.name] = map[string]interface{}{"type": f.typ}
		required = append(required, f.name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}))
	if err != nil {
		panic(fmt.Sprintf("decision: invalid %s schema: %v", name, err))
	}
	return shape{name: name, kind: kind, schema: schema}
}

var (
	verdictShape = newShape("verdict", KindVerdict,
		field{"is_complete", "boolean"},
		field{"feedback", "string"},
	)
	queryShape = newShape("query", KindDecision,
		field{"needs_query", "boolean"},
		field{"query", "string"},
	)
	humanShape = newShape("human", KindDecision,
		field{"needs_human", "boolean"},
		field{"question", "string"},
	)
	followUpShape = newShape("follow_up", KindDecision,
		field{"needs_follow_up", "boolean"},
		field{"source_does_not_know", "boolean"},
		field{"next_query", "string"},
	)
)

// ParseVerdict parses a QA reply.
func ParseVerdict(raw string) (*Verdict, error) {
	var v Verdict
	if err := parse(verdictShape, raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseQueryDecision parses a needs_query decision.
func ParseQueryDecision(raw string) (*QueryDecision, error) {
	var d QueryDecision
	if err := parse(queryShape, raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseHumanDecision parses a needs_human decision.
func ParseHumanDecision(raw string) (*HumanDecision, error) {
	var d HumanDecision
	if err := parse(humanShape, raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseFollowUp parses a broker follow-up decision.
func ParseFollowUp(raw string) (*FollowUp, error) {
	var d FollowUp
	if err := parse(followUpShape, raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func parse(s shape, raw string, out interface{}) error {
	fail := func(format string, args ...interface{}) error {
		return &ParseError{Kind: s.kind, Schema: s.name, Raw: raw, Reason: fmt.Sprintf(format, args...)}
	}

	body := stripFence(raw)
	if body == "" {
		return fail("empty reply")
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fail("invalid JSON: %v", err)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return fail("expected a JSON object")
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fail("%v", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fail("%s", strings.Join(errs, "; "))
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fail("%v", err)
	}
	return nil
}

// stripFence removes one surrounding ``` or ```json fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if lang := strings.TrimSpace(s[:nl]); lang == "" || !strings.ContainsAny(lang, "{[") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(s)
}
