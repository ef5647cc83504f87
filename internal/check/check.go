package check

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Response is what a check sees of one completed request.
// Status is 0 and Err is set when no response was received.
type Response struct {
	Status   int
	Duration time.Duration
	Body     []byte
	Err      error
}

// Check is a named boolean assertion over a response. Checks never abort an iteration.
type Check interface {
	Name() string
	Evaluate(resp Response) bool
}

// Outcome is the result of one check against one response.
type Outcome struct {
	Name   string
	Passed bool
}

// Set is an ordered list of checks evaluated together.
type Set []Check

// Evaluate runs every check in order.
func (s Set) Evaluate(resp Response) []Outcome {
	out := make([]Outcome, 0, len(s))
	for _, c := range s {
		out = append(out, Outcome{Name: c.Name(), Passed: c.Evaluate(resp)})
	}
	return out
}

// NeedsBody reports whether any check inspects the response body.
func (s Set) NeedsBody() bool {
	for _, c := range s {
		if b, ok := c.(interface{ needsBody() bool }); ok && b.needsBody() {
			return true
		}
	}
	return false
}

// Names returns check names in evaluation order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name()
	}
	return names
}

// Defaults returns the two checks applied when none are configured.
func Defaults(maxDuration time.Duration) Set {
	return Set{DurationBelow(maxDuration), StatusIs(200)}
}

type durationCheck struct {
	max time.Duration
}

// DurationBelow passes when the request completed in less than max.
func DurationBelow(max time.Duration) Check {
	return durationCheck{max: max}
}

func (c durationCheck) Name() string { return "response time < " + c.max.String() }

func (c durationCheck) Evaluate(resp Response) bool {
	return resp.Err == nil && resp.Duration < c.max
}

type statusCheck struct {
	code int
}

// StatusIs passes when the response status equals code.
func StatusIs(code int) Check {
	return statusCheck{code: code}
}

func (c statusCheck) Name() string { return "status is " + strconv.Itoa(c.code) }

func (c statusCheck) Evaluate(resp Response) bool {
	return resp.Status == c.code
}

type jsonCheck struct {
	path   string
	equals string
	exists bool
}

// JSONPath passes when the gjson path resolves in the body. When equals is
// non-empty the resolved value must also match it as a string.
func JSONPath(path, equals string) Check {
	return jsonCheck{path: normalizePath(path), equals: equals, exists: equals == ""}
}

func (c jsonCheck) Name() string {
	if c.exists {
		return "json " + c.path + " exists"
	}
	return "json " + c.path + " == " + c.equals
}

func (c jsonCheck) Evaluate(resp Response) bool {
	if resp.Err != nil && resp.Status == 0 {
		return false
	}
	if !gjson.ValidBytes(resp.Body) {
		return false
	}
	result := gjson.GetBytes(resp.Body, c.path)
	if !result.Exists() {
		return false
	}
	return c.exists || result.String() == c.equals
}

func (jsonCheck) needsBody() bool { return true }

type containsCheck struct {
	needle string
}

// BodyContains passes when the response body contains needle.
func BodyContains(needle string) Check {
	return containsCheck{needle: needle}
}

func (c containsCheck) Name() string { return fmt.Sprintf("body contains %q", c.needle) }

func (c containsCheck) Evaluate(resp Response) bool {
	return strings.Contains(string(resp.Body), c.needle)
}

func (containsCheck) needsBody() bool { return true }

type namedCheck struct {
	Check
	name string
}

// Named overrides the display name of a check.
func Named(name string, c Check) Check {
	if strings.TrimSpace(name) == "" {
		return c
	}
	return namedCheck{Check: c, name: name}
}

func (c namedCheck) Name() string { return c.name }

func (c namedCheck) needsBody() bool {
	b, ok := c.Check.(interface{ needsBody() bool })
	return ok && b.needsBody()
}

// normalizePath accepts $.field and field syntax.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// Kinds accepted by FromSpec.
const (
	KindDuration     = "duration"
	KindStatus       = "status"
	KindJSON         = "json"
	KindBodyContains = "body_contains"
)

// Spec is the declarative form of a check.
type Spec struct {
	Name     string
	Kind     string
	Max      time.Duration // duration
	Status   int           // status
	Path     string        // json
	Equals   string        // json
	Contains string        // body_contains
}

// FromSpec builds a check from its declarative form.
func FromSpec(spec Spec) (Check, error) {
	var c Check
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case KindDuration:
		if spec.Max <= 0 {
			return nil, errors.New("duration check requires a positive max")
		}
		c = DurationBelow(spec.Max)
	case KindStatus:
		if spec.Status < 100 || spec.Status > 599 {
			return nil, fmt.Errorf("status check requires a status code between 100 and 599, got %d", spec.Status)
		}
		c = StatusIs(spec.Status)
	case KindJSON:
		if strings.TrimSpace(spec.Path) == "" {
			return nil, errors.New("json check requires a path")
		}
		c = JSONPath(spec.Path, spec.Equals)
	case KindBodyContains:
		if spec.Contains == "" {
			return nil, errors.New("body_contains check requires a value")
		}
		c = BodyContains(spec.Contains)
	default:
		return nil, fmt.Errorf("unknown check kind %q", spec.Kind)
	}
	return Named(spec.Name, c), nil
}

// FromSpecs builds a Set, reporting the index of the first invalid spec.
func FromSpecs(specs []Spec) (Set, error) {
	set := make(Set, 0, len(specs))
	for i, spec := range specs {
		c, err := FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		set = append(set, c)
	}
	return set, nil
}
