// Package predicate compiles and evaluates the structured applicability
// conditions attached to suggestion rules.
//
// Evaluation is pure: it reads a state.Snapshot and a state.Conversation and
// never mutates either. Context that is simply missing makes a predicate
// NotApplicable; only genuine misuse (counting a scalar, say) is an error.
package predicate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/HendryAvila/plotline/internal/state"
)

// DefaultMinConfidence applies to intent nodes that do not set one.
const DefaultMinConfidence = 0.5

// Verdict is the outcome of evaluating a predicate.
type Verdict struct {
	Applicable bool    `json:"applicable"`
	Reason     string  `json:"reason,omitempty"`
	Score      float64 `json:"score"`
}

func applicable(score float64, reason string) Verdict {
	return Verdict{Applicable: true, Score: score, Reason: reason}
}

func notApplicable(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Predicate is a compiled Spec.
type Predicate interface {
	Eval(snap *state.Snapshot, conv state.Conversation) (Verdict, error)
	String() string
}

// Error reports a malformed node at compile time or a type mismatch at
// evaluation time. Path locates the node inside the rule, e.g. "when.all[1]".
type Error struct {
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "predicate: " + e.Msg
	}
	return fmt.Sprintf("predicate %s: %s", e.Path, e.Msg)
}

// Evaluate runs p; a nil predicate is always applicable.
func Evaluate(p Predicate, snap *state.Snapshot, conv state.Conversation) (Verdict, error) {
	if p == nil {
		return applicable(1, "always"), nil
	}
	return p.Eval(snap, conv)
}

// Compile validates spec and builds the evaluable tree. A nil spec yields a
// nil Predicate, which Evaluate treats as always applicable.
func Compile(spec *Spec) (Predicate, error) {
	if spec == nil {
		return nil, nil
	}
	return compile(*spec, "when")
}

func compile(s Spec, at string) (Predicate, error) {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return nil, &Error{Path: at, Msg: "empty node"}
	case 1:
	default:
		return nil, &Error{Path: at, Msg: "node sets more than one kind: " + strings.Join(kinds, ", ")}
	}
	at = at + "." + kinds[0]

	switch {
	case s.All != nil || s.Any != nil:
		children := s.All
		if s.Any != nil {
			children = s.Any
		}
		if len(children) == 0 {
			return nil, &Error{Path: at, Msg: "needs at least one child"}
		}
		n := &groupNode{any: s.Any != nil, children: make([]Predicate, 0, len(children))}
		for i, c := range children {
			p, err := compile(c, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, p)
		}
		return n, nil
	case s.Not != nil:
		inner, err := compile(*s.Not, at)
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	case s.Always != nil:
		return constNode(*s.Always), nil
	case s.Exists != "":
		return &existsNode{path: s.Exists}, nil
	case s.Absent != "":
		return &existsNode{path: s.Absent, negate: true}, nil
	case s.Count != nil:
		if s.Count.Path == "" {
			return nil, &Error{Path: at, Msg: "path is required"}
		}
		op, n, err := s.Count.comparator()
		if err != nil {
			return nil, &Error{Path: at, Msg: err.Error()}
		}
		return &countNode{path: s.Count.Path, where: s.Count.Where, op: op, n: n, at: at}, nil
	case s.Some != nil || s.None != nil:
		m, none := s.Some, false
		if s.None != nil {
			m, none = s.None, true
		}
		if m.Path == "" {
			return nil, &Error{Path: at, Msg: "path is required"}
		}
		return &matchNode{path: m.Path, where: m.Where, none: none, at: at}, nil
	case s.Equals != nil:
		if s.Equals.Path == "" {
			return nil, &Error{Path: at, Msg: "path is required"}
		}
		return &equalsNode{path: s.Equals.Path, value: s.Equals.Value}, nil
	case s.Intent != nil:
		name := strings.TrimSpace(s.Intent.Name)
		if name == "" {
			return nil, &Error{Path: at, Msg: "intent name is required"}
		}
		min := s.Intent.MinConfidence
		if min < 0 || min > 1 {
			return nil, &Error{Path: at, Msg: "min_confidence must be within [0,1]"}
		}
		if min == 0 {
			min = DefaultMinConfidence
		}
		return &intentNode{name: name, min: min}, nil
	case s.Entity != nil:
		kind := strings.TrimSpace(s.Entity.Kind)
		if kind == "" {
			return nil, &Error{Path: at, Msg: "entity kind is required"}
		}
		return &entityNode{kind: kind}, nil
	default:
		m := s.MentionsUnknown
		if m.Path == "" {
			return nil, &Error{Path: at, Msg: "path is required"}
		}
		field := m.Field
		if field == "" {
			field = "name"
		}
		return &mentionsNode{path: m.Path, field: field, at: at}, nil
	}
}

type groupNode struct {
	any      bool
	children []Predicate
}

func (n *groupNode) Eval(snap *state.Snapshot, conv state.Conversation) (Verdict, error) {
	if n.any {
		best := Verdict{}
		var reasons []string
		for _, c := range n.children {
			v, err := c.Eval(snap, conv)
			if err != nil {
				return Verdict{}, err
			}
			if v.Applicable && (!best.Applicable || v.Score > best.Score) {
				best = v
			}
			if !v.Applicable {
				reasons = append(reasons, v.Reason)
			}
		}
		if !best.Applicable {
			return Verdict{Reason: "none of: " + strings.Join(reasons, "; ")}, nil
		}
		return best, nil
	}

	score := math.Inf(1)
	var reasons []string
	for _, c := range n.children {
		v, err := c.Eval(snap, conv)
		if err != nil {
			return Verdict{}, err
		}
		if !v.Applicable {
			return v, nil
		}
		score = math.Min(score, v.Score)
		reasons = append(reasons, v.Reason)
	}
	return applicable(score, strings.Join(reasons, "; ")), nil
}

func (n *groupNode) String() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.String()
	}
	op := "all"
	if n.any {
		op = "any"
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

type notNode struct{ inner Predicate }

func (n *notNode) Eval(snap *state.Snapshot, conv state.Conversation) (Verdict, error) {
	v, err := n.inner.Eval(snap, conv)
	if err != nil {
		return Verdict{}, err
	}
	if v.Applicable {
		return notApplicable("not %s", n.inner), nil
	}
	return applicable(1, "not: "+v.Reason), nil
}

func (n *notNode) String() string { return "not(" + n.inner.String() + ")" }

type constNode bool

func (n constNode) Eval(*state.Snapshot, state.Conversation) (Verdict, error) {
	if n {
		return applicable(1, "always"), nil
	}
	return notApplicable("never"), nil
}

func (n constNode) String() string { return "always(" + strconv.FormatBool(bool(n)) + ")" }

type existsNode struct {
	path   string
	negate bool
}

func (n *existsNode) Eval(snap *state.Snapshot, _ state.Conversation) (Verdict, error) {
	v, ok := snap.Lookup(n.path)
	present := ok && state.Present(v)
	switch {
	case present && !n.negate:
		return applicable(1, n.path+" is set"), nil
	case !present && n.negate:
		return applicable(1, n.path+" is absent"), nil
	case n.negate:
		return notApplicable("%s is set", n.path), nil
	default:
		return notApplicable("%s is missing", n.path), nil
	}
}

func (n *existsNode) String() string {
	if n.negate {
		return "absent(" + n.path + ")"
	}
	return "exists(" + n.path + ")"
}

type countNode struct {
	path  string
	where map[string]any
	op    string
	n     int
	at    string
}

func (n *countNode) Eval(snap *state.Snapshot, _ state.Conversation) (Verdict, error) {
	items, verdict, err := collection(snap, n.path, n.at)
	if err != nil || items == nil {
		return verdict, err
	}
	got := len(filter(items, n.where))
	var ok bool
	switch n.op {
	case "lt":
		ok = got < n.n
	case "lte":
		ok = got <= n.n
	case "eq":
		ok = got == n.n
	case "gte":
		ok = got >= n.n
	case "gt":
		ok = got > n.n
	}
	if !ok {
		return notApplicable("count(%s) = %d, want %s %d", n.path, got, n.op, n.n), nil
	}
	return applicable(1, fmt.Sprintf("count(%s) = %d %s %d", n.path, got, n.op, n.n)), nil
}

func (n *countNode) String() string { return fmt.Sprintf("count(%s %s %d)", n.path, n.op, n.n) }

type matchNode struct {
	path  string
	where map[string]any
	none  bool
	at    string
}

func (n *matchNode) Eval(snap *state.Snapshot, _ state.Conversation) (Verdict, error) {
	items, verdict, err := collection(snap, n.path, n.at)
	if err != nil || items == nil {
		return verdict, err
	}
	found := len(filter(items, n.where)) > 0
	switch {
	case found && !n.none:
		return applicable(1, "some "+n.path+" match"), nil
	case !found && n.none:
		return applicable(1, "no "+n.path+" match"), nil
	case n.none:
		return notApplicable("%s has a match", n.path), nil
	default:
		return notApplicable("%s has no match", n.path), nil
	}
}

func (n *matchNode) String() string {
	if n.none {
		return "none(" + n.path + ")"
	}
	return "some(" + n.path + ")"
}

type equalsNode struct {
	path  string
	value any
}

func (n *equalsNode) Eval(snap *state.Snapshot, _ state.Conversation) (Verdict, error) {
	v, ok := snap.Lookup(n.path)
	if !ok {
		return notApplicable("%s is missing", n.path), nil
	}
	if !Equal(v, n.value) {
		return notApplicable("%s is %v, want %v", n.path, v, n.value), nil
	}
	return applicable(1, fmt.Sprintf("%s = %v", n.path, n.value)), nil
}

func (n *equalsNode) String() string { return fmt.Sprintf("equals(%s, %v)", n.path, n.value) }

type intentNode struct {
	name string
	min  float64
}

func (n *intentNode) Eval(_ *state.Snapshot, conv state.Conversation) (Verdict, error) {
	conf, ok := conv.Intent(n.name)
	if !ok {
		return notApplicable("intent %s not expressed", n.name), nil
	}
	if conf < n.min {
		return notApplicable("intent %s confidence %.2f below %.2f", n.name, conf, n.min), nil
	}
	return applicable(conf, "intent "+n.name), nil
}

func (n *intentNode) String() string { return "intent(" + n.name + ")" }

type entityNode struct{ kind string }

func (n *entityNode) Eval(_ *state.Snapshot, conv state.Conversation) (Verdict, error) {
	if _, ok := conv.Focused(n.kind); !ok {
		return notApplicable("no %s selected", n.kind), nil
	}
	return applicable(1, n.kind+" selected"), nil
}

func (n *entityNode) String() string { return "entity(" + n.kind + ")" }

type mentionsNode struct {
	path  string
	field string
	at    string
}

func (n *mentionsNode) Eval(snap *state.Snapshot, conv state.Conversation) (Verdict, error) {
	if len(conv.Mentions) == 0 {
		return notApplicable("nothing mentioned"), nil
	}
	items, verdict, err := collection(snap, n.path, n.at)
	if err != nil || items == nil {
		return verdict, err
	}
	known := make(map[string]bool, len(items))
	for _, it := range items {
		if v, ok := state.Lookup(it, n.field); ok {
			known[normalize(v)] = true
		}
	}
	var unknown []string
	for _, m := range conv.Mentions {
		if strings.TrimSpace(m) == "" || known[normalize(m)] {
			continue
		}
		unknown = append(unknown, m)
	}
	if len(unknown) == 0 {
		return notApplicable("every mention is a known %s", n.path), nil
	}
	return applicable(1, "unknown "+n.path+": "+strings.Join(unknown, ", ")), nil
}

func (n *mentionsNode) String() string { return "mentions_unknown(" + n.path + "." + n.field + ")" }

// collection resolves a list. A nil slice with a zero error means the
// returned verdict is final (the path did not resolve).
func collection(snap *state.Snapshot, path, at string) ([]any, Verdict, error) {
	v, ok := snap.Lookup(path)
	if !ok {
		return nil, notApplicable("%s is missing", path), nil
	}
	items, ok := state.AsList(v)
	if !ok {
		return nil, Verdict{}, &Error{Path: at, Msg: fmt.Sprintf("%s is %T, not a list", path, v)}
	}
	if items == nil {
		items = []any{}
	}
	return items, Verdict{}, nil
}

func filter(items []any, where map[string]any) []any {
	if len(where) == 0 {
		return items
	}
	var out []any
	for _, it := range items {
		match := true
		for k, want := range where {
			got, ok := state.Lookup(it, k)
			if !ok || !Equal(got, want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, it)
		}
	}
	return out
}

// Equal compares scalars loosely: strings case-insensitively after
// trimming, numbers by value regardless of their Go type.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return normalize(a) == normalize(b)
}

func normalize(v any) string {
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
