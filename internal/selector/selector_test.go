package selector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/plotline/internal/predicate"
	"github.com/HendryAvila/plotline/internal/render"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/state"
)

var ops = rules.Names("character_create", "trait_add", "character_select")

func newSelector(t *testing.T, rs ...rules.Rule) (*Selector, *rules.Registry) {
	t.Helper()
	reg := rules.NewRegistry(ops, nil, nil)
	_, err := reg.Load(rs)
	require.NoError(t, err)
	return New(reg, render.New(render.PolicyOmit, ""), nil, nil, Options{Workers: 3, DefaultMax: 10}), reg
}

func createCharacterRule() rules.Rule {
	return rules.Rule{
		Feature:      "Create character",
		When:         &predicate.Spec{Intent: &predicate.IntentSpec{Name: "create_character"}},
		Label:        "Create character",
		Text:         "Please create character with parameters: {{name}}",
		BEOperation:  "character_create",
		FENavigation: "center.char.list",
		Topic:        rules.TopicCharacter,
	}
}

func behaviorRule() rules.Rule {
	return rules.Rule{
		Feature: "Describe behavior",
		When: &predicate.Spec{All: []predicate.Spec{
			{Entity: &predicate.EntitySpec{Kind: "character"}},
			{None: &predicate.MatchSpec{Path: "focus.character.traits", Where: map[string]any{"type": "behavior"}}},
		}},
		Label:       "Describe behavior",
		Text:        "Let's define how {{focus.character.name}} behaves.",
		Required:    []string{"focus.character.name"},
		Params:      map[string]any{"trait_type": "behavior"},
		BEOperation: "trait_add",
		Topic:       rules.TopicCharacter,
	}
}

func always(feature string, topic rules.Topic, priority int) rules.Rule {
	return rules.Rule{Feature: feature, Label: feature, Text: feature, Topic: topic, Priority: priority}
}

func TestSelect_CreateCharacter(t *testing.T) {
	sel, reg := newSelector(t, createCharacterRule())
	snap := &state.Snapshot{Project: "p1", Revision: 7, Values: state.Tree{"characters": []any{}}}
	conv := state.Conversation{
		SessionID: "s1", Turn: 2,
		Intents: map[string]float64{"create_character": 1},
		Params:  map[string]any{"name": "Aria"},
	}

	got, err := sel.Select(context.Background(), snap, conv, []rules.Topic{rules.TopicCharacter}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	inst := got[0]
	assert.Equal(t, "Please create character with parameters: Aria", inst.Text)
	assert.Equal(t, "Aria", inst.Params["name"])
	assert.Equal(t, "character_create", inst.BEOperation)
	assert.Equal(t, "center.char.list", inst.FENavigation)
	assert.Equal(t, uint64(7), inst.Revision)
	assert.Equal(t, reg.Generation(), inst.Generation)
	assert.Equal(t, "p1", inst.ProjectID)
	assert.Equal(t, InstanceID("s1", 2, reg.Generation(), 7, rules.TopicCharacter, "Create character"), inst.ID)
}

func TestSelect_BehaviorTraitWithoutCharacter(t *testing.T) {
	sel, _ := newSelector(t, behaviorRule())
	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{SessionID: "s"}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelect_BehaviorTraitWithCharacter(t *testing.T) {
	sel, _ := newSelector(t, behaviorRule())
	snap := &state.Snapshot{Values: state.Tree{
		"focus": map[string]any{"character": map[string]any{"id": "c1", "name": "Aria", "traits": []any{}}},
	}}
	conv := state.Conversation{SessionID: "s", Focus: map[string]string{"character": "c1"}}

	got, err := sel.Select(context.Background(), snap, conv, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Let's define how Aria behaves.", got[0].Text)
	assert.Equal(t, "behavior", got[0].Params["trait_type"])
	assert.Equal(t, map[string]string{"character": "c1"}, got[0].Focus)
}

func TestSelect_Deterministic(t *testing.T) {
	var rs []rules.Rule
	for i := 0; i < 40; i++ {
		rs = append(rs, always(fmt.Sprintf("Feature %02d", i), rules.TopicCharacter, i%3))
	}
	sel, _ := newSelector(t, rs...)
	conv := state.Conversation{SessionID: "s", Turn: 1}

	first, err := sel.Select(context.Background(), state.Empty(), conv, nil, 40)
	require.NoError(t, err)
	require.Len(t, first, 40)
	for i := 0; i < 10; i++ {
		again, err := sel.Select(context.Background(), state.Empty(), conv, nil, 40)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_Ranking(t *testing.T) {
	low := rules.Rule{
		Feature: "Low intent", Label: "l", Text: "l", Topic: "story",
		When: &predicate.Spec{Intent: &predicate.IntentSpec{Name: "x", MinConfidence: 0.1}},
	}
	high := rules.Rule{
		Feature: "High intent", Label: "h", Text: "h", Topic: "story",
		When: &predicate.Spec{Intent: &predicate.IntentSpec{Name: "y", MinConfidence: 0.1}},
	}
	sel, _ := newSelector(t,
		always("Plain first", "story", 0),
		low,
		high,
		always("Top", "story", 9),
		always("Plain second", "story", 0),
	)
	conv := state.Conversation{SessionID: "s", Intents: map[string]float64{"x": 0.3, "y": 0.8}}

	got, err := sel.Select(context.Background(), state.Empty(), conv, nil, 0)
	require.NoError(t, err)
	var features []string
	for _, g := range got {
		features = append(features, g.Feature)
	}
	assert.Equal(t, []string{"Top", "Plain first", "Plain second", "High intent", "Low intent"}, features)
}

func TestSelect_DedupeByFeature(t *testing.T) {
	sel, _ := newSelector(t,
		always("Create character", rules.TopicInitial, 1),
		always("create character", rules.TopicCharacter, 5),
		always("Other", rules.TopicCharacter, 0),
	)
	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{SessionID: "s"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rules.TopicCharacter, got[0].Topic)
	assert.Equal(t, "Other", got[1].Feature)
}

func TestSelect_RequiredMissingSuppressesOnlyThatRule(t *testing.T) {
	needsName := rules.Rule{
		Feature: "Rename", Label: "Rename", Topic: "character",
		Text: "Rename {{focus.character.name}}", Required: []string{"focus.character.name"},
	}
	sel, _ := newSelector(t, needsName, always("Other", "character", 0))

	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{SessionID: "s"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Other", got[0].Feature)
}

func TestSelect_PredicateErrorSkipsOnlyThatRule(t *testing.T) {
	broken := rules.Rule{
		Feature: "Broken", Label: "b", Text: "b", Topic: "character",
		When: &predicate.Spec{Count: &predicate.CountSpec{Path: "project.name", GTE: intp(1)}},
	}
	uncompiled := rules.Rule{
		Feature: "Uncompiled", Label: "u", Text: "u", Topic: "character",
		When: &predicate.Spec{},
	}
	sel, _ := newSelector(t, broken, uncompiled, always("Fine", "character", 0))
	snap := &state.Snapshot{Values: state.Tree{"project": map[string]any{"name": "Saga"}}}

	got, err := sel.Select(context.Background(), snap, state.Conversation{SessionID: "s"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fine", got[0].Feature)
}

func TestSelect_NoLiteralPlaceholders(t *testing.T) {
	r := rules.Rule{Feature: "F", Label: "Go {{where}}", Text: "Meet {{who}} at {{ place.name }}.", Topic: "scene"}
	sel, _ := newSelector(t, r)
	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{SessionID: "s"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0].Text, "{{")
	assert.NotContains(t, got[0].Label, "{{")
	assert.Equal(t, []string{"place.name", "where", "who"}, got[0].Missing)
}

func TestSelect_Cap(t *testing.T) {
	sel, _ := newSelector(t,
		always("A", "story", 3), always("B", "story", 2), always("C", "story", 1))

	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{SessionID: "s"}, nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Feature)
	assert.Equal(t, "B", got[1].Feature)

	reg := rules.NewRegistry(ops, nil, nil)
	_, err = reg.Load([]rules.Rule{always("A", "story", 0), always("B", "story", 0)})
	require.NoError(t, err)
	capped := New(reg, nil, nil, nil, Options{DefaultMax: 1})
	got, err = capped.Select(context.Background(), nil, state.Conversation{}, nil, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSelect_TopicFilter(t *testing.T) {
	sel, _ := newSelector(t, always("A", "story", 0), always("B", "scene", 0))
	got, err := sel.Select(context.Background(), state.Empty(), state.Conversation{}, []rules.Topic{"scene"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Feature)
}

func TestSelect_CancelledContext(t *testing.T) {
	sel, _ := newSelector(t, always("A", "story", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sel.Select(ctx, state.Empty(), state.Conversation{}, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstanceID(t *testing.T) {
	a := InstanceID("s", 1, 1, 1, "character", "Create character")
	assert.Equal(t, a, InstanceID("s", 1, 1, 1, "character", " create CHARACTER"))
	assert.NotEqual(t, a, InstanceID("s", 2, 1, 1, "character", "Create character"))
	assert.NotEqual(t, a, InstanceID("s", 1, 2, 1, "character", "Create character"))
	assert.NotEqual(t, a, InstanceID("s", 1, 1, 2, "character", "Create character"))
	assert.NotEqual(t, a, InstanceID("t", 1, 1, 1, "character", "Create character"))
}

func intp(n int) *int { return &n }
