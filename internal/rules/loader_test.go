package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_LegacyAliases(t *testing.T) {
	src := `[
  {
    "feature": "Checkout",
    "use_case": "Finish purchase process",
    "initiatior": "Character does not have CharacterTrait with type behavior", // why to suggest
    "suggestion_label": "Proceed", // button label
    "suggestion_text": "Ready? See https://example.com/checkout",
    "be_function": "trait_add",
    "feFunction": "open_checkout",
    "fe_location": "center.actors.about",
    "topic": "character",
    "doublecheck": "true"
  },
  // a second record
  {
    "feature": "Develope character",
    "message": "Please provide me options",
    "fe_function": "initial_character",
    "topic": "initial",
    "doublecheck": false
  }
]`
	rules, err := Parse([]byte(src), "suggestions_character.json")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := rules[0]
	assert.Equal(t, "Character does not have CharacterTrait with type behavior", r.Initiator)
	assert.Equal(t, "Proceed", r.Label)
	assert.Equal(t, "Ready? See https://example.com/checkout", r.Text)
	assert.Equal(t, "trait_add", r.BEOperation)
	assert.Equal(t, "open_checkout", r.FEOperation)
	assert.Equal(t, "center.actors.about", r.FENavigation)
	assert.True(t, r.Review)

	r = rules[1]
	assert.Equal(t, "Develope character", r.Label)
	assert.Equal(t, "Please provide me options", r.Text)
	assert.Equal(t, "initial_character", r.FEOperation)
	assert.False(t, r.Review)
}

func TestParse_CanonicalYAML(t *testing.T) {
	src := `
rules:
  - feature: Create character
    when:
      any:
        - intent: create_character
        - mentions_unknown: {path: characters}
    label: Create {{name}}
    text: "Please create character with parameters: {{name}}"
    be_operation: character_create
    topic: character
    priority: 5
    params: {type: major}
`
	rules, err := Parse([]byte(src), "character.yaml")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	r := rules[0]
	require.NotNil(t, r.When)
	assert.Len(t, r.When.Any, 2)
	assert.Equal(t, "create_character", r.When.Any[0].Intent.Name)
	assert.Equal(t, 5, r.Priority)
	assert.Equal(t, "major", r.Params["type"])
}

func TestParse_CanonicalWithoutLabel(t *testing.T) {
	rules, err := Parse([]byte("- feature: Create character\n  topic: character\n  text: hi"), "character.yaml")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Empty(t, rules[0].Label)

	_, err = NewRegistry(catalogOps, nil, nil).Load(rules)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "err = %v", err)
	assert.Equal(t, "label", verr.Issues[0].Field)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not yaml", "[ {feature: a"},
		{"scalar root", "just text"},
		{"mapping without rules", "feature: x"},
		{"bad doublecheck", "- {feature: a, topic: b, doublecheck: maybe}"},
		{"bad priority", "- {feature: a, topic: b, priority: high}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := Parse([]byte(tt.src), "bad.yaml")
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "err = %v", err)
			assert.Nil(t, rules)
			assert.Equal(t, "bad.yaml", verr.Issues[0].Source)
		})
	}
}

func TestParse_ReportsAllBadRecords(t *testing.T) {
	src := `
- {feature: a, topic: b, priority: high}
- {feature: c, topic: d}
- {feature: e, topic: f, doublecheck: perhaps}
`
	_, err := Parse([]byte(src), "x.yaml")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Issues, 2)
	assert.Equal(t, 0, verr.Issues[0].Index)
	assert.Equal(t, 2, verr.Issues[1].Index)
}

func TestParse_Empty(t *testing.T) {
	rules, err := Parse(nil, "empty.yaml")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadDir_LexicalOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("20-story.yaml", "- {feature: B, label: B, text: b, topic: story}\n")
	write("10-character.yml", "- {feature: A, label: A, text: a, topic: character}\n")
	write("30-extra.json", `[{"feature": "C", "label": "C", "text": "c", "topic": "scene"}]`)
	write("notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	rules, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "A", rules[0].Feature)
	assert.Equal(t, "B", rules[1].Feature)
	assert.Equal(t, "C", rules[2].Feature)

	rules, err = Load(filepath.Join(dir, "20-story.yaml"))
	require.NoError(t, err)
	require.Len(t, rules, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDir_CollectsIssuesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("nope: true"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("- {feature: x, priority: high}"), 0o644))

	_, err := LoadDir(dir)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Issues, 2)
	assert.Equal(t, "a.yaml", verr.Issues[0].Source)
	assert.Equal(t, "b.yaml", verr.Issues[1].Source)
}

func TestDefaultCatalogue(t *testing.T) {
	rules, err := Default()
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	reg := NewRegistry(catalogOps, nil, nil)
	set, err := reg.Load(rules)
	require.NoError(t, err)
	for _, e := range set.Entries() {
		assert.NoError(t, e.Err, e.Rule.Feature)
	}

	topics := map[Topic]bool{}
	for _, tp := range set.Topics() {
		topics[tp] = true
	}
	for _, want := range []Topic{TopicCharacter, TopicFaction, TopicStory, TopicTheme, TopicPlot, TopicScene, TopicDialogue, TopicInitial} {
		assert.True(t, topics[want], "catalogue has no %s rules", want)
	}
}

func TestStripComments(t *testing.T) {
	in := "{\"a\": \"x // y\", // note\n// whole line\n\"b\": \"c\\\"//\"}\n"
	want := "{\"a\": \"x // y\",\n\n\"b\": \"c\\\"//\"}\n"
	assert.Equal(t, want, string(stripComments([]byte(in))))
}
