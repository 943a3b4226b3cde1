package rules

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/plotline/internal/predicate"
)

var catalogOps = Names(
	"character_create", "character_rename", "character_select", "trait_add",
	"relationship_add", "faction_create", "faction_rename", "faction_assign",
	"story_describe", "story_select", "act_create", "scene_create",
	"scene_select", "dialogue_create", "initial_character", "initial_story",
)

func rule(feature string, topic Topic) Rule {
	return Rule{Feature: feature, Topic: topic, Label: feature, Text: "Do " + feature}
}

func TestRegistry_LoadUniqueRules(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	assert.Equal(t, uint64(0), reg.Generation())
	assert.Equal(t, 0, reg.Current().Len())

	set, err := reg.Load([]Rule{
		rule("Create character", TopicCharacter),
		rule("Create character", TopicFaction),
		rule("Rename character", TopicCharacter),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), set.Generation())
	assert.Equal(t, 3, reg.Current().Len())

	_, err = reg.Load([]Rule{rule("Other", TopicStory)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reg.Generation())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	_, err := reg.Load([]Rule{rule("Keep", TopicStory)})
	require.NoError(t, err)

	_, err = reg.Load([]Rule{
		rule("Create character", TopicCharacter),
		rule("  create CHARACTER ", " Character"),
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, 1, verr.Issues[0].Index)
	assert.Equal(t, "feature", verr.Issues[0].Field)
	assert.Contains(t, verr.Issues[0].Msg, "duplicates rule #0")

	// The previous set is still active.
	assert.Equal(t, uint64(1), reg.Generation())
	assert.Equal(t, "Keep", reg.Current().Entries()[0].Rule.Feature)
}

func TestRegistry_ReportsEveryIssue(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	_, err := reg.Load([]Rule{
		{Feature: "", Topic: TopicCharacter, Label: "x", Text: "y"},
		{Feature: "No label", Topic: TopicCharacter, Text: "y"},
		{Feature: "No text", Topic: TopicCharacter, Label: "x"},
		{Feature: "Bad required", Topic: TopicCharacter, Label: "x", Text: "Hi {{name}}", Required: []string{"other"}},
		{Feature: "Unknown op", Topic: TopicCharacter, Label: "x", Text: "y", BEOperation: "launch_rocket"},
		{Feature: "Bad placeholder", Topic: TopicCharacter, Label: "x", Text: "Hi {{two words}}"},
		{Feature: "No topic", Label: "x", Text: "y"},
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]bool{}
	for _, is := range verr.Issues {
		fields[fmt.Sprintf("%d/%s", is.Index, is.Field)] = true
	}
	for _, want := range []string{"0/feature", "1/label", "2/text", "3/required", "4/be_operation", "5/text", "6/topic"} {
		assert.True(t, fields[want], "missing issue %s in %v", want, err)
	}
	assert.Contains(t, err.Error(), "7 issues")
	assert.Equal(t, uint64(0), reg.Generation())
}

func TestRegistry_RequiredFromLabel(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	_, err := reg.Load([]Rule{{
		Feature: "Rename", Topic: TopicCharacter,
		Label: "Rename {{focus.character.name}}", Text: "Rename to {{new_name}}",
		Required: []string{"focus.character.name"},
	}})
	require.NoError(t, err)
}

func TestRegistry_PredicateErrorIsolated(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	bad := rule("Broken", TopicCharacter)
	bad.When = &predicate.Spec{Count: &predicate.CountSpec{Path: "characters"}}
	good := rule("Fine", TopicCharacter)

	set, err := reg.Load([]Rule{bad, good})
	require.NoError(t, err)

	entries := set.Entries()
	require.Len(t, entries, 2)
	var perr *predicate.Error
	assert.True(t, errors.As(entries[0].Err, &perr))
	assert.Nil(t, entries[0].Predicate)
	assert.NoError(t, entries[1].Err)
}

func TestRegistry_RulesForTopics(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	_, err := reg.Load([]Rule{
		rule("A", TopicCharacter),
		rule("B", TopicStory),
		rule("C", TopicCharacter),
		rule("D", TopicScene),
	})
	require.NoError(t, err)

	features := func(es []*Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Rule.Feature)
		}
		return out
	}
	assert.Equal(t, []string{"A", "C"}, features(reg.RulesForTopics(TopicCharacter)))
	assert.Empty(t, features(reg.RulesForTopics("plot")))
	assert.Equal(t, []string{"A", "B", "C", "D"}, features(reg.RulesForTopics()))
	assert.Equal(t, []string{"A", "C", "D"}, features(reg.RulesForTopics(" SCENE", TopicCharacter)))
	assert.Equal(t, []Topic{TopicCharacter, TopicStory, TopicScene}, reg.Current().Topics())
}

func TestRegistry_Validate(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	require.NoError(t, reg.Validate([]Rule{rule("A", TopicCharacter)}))
	assert.Equal(t, uint64(0), reg.Generation())
	assert.Error(t, reg.Validate([]Rule{rule("A", TopicCharacter), rule("a", TopicCharacter)}))
}

func TestRegistry_ReadersNeverSeePartialSet(t *testing.T) {
	reg := NewRegistry(catalogOps, nil, nil)
	small := []Rule{rule("A", TopicCharacter)}
	large := []Rule{rule("A", TopicCharacter), rule("B", TopicCharacter), rule("C", TopicCharacter)}
	_, err := reg.Load(small)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan int, 1)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := reg.Current().Len(); n != 1 && n != 3 {
					select {
					case bad <- n:
					default:
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		rs := small
		if i%2 == 0 {
			rs = large
		}
		_, err := reg.Load(rs)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	select {
	case n := <-bad:
		t.Fatalf("reader saw a partial set of %d rules", n)
	default:
	}
	assert.Equal(t, uint64(201), reg.Generation())
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []Topic{"character", "story"}, ParseTopics(" Character, ,STORY"))
	assert.Empty(t, ParseTopics(""))
}
