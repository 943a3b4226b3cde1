// Package ops is the backend operation table suggestions dispatch into.
// Each operation is bound to the project store and runs under the table's
// timeout; its error text is what the user reads, so it is written for them.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/project"
)

// DefaultTimeout bounds a single operation when the table has none set.
const DefaultTimeout = 10 * time.Second

// Operation names.
const (
	CharacterCreate  = "character_create"
	CharacterRename  = "character_rename"
	CharacterSelect  = "character_select"
	TraitAdd         = "trait_add"
	RelationshipAdd  = "relationship_add"
	FactionCreate    = "faction_create"
	FactionRename    = "faction_rename"
	FactionAssign    = "faction_assign"
	StorySelect      = "story_select"
	StoryDescribe    = "story_describe"
	ActCreate        = "act_create"
	SceneCreate      = "scene_create"
	SceneSelect      = "scene_select"
	DialogueCreate   = "dialogue_create"
	InitialCharacter = "initial_character"
	InitialStory     = "initial_story"
)

// Keys operations put into Outcome.Data for the engine to act on.
const (
	DataProjectID  = engine.DataProjectID
	DataFocus      = engine.DataFocus
	DataNextTopics = engine.DataNextTopics
)

// Table maps operation names to handlers. It satisfies both
// dispatch.OperationTable and rules.OperationSet.
type Table struct {
	ops     map[string]dispatch.Operation
	timeout time.Duration
	log     *logging.Logger
}

// NewTable returns an empty table. timeout <= 0 means DefaultTimeout.
func NewTable(timeout time.Duration, log *logging.Logger) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table{ops: map[string]dispatch.Operation{}, timeout: timeout, log: logging.OrNop(log).Named("ops")}
}

// New returns a table holding every built-in operation bound to store.
func New(store *project.Store, timeout time.Duration, log *logging.Logger) *Table {
	t := NewTable(timeout, log)
	h := &handlers{store: store}

	t.Register(CharacterCreate, h.characterCreate)
	t.Register(CharacterRename, h.characterRename)
	t.Register(CharacterSelect, h.characterSelect)
	t.Register(TraitAdd, h.traitAdd)
	t.Register(RelationshipAdd, h.relationshipAdd)

	t.Register(FactionCreate, h.factionCreate)
	t.Register(FactionRename, h.factionRename)
	t.Register(FactionAssign, h.factionAssign)

	t.Register(StorySelect, h.storySelect)
	t.Register(StoryDescribe, h.storyDescribe)
	t.Register(ActCreate, h.actCreate)
	t.Register(SceneCreate, h.sceneCreate)
	t.Register(SceneSelect, h.sceneSelect)
	t.Register(DialogueCreate, h.dialogueCreate)

	t.Register(InitialCharacter, topicMenu("character"))
	t.Register(InitialStory, topicMenu("story", "plot", "theme", "scene", "dialogue"))
	return t
}

// Register adds or replaces an operation. Not safe for concurrent use with
// Lookup; register everything before serving.
func (t *Table) Register(name string, op dispatch.Operation) {
	t.ops[name] = op
}

func (t *Table) Has(name string) bool {
	_, ok := t.ops[name]
	return ok
}

// Lookup returns the named operation wrapped with the table timeout.
func (t *Table) Lookup(name string) (dispatch.Operation, bool) {
	op, ok := t.ops[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		out, err := op(ctx, inv)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s", name, t.timeout)
		}
		if err != nil {
			t.log.Warn("operation failed", "operation", name, "project", inv.Project, "error", err)
			return dispatch.Outcome{}, err
		}
		t.log.Info("operation done", "operation", name, "project", inv.Project)
		return out, nil
	}, true
}

// Names lists the registered operations in lexical order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.ops))
	for n := range t.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ─── Parameter helpers ───────────────────────────────────────────────────────

// str returns the first non-blank string parameter among keys.
func str(params map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

// has reports whether any of keys carries a non-blank value.
func has(params map[string]any, keys ...string) bool {
	return str(params, keys...) != ""
}

// optional returns a pointer to the parameter value, or nil when absent.
func optional(params map[string]any, keys ...string) *string {
	if !has(params, keys...) {
		return nil
	}
	s := str(params, keys...)
	return &s
}

// focusOr returns the focused entity id of kind unless a parameter
// names one explicitly.
func focusOr(inv dispatch.Invocation, kind string, keys ...string) string {
	if id := str(inv.Params, keys...); id != "" {
		return id
	}
	return inv.Focus[kind]
}

// userError turns store errors into text a user can act on.
func userError(what string, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, project.ErrDuplicate):
		msg = strings.TrimSuffix(msg, ": "+project.ErrDuplicate.Error())
		if !strings.Contains(msg, "already") {
			msg += " already exists"
		}
	case errors.Is(err, project.ErrNotFound):
		msg = strings.TrimSuffix(msg, ": "+project.ErrNotFound.Error()) + " was not found"
	case errors.Is(err, project.ErrInvalid):
		msg = strings.TrimSuffix(msg, ": "+project.ErrInvalid.Error())
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %s", what, msg)
}

func requireProject(inv dispatch.Invocation) error {
	if inv.Project == "" {
		return errors.New("no story is selected; pick or create a story first")
	}
	return nil
}

func topicMenu(topics ...string) dispatch.Operation {
	return func(_ context.Context, _ dispatch.Invocation) (dispatch.Outcome, error) {
		next := make([]any, len(topics))
		for i, t := range topics {
			next[i] = t
		}
		return dispatch.Outcome{
			Message: "Here is what you can do next in " + strings.Join(topics, ", ") + ".",
			Data:    map[string]any{DataNextTopics: next},
		}, nil
	}
}
