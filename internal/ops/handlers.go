package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/project"
)

type handlers struct {
	store *project.Store
}

// ─── Characters ──────────────────────────────────────────────────────────────

func (h *handlers) characterCreate(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	name := str(inv.Params, "name", "target_char_name", "character_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("cannot create a character without a name")
	}
	c, err := h.store.CreateCharacter(ctx, inv.Project, name, str(inv.Params, "type", "target_char_type"))
	if err != nil {
		return dispatch.Outcome{}, userError("cannot create character", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Added new character '%s' to the project.", c.Name),
		Data:    map[string]any{"character_id": c.ID, DataFocus: map[string]string{"character": c.ID}},
	}, nil
}

func (h *handlers) characterRename(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	id := focusOr(inv, "character", "character_id")
	if id == "" {
		return dispatch.Outcome{}, errors.New("cannot rename a character without knowing which one; select a character first")
	}
	name := str(inv.Params, "new_name", "target_char_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("what should the new name be?")
	}
	c, err := h.store.RenameCharacter(ctx, inv.Project, id, name)
	if err != nil {
		return dispatch.Outcome{}, userError("cannot rename character", err)
	}
	return dispatch.Outcome{Message: fmt.Sprintf("Renamed character to '%s'.", c.Name)}, nil
}

// characterSelect focuses a character given by id or name. Without one it
// lists the candidates so the user can pick.
func (h *handlers) characterSelect(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	var c *project.Character
	var err error
	switch {
	case has(inv.Params, "character_id"):
		c, err = h.store.GetCharacter(ctx, inv.Project, str(inv.Params, "character_id"))
	case has(inv.Params, "character_name", "name"):
		c, err = h.store.FindCharacterByName(ctx, inv.Project, str(inv.Params, "character_name", "name"))
	default:
		all, err := h.store.ListCharacters(ctx, inv.Project)
		if err != nil {
			return dispatch.Outcome{}, userError("cannot list characters", err)
		}
		names := make([]string, len(all))
		options := make([]any, len(all))
		for i, c := range all {
			names[i] = c.Name
			options[i] = map[string]any{"id": c.ID, "name": c.Name}
		}
		return dispatch.Outcome{
			Message: "Pick a character: " + strings.Join(names, ", "),
			Data:    map[string]any{"options": options},
		}, nil
	}
	if err != nil {
		return dispatch.Outcome{}, userError("cannot select character", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Now working on '%s'.", c.Name),
		Data:    map[string]any{"character_id": c.ID, DataFocus: map[string]string{"character": c.ID}},
	}, nil
}

func (h *handlers) traitAdd(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	id := focusOr(inv, "character", "character_id")
	if id == "" {
		return dispatch.Outcome{}, errors.New("cannot add a trait without a character; select a character first")
	}
	typ := str(inv.Params, "trait_type")
	if typ == "" {
		return dispatch.Outcome{}, errors.New("which kind of trait? behavior, humor, speech, knowledge or communication")
	}
	trait, updated, err := h.store.AddTrait(ctx, inv.Project, id, project.TraitParams{
		Type:        typ,
		Label:       str(inv.Params, "trait_label"),
		Description: str(inv.Params, "trait_description"),
	})
	if err != nil {
		return dispatch.Outcome{}, userError("cannot add trait", err)
	}
	msg := fmt.Sprintf("Added a '%s' trait.", trait.Type)
	if updated {
		msg = fmt.Sprintf("Updated the '%s' trait.", trait.Type)
	}
	return dispatch.Outcome{Message: msg, Data: map[string]any{"trait_id": trait.ID}}, nil
}

func (h *handlers) relationshipAdd(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	primary := focusOr(inv, "character", "character_id")
	if primary == "" {
		return dispatch.Outcome{}, errors.New("cannot add a relationship without a character; select a character first")
	}
	secondary := str(inv.Params, "secondary_character_id")
	if secondary == "" {
		name := str(inv.Params, "secondary_character_name")
		if name == "" {
			return dispatch.Outcome{}, errors.New("who should the character be related to?")
		}
		other, err := h.store.FindCharacterByName(ctx, inv.Project, name)
		if err != nil {
			return dispatch.Outcome{}, userError("cannot add relationship", err)
		}
		secondary = other.ID
	}
	rel, err := h.store.AddRelationship(ctx, inv.Project, project.RelationshipParams{
		CharacterID: primary,
		OtherID:     secondary,
		Type:        str(inv.Params, "relationship_type"),
		Description: str(inv.Params, "relationship_description"),
	})
	if err != nil {
		return dispatch.Outcome{}, userError("cannot add relationship", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Added a '%s' relationship.", rel.Type),
		Data:    map[string]any{"relationship_id": rel.ID},
	}, nil
}

// ─── Factions ────────────────────────────────────────────────────────────────

func (h *handlers) factionCreate(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	name := str(inv.Params, "faction_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("cannot create a faction without a name")
	}
	f, err := h.store.CreateFaction(ctx, inv.Project, name, str(inv.Params, "faction_description"))
	if err != nil {
		return dispatch.Outcome{}, userError("cannot create faction", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Added new faction '%s' to the project.", f.Name),
		Data:    map[string]any{"faction_id": f.ID, DataFocus: map[string]string{"faction": f.ID}},
	}, nil
}

func (h *handlers) factionRename(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	id := focusOr(inv, "faction", "faction_id")
	if id == "" {
		return dispatch.Outcome{}, errors.New("cannot rename a faction without knowing which one")
	}
	name := str(inv.Params, "faction_name", "new_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("what should the faction be called?")
	}
	f, err := h.store.RenameFaction(ctx, inv.Project, id, name)
	if err != nil {
		return dispatch.Outcome{}, userError("cannot rename faction", err)
	}
	return dispatch.Outcome{Message: fmt.Sprintf("Renamed faction to '%s'.", f.Name)}, nil
}

func (h *handlers) factionAssign(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	charID := focusOr(inv, "character", "character_id")
	if charID == "" {
		return dispatch.Outcome{}, errors.New("select a character to assign first")
	}
	factionID := str(inv.Params, "faction_id")
	if factionID == "" {
		name := str(inv.Params, "faction_name")
		if name == "" {
			return dispatch.Outcome{}, errors.New("which faction should the character join?")
		}
		f, err := h.store.FindFactionByName(ctx, inv.Project, name)
		if err != nil {
			return dispatch.Outcome{}, userError("cannot assign faction", err)
		}
		factionID = f.ID
	}
	c, err := h.store.AssignFaction(ctx, inv.Project, charID, factionID)
	if err != nil {
		return dispatch.Outcome{}, userError("cannot assign faction", err)
	}
	return dispatch.Outcome{Message: fmt.Sprintf("'%s' joined the faction.", c.Name)}, nil
}

// ─── Story ───────────────────────────────────────────────────────────────────

// storySelect opens a project by id or name, or lists them.
func (h *handlers) storySelect(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	all, err := h.store.ListProjects(ctx)
	if err != nil {
		return dispatch.Outcome{}, userError("cannot list stories", err)
	}
	want := str(inv.Params, "project_id", "story_id")
	name := str(inv.Params, "story_name", "project_name", "name")
	for _, p := range all {
		if (want != "" && p.ID == want) || (want == "" && name != "" && strings.EqualFold(p.Name, name)) {
			return dispatch.Outcome{
				Message: fmt.Sprintf("Opened story '%s'.", p.Name),
				Data:    map[string]any{DataProjectID: p.ID},
			}, nil
		}
	}
	if want != "" || name != "" {
		return dispatch.Outcome{}, fmt.Errorf("no story named %q", firstNonEmpty(name, want))
	}
	if len(all) == 0 {
		return dispatch.Outcome{}, errors.New("there are no stories yet; create one first")
	}
	names := make([]string, len(all))
	options := make([]any, len(all))
	for i, p := range all {
		names[i] = p.Name
		options[i] = map[string]any{"id": p.ID, "name": p.Name}
	}
	return dispatch.Outcome{
		Message: "Pick a story: " + strings.Join(names, ", "),
		Data:    map[string]any{"options": options},
	}, nil
}

func (h *handlers) storyDescribe(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	p := project.StoryParams{
		Name:     optional(inv.Params, "story_name"),
		Genre:    optional(inv.Params, "genre"),
		Theme:    optional(inv.Params, "theme"),
		Concept:  optional(inv.Params, "concept"),
		Overview: optional(inv.Params, "overview", "story_description"),
	}
	proj, err := h.store.UpdateStory(ctx, inv.Project, p)
	if errors.Is(err, project.ErrInvalid) && p == (project.StoryParams{}) {
		return dispatch.Outcome{}, errors.New("tell me the genre, theme, concept or overview to record")
	}
	if err != nil {
		return dispatch.Outcome{}, userError("cannot update the story", err)
	}
	return dispatch.Outcome{Message: fmt.Sprintf("Updated the description of '%s'.", proj.Name)}, nil
}

func (h *handlers) actCreate(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	name := str(inv.Params, "act_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("cannot create an act without a name")
	}
	act, err := h.store.CreateAct(ctx, inv.Project, name, str(inv.Params, "act_description"))
	if err != nil {
		return dispatch.Outcome{}, userError("cannot create act", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Added new act '%s' to the project.", act.Name),
		Data:    map[string]any{"act_id": act.ID, DataFocus: map[string]string{"act": act.ID}},
	}, nil
}

func (h *handlers) sceneCreate(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	name := str(inv.Params, "scene_name")
	if name == "" {
		return dispatch.Outcome{}, errors.New("cannot create a scene without a name")
	}
	sc, err := h.store.CreateScene(ctx, inv.Project, project.SceneParams{
		ActID:       focusOr(inv, "act", "act_id"),
		Name:        name,
		Description: str(inv.Params, "scene_description"),
	})
	if err != nil {
		return dispatch.Outcome{}, userError("cannot create scene", err)
	}
	return dispatch.Outcome{
		Message: fmt.Sprintf("Added new scene '%s'.", sc.Name),
		Data:    map[string]any{"scene_id": sc.ID, DataFocus: map[string]string{"scene": sc.ID}},
	}, nil
}

func (h *handlers) sceneSelect(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	scenes, err := h.store.ListScenes(ctx, inv.Project)
	if err != nil {
		return dispatch.Outcome{}, userError("cannot list scenes", err)
	}
	id := str(inv.Params, "scene_id")
	name := str(inv.Params, "scene_name")
	for _, sc := range scenes {
		if (id != "" && sc.ID == id) || (id == "" && name != "" && strings.EqualFold(sc.Name, name)) {
			return dispatch.Outcome{
				Message: fmt.Sprintf("Now working on scene '%s'.", sc.Name),
				Data:    map[string]any{"scene_id": sc.ID, DataFocus: map[string]string{"scene": sc.ID}},
			}, nil
		}
	}
	if id != "" || name != "" {
		return dispatch.Outcome{}, fmt.Errorf("no scene named %q", firstNonEmpty(name, id))
	}
	names := make([]string, len(scenes))
	options := make([]any, len(scenes))
	for i, sc := range scenes {
		names[i] = sc.Name
		options[i] = map[string]any{"id": sc.ID, "name": sc.Name}
	}
	return dispatch.Outcome{
		Message: "Pick a scene: " + strings.Join(names, ", "),
		Data:    map[string]any{"options": options},
	}, nil
}

func (h *handlers) dialogueCreate(ctx context.Context, inv dispatch.Invocation) (dispatch.Outcome, error) {
	if err := requireProject(inv); err != nil {
		return dispatch.Outcome{}, err
	}
	sceneID := focusOr(inv, "scene", "scene_id")
	if sceneID == "" {
		return dispatch.Outcome{}, errors.New("select a scene for the dialogue first")
	}
	text := str(inv.Params, "line", "text")
	if text == "" {
		return dispatch.Outcome{}, errors.New("what should be said?")
	}
	speaker := str(inv.Params, "character_id")
	if speaker == "" {
		if name := str(inv.Params, "character_name"); name != "" {
			c, err := h.store.FindCharacterByName(ctx, inv.Project, name)
			if err != nil {
				return dispatch.Outcome{}, userError("cannot add dialogue", err)
			}
			speaker = c.ID
		}
	}
	line, err := h.store.AddLine(ctx, inv.Project, project.LineParams{
		SceneID:     sceneID,
		CharacterID: speaker,
		Text:        text,
		Tone:        str(inv.Params, "tone"),
	})
	if err != nil {
		return dispatch.Outcome{}, userError("cannot add dialogue", err)
	}
	return dispatch.Outcome{Message: "Added a dialogue line.", Data: map[string]any{"line_id": line.ID}}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
