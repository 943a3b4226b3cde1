package project

import (
	"context"
	"fmt"

	"github.com/HendryAvila/plotline/internal/state"
)

// Snapshot reads the whole project inside one transaction and returns it
// as a state tree:
//
//	project          {id, name, genre, theme, concept, overview, revision}
//	characters[]     {id, name, type, faction_id, faction, traits[], relationships[]}
//	factions[]       {id, name, description, members}
//	acts[]           {id, name, description, position}
//	scenes[]         {id, act_id, name, description, position, lines[]}
//	lines[]          {id, scene_id, character_id, speaker, text, tone}
//	focus.<kind>     the entity selected in the conversation, if it exists
//
// Focus ids that do not name an entity of the project are ignored.
func (s *Store) Snapshot(ctx context.Context, projectID string, focus map[string]string) (*state.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	proj, err := getProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	characters, err := listCharacters(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	factions, err := listFactions(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	acts, err := listActs(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	scenes, err := listScenes(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	lines, err := listLines(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(characters))
	for _, c := range characters {
		names[c.ID] = c.Name
	}
	factionNames := make(map[string]string, len(factions))
	members := make(map[string]int, len(factions))
	for _, f := range factions {
		factionNames[f.ID] = f.Name
	}

	byID := map[string]map[string]map[string]any{
		"character": {}, "faction": {}, "act": {}, "scene": {},
	}

	charList := make([]any, 0, len(characters))
	for _, c := range characters {
		traits, err := listTraits(ctx, tx, c.ID)
		if err != nil {
			return nil, err
		}
		rels, err := listRelationships(ctx, tx, c.ID)
		if err != nil {
			return nil, err
		}
		traitList := make([]any, 0, len(traits))
		for _, t := range traits {
			traitList = append(traitList, map[string]any{
				"id": t.ID, "type": t.Type, "label": t.Label, "description": t.Description,
			})
		}
		relList := make([]any, 0, len(rels))
		for _, r := range rels {
			relList = append(relList, map[string]any{
				"id": r.ID, "other_id": r.OtherID, "other_name": names[r.OtherID],
				"type": r.Type, "description": r.Description,
			})
		}
		m := map[string]any{
			"id": c.ID, "name": c.Name, "type": c.Type,
			"traits": traitList, "relationships": relList,
		}
		if c.FactionID != "" {
			m["faction_id"] = c.FactionID
			m["faction"] = factionNames[c.FactionID]
			members[c.FactionID]++
		}
		byID["character"][c.ID] = m
		charList = append(charList, m)
	}

	factionList := make([]any, 0, len(factions))
	for _, f := range factions {
		m := map[string]any{"id": f.ID, "name": f.Name, "description": f.Description, "members": members[f.ID]}
		byID["faction"][f.ID] = m
		factionList = append(factionList, m)
	}

	actList := make([]any, 0, len(acts))
	for _, a := range acts {
		m := map[string]any{"id": a.ID, "name": a.Name, "description": a.Description, "position": a.Position}
		byID["act"][a.ID] = m
		actList = append(actList, m)
	}

	sceneLines := make(map[string][]any, len(scenes))
	lineList := make([]any, 0, len(lines))
	for _, l := range lines {
		m := map[string]any{
			"id": l.ID, "scene_id": l.SceneID, "text": l.Text, "tone": l.Tone, "position": l.Position,
		}
		if l.CharacterID != "" {
			m["character_id"] = l.CharacterID
			m["speaker"] = names[l.CharacterID]
		}
		sceneLines[l.SceneID] = append(sceneLines[l.SceneID], m)
		lineList = append(lineList, m)
	}

	sceneList := make([]any, 0, len(scenes))
	for _, sc := range scenes {
		sl := sceneLines[sc.ID]
		if sl == nil {
			sl = []any{}
		}
		m := map[string]any{
			"id": sc.ID, "act_id": sc.ActID, "name": sc.Name,
			"description": sc.Description, "position": sc.Position, "lines": sl,
		}
		byID["scene"][sc.ID] = m
		sceneList = append(sceneList, m)
	}

	focused := map[string]any{}
	for kind, id := range focus {
		if entities, ok := byID[kind]; ok {
			if m, ok := entities[id]; ok {
				focused[kind] = m
			}
		}
	}

	return &state.Snapshot{
		Project:  proj.ID,
		Revision: proj.Revision,
		Values: state.Tree{
			"project": map[string]any{
				"id": proj.ID, "name": proj.Name, "genre": proj.Genre, "theme": proj.Theme,
				"concept": proj.Concept, "overview": proj.Overview, "revision": proj.Revision,
			},
			"characters": charList,
			"factions":   factionList,
			"acts":       actList,
			"scenes":     sceneList,
			"lines":      lineList,
			"focus":      focused,
		},
	}, nil
}
