package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ─── Projects ────────────────────────────────────────────────────────────────

// CreateProject starts a new story. The name is required.
func (s *Store) CreateProject(ctx context.Context, p CreateProjectParams) (*Project, error) {
	name := clean(p.Name)
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", ErrInvalid)
	}
	ts := now()
	proj := &Project{
		ID:        newID(),
		Name:      name,
		Genre:     clean(p.Genre),
		Theme:     clean(p.Theme),
		Concept:   clean(p.Concept),
		Overview:  clean(p.Overview),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, genre, theme, concept, overview, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		proj.ID, proj.Name, proj.Genre, proj.Theme, proj.Concept, proj.Overview, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	s.changed(proj.ID)
	return proj, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return getProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q queryer, id string) (*Project, error) {
	var p Project
	err := q.QueryRowContext(ctx,
		`SELECT id, name, genre, theme, concept, overview, revision, created_at, updated_at
		 FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Genre, &p.Theme, &p.Concept, &p.Overview, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading project: %w", err)
	}
	return &p, nil
}

// ListProjects returns every project, most recently updated first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, genre, theme, concept, overview, revision, created_at, updated_at
		 FROM projects ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Genre, &p.Theme, &p.Concept, &p.Overview, &p.Revision, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Revision returns the project's mutation counter.
func (s *Store) Revision(ctx context.Context, projectID string) (uint64, error) {
	var rev uint64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM projects WHERE id = ?`, projectID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

// UpdateStory changes the story description. Nil fields are left alone.
func (s *Store) UpdateStory(ctx context.Context, projectID string, p StoryParams) (*Project, error) {
	var sets []string
	var args []any
	field := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, clean(*v))
		}
	}
	if p.Name != nil && clean(*p.Name) == "" {
		return nil, fmt.Errorf("project name cannot be empty: %w", ErrInvalid)
	}
	field("name", p.Name)
	field("genre", p.Genre)
	field("theme", p.Theme)
	field("concept", p.Concept)
	field("overview", p.Overview)
	if len(sets) == 0 {
		return nil, fmt.Errorf("nothing to update: %w", ErrInvalid)
	}

	var out *Project
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		args := append(args, projectID)
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("updating story: %w", err)
		}
		var err error
		out, err = getProject(ctx, tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Factions ────────────────────────────────────────────────────────────────

// CreateFaction adds a faction. Names are unique per project, ignoring case.
func (s *Store) CreateFaction(ctx context.Context, projectID, name, description string) (*Faction, error) {
	name = clean(name)
	if name == "" {
		return nil, fmt.Errorf("faction name is required: %w", ErrInvalid)
	}
	f := &Faction{ID: newID(), ProjectID: projectID, Name: name, Description: clean(description), CreatedAt: now()}
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO factions (id, project_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
			f.ID, f.ProjectID, f.Name, f.Description, f.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("faction %q: %w", name, ErrDuplicate)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RenameFaction changes a faction's name.
func (s *Store) RenameFaction(ctx context.Context, projectID, factionID, name string) (*Faction, error) {
	name = clean(name)
	if name == "" {
		return nil, fmt.Errorf("faction name is required: %w", ErrInvalid)
	}
	var out *Faction
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE factions SET name = ? WHERE id = ? AND project_id = ?`, name, factionID, projectID)
		if isUniqueViolation(err) {
			return fmt.Errorf("faction %q: %w", name, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("renaming faction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("faction %s: %w", factionID, ErrNotFound)
		}
		out, err = getFaction(ctx, tx, projectID, factionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetFaction(ctx context.Context, projectID, id string) (*Faction, error) {
	return getFaction(ctx, s.db, projectID, id)
}

func getFaction(ctx context.Context, q queryer, projectID, id string) (*Faction, error) {
	var f Faction
	err := q.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, created_at FROM factions WHERE id = ? AND project_id = ?`,
		id, projectID,
	).Scan(&f.ID, &f.ProjectID, &f.Name, &f.Description, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("faction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading faction: %w", err)
	}
	return &f, nil
}

// FindFactionByName looks a faction up by name, ignoring case.
func (s *Store) FindFactionByName(ctx context.Context, projectID, name string) (*Faction, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM factions WHERE project_id = ? AND name = ?`, projectID, clean(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("faction %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding faction: %w", err)
	}
	return s.GetFaction(ctx, projectID, id)
}

func (s *Store) ListFactions(ctx context.Context, projectID string) ([]Faction, error) {
	return listFactions(ctx, s.db, projectID)
}

func listFactions(ctx context.Context, q queryer, projectID string) ([]Faction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, name, description, created_at FROM factions
		 WHERE project_id = ? ORDER BY created_at, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing factions: %w", err)
	}
	defer rows.Close()

	var out []Faction
	for rows.Next() {
		var f Faction
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Description, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ─── Characters ──────────────────────────────────────────────────────────────

// CreateCharacter adds a character. A name already used in the project is
// rejected with ErrDuplicate; an empty type becomes DefaultCharacterType.
func (s *Store) CreateCharacter(ctx context.Context, projectID, name, typ string) (*Character, error) {
	name = clean(name)
	if name == "" {
		return nil, fmt.Errorf("character name is required: %w", ErrInvalid)
	}
	typ = clean(typ)
	if typ == "" {
		typ = DefaultCharacterType
	}
	ts := now()
	c := &Character{ID: newID(), ProjectID: projectID, Name: name, Type: typ, CreatedAt: ts, UpdatedAt: ts}
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO characters (id, project_id, name, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProjectID, c.Name, c.Type, ts, ts)
		if isUniqueViolation(err) {
			return fmt.Errorf("character name %q: %w", name, ErrDuplicate)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RenameCharacter changes a character's name.
func (s *Store) RenameCharacter(ctx context.Context, projectID, characterID, name string) (*Character, error) {
	name = clean(name)
	if name == "" {
		return nil, fmt.Errorf("character name is required: %w", ErrInvalid)
	}
	var out *Character
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE characters SET name = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
			name, now(), characterID, projectID)
		if isUniqueViolation(err) {
			return fmt.Errorf("character name %q: %w", name, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("renaming character: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("character %s: %w", characterID, ErrNotFound)
		}
		out, err = getCharacter(ctx, tx, projectID, characterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignFaction puts a character into a faction of the same project.
func (s *Store) AssignFaction(ctx context.Context, projectID, characterID, factionID string) (*Character, error) {
	var out *Character
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		if _, err := getFaction(ctx, tx, projectID, factionID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE characters SET faction_id = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
			factionID, now(), characterID, projectID)
		if err != nil {
			return fmt.Errorf("assigning faction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("character %s: %w", characterID, ErrNotFound)
		}
		out, err = getCharacter(ctx, tx, projectID, characterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetCharacter(ctx context.Context, projectID, id string) (*Character, error) {
	return getCharacter(ctx, s.db, projectID, id)
}

func getCharacter(ctx context.Context, q queryer, projectID, id string) (*Character, error) {
	var c Character
	var faction sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, project_id, name, type, faction_id, created_at, updated_at
		 FROM characters WHERE id = ? AND project_id = ?`, id, projectID,
	).Scan(&c.ID, &c.ProjectID, &c.Name, &c.Type, &faction, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading character: %w", err)
	}
	c.FactionID = faction.String
	return &c, nil
}

// FindCharacterByName looks a character up by name, ignoring case.
func (s *Store) FindCharacterByName(ctx context.Context, projectID, name string) (*Character, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM characters WHERE project_id = ? AND name = ?`, projectID, clean(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding character: %w", err)
	}
	return s.GetCharacter(ctx, projectID, id)
}

func (s *Store) ListCharacters(ctx context.Context, projectID string) ([]Character, error) {
	return listCharacters(ctx, s.db, projectID)
}

func listCharacters(ctx context.Context, q queryer, projectID string) ([]Character, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, name, type, faction_id, created_at, updated_at
		 FROM characters WHERE project_id = ? ORDER BY created_at, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		var faction sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Type, &faction, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.FactionID = faction.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Traits ──────────────────────────────────────────────────────────────────

// AddTrait gives a character a trait. A character holds at most one trait
// per type: when one exists it is updated if a description is supplied,
// otherwise ErrDuplicate is returned. updated reports which path ran.
func (s *Store) AddTrait(ctx context.Context, projectID, characterID string, p TraitParams) (trait *Trait, updated bool, err error) {
	typ := strings.ToLower(clean(p.Type))
	if typ == "" {
		return nil, false, fmt.Errorf("trait type is required: %w", ErrInvalid)
	}
	err = s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		c, err := getCharacter(ctx, tx, projectID, characterID)
		if err != nil {
			return err
		}
		var existing string
		err = tx.QueryRowContext(ctx, `SELECT id FROM traits WHERE character_id = ? AND type = ?`, characterID, typ).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			ts := now()
			trait = &Trait{
				ID: newID(), CharacterID: characterID, Type: typ,
				Label: clean(p.Label), Description: clean(p.Description),
				CreatedAt: ts, UpdatedAt: ts,
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO traits (id, character_id, type, label, description, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				trait.ID, trait.CharacterID, trait.Type, trait.Label, trait.Description, ts, ts)
			return err
		case err != nil:
			return fmt.Errorf("reading trait: %w", err)
		}

		if clean(p.Description) == "" {
			return fmt.Errorf("character '%s' already has a %s trait: %w", c.Name, typ, ErrDuplicate)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE traits SET description = ?, label = CASE WHEN ? = '' THEN label ELSE ? END, updated_at = ? WHERE id = ?`,
			clean(p.Description), clean(p.Label), clean(p.Label), now(), existing); err != nil {
			return fmt.Errorf("updating trait: %w", err)
		}
		updated = true
		traits, err := listTraits(ctx, tx, characterID)
		if err != nil {
			return err
		}
		for i := range traits {
			if traits[i].ID == existing {
				trait = &traits[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return trait, updated, nil
}

func (s *Store) ListTraits(ctx context.Context, characterID string) ([]Trait, error) {
	return listTraits(ctx, s.db, characterID)
}

func listTraits(ctx context.Context, q queryer, characterID string) ([]Trait, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, character_id, type, label, description, created_at, updated_at
		 FROM traits WHERE character_id = ? ORDER BY created_at, type`, characterID)
	if err != nil {
		return nil, fmt.Errorf("listing traits: %w", err)
	}
	defer rows.Close()

	var out []Trait
	for rows.Next() {
		var t Trait
		if err := rows.Scan(&t.ID, &t.CharacterID, &t.Type, &t.Label, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ─── Relationships ───────────────────────────────────────────────────────────

// AddRelationship links two distinct characters of the same project.
func (s *Store) AddRelationship(ctx context.Context, projectID string, p RelationshipParams) (*Relationship, error) {
	if p.CharacterID == "" || p.OtherID == "" {
		return nil, fmt.Errorf("a relationship needs two characters: %w", ErrInvalid)
	}
	if p.CharacterID == p.OtherID {
		return nil, fmt.Errorf("a character cannot relate to itself: %w", ErrInvalid)
	}
	typ := clean(p.Type)
	if typ == "" {
		typ = DefaultRelationshipType
	}
	rel := &Relationship{
		ID: newID(), CharacterID: p.CharacterID, OtherID: p.OtherID,
		Type: typ, Description: clean(p.Description), CreatedAt: now(),
	}
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		if _, err := getCharacter(ctx, tx, projectID, p.CharacterID); err != nil {
			return fmt.Errorf("primary %w", err)
		}
		if _, err := getCharacter(ctx, tx, projectID, p.OtherID); err != nil {
			return fmt.Errorf("secondary %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (id, character_id, other_id, type, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			rel.ID, rel.CharacterID, rel.OtherID, rel.Type, rel.Description, rel.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// ListRelationships returns the relationships where characterID is the
// primary character.
func (s *Store) ListRelationships(ctx context.Context, characterID string) ([]Relationship, error) {
	return listRelationships(ctx, s.db, characterID)
}

func listRelationships(ctx context.Context, q queryer, characterID string) ([]Relationship, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, character_id, other_id, type, description, created_at
		 FROM relationships WHERE character_id = ? ORDER BY created_at`, characterID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.CharacterID, &r.OtherID, &r.Type, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Acts, scenes and lines ──────────────────────────────────────────────────

// CreateAct appends an act to the story.
func (s *Store) CreateAct(ctx context.Context, projectID, name, description string) (*Act, error) {
	name = clean(name)
	if name == "" {
		return nil, fmt.Errorf("act name is required: %w", ErrInvalid)
	}
	var act *Act
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		var err error
		act, err = insertAct(ctx, tx, projectID, name, clean(description))
		return err
	})
	if err != nil {
		return nil, err
	}
	return act, nil
}

func insertAct(ctx context.Context, tx *sql.Tx, projectID, name, description string) (*Act, error) {
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM acts WHERE project_id = ?`, projectID).Scan(&pos); err != nil {
		return nil, fmt.Errorf("next act position: %w", err)
	}
	act := &Act{ID: newID(), ProjectID: projectID, Name: name, Description: description, Position: pos, CreatedAt: now()}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO acts (id, project_id, name, description, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		act.ID, act.ProjectID, act.Name, act.Description, act.Position, act.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting act: %w", err)
	}
	return act, nil
}

func (s *Store) ListActs(ctx context.Context, projectID string) ([]Act, error) {
	return listActs(ctx, s.db, projectID)
}

func listActs(ctx context.Context, q queryer, projectID string) ([]Act, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, name, description, position, created_at
		 FROM acts WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing acts: %w", err)
	}
	defer rows.Close()

	var out []Act
	for rows.Next() {
		var a Act
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Description, &a.Position, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateScene adds a scene. Without an act it goes into the first act,
// which is created as DefaultActName when the story has none.
func (s *Store) CreateScene(ctx context.Context, projectID string, p SceneParams) (*Scene, error) {
	name := clean(p.Name)
	if name == "" {
		return nil, fmt.Errorf("scene name is required: %w", ErrInvalid)
	}
	var scene *Scene
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		actID := clean(p.ActID)
		if actID == "" {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM acts WHERE project_id = ? ORDER BY position LIMIT 1`, projectID).Scan(&actID)
			if errors.Is(err, sql.ErrNoRows) {
				act, err := insertAct(ctx, tx, projectID, DefaultActName, "")
				if err != nil {
					return err
				}
				actID = act.ID
			} else if err != nil {
				return fmt.Errorf("finding first act: %w", err)
			}
		} else {
			var found string
			err := tx.QueryRowContext(ctx, `SELECT id FROM acts WHERE id = ? AND project_id = ?`, actID, projectID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("act %s: %w", actID, ErrNotFound)
			} else if err != nil {
				return fmt.Errorf("reading act: %w", err)
			}
		}

		var pos int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM scenes WHERE act_id = ?`, actID).Scan(&pos); err != nil {
			return fmt.Errorf("next scene position: %w", err)
		}
		scene = &Scene{
			ID: newID(), ProjectID: projectID, ActID: actID, Name: name,
			Description: clean(p.Description), Position: pos, CreatedAt: now(),
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scenes (id, project_id, act_id, name, description, position, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			scene.ID, scene.ProjectID, scene.ActID, scene.Name, scene.Description, scene.Position, scene.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scene, nil
}

func (s *Store) ListScenes(ctx context.Context, projectID string) ([]Scene, error) {
	return listScenes(ctx, s.db, projectID)
}

func listScenes(ctx context.Context, q queryer, projectID string) ([]Scene, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT s.id, s.project_id, s.act_id, s.name, s.description, s.position, s.created_at
		 FROM scenes s JOIN acts a ON a.id = s.act_id
		 WHERE s.project_id = ? ORDER BY a.position, s.position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing scenes: %w", err)
	}
	defer rows.Close()

	var out []Scene
	for rows.Next() {
		var sc Scene
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.ActID, &sc.Name, &sc.Description, &sc.Position, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// AddLine appends a dialogue line to a scene. The speaking character is
// optional (narration).
func (s *Store) AddLine(ctx context.Context, projectID string, p LineParams) (*Line, error) {
	text := clean(p.Text)
	if text == "" {
		return nil, fmt.Errorf("line text is required: %w", ErrInvalid)
	}
	var line *Line
	err := s.mutate(ctx, projectID, func(tx *sql.Tx) error {
		var found string
		err := tx.QueryRowContext(ctx, `SELECT id FROM scenes WHERE id = ? AND project_id = ?`, p.SceneID, projectID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("scene %s: %w", p.SceneID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("reading scene: %w", err)
		}
		var speaker any
		if p.CharacterID != "" {
			if _, err := getCharacter(ctx, tx, projectID, p.CharacterID); err != nil {
				return err
			}
			speaker = p.CharacterID
		}
		var pos int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM lines WHERE scene_id = ?`, p.SceneID).Scan(&pos); err != nil {
			return fmt.Errorf("next line position: %w", err)
		}
		line = &Line{
			ID: newID(), SceneID: p.SceneID, CharacterID: p.CharacterID,
			Text: text, Tone: clean(p.Tone), Position: pos, CreatedAt: now(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lines (id, scene_id, character_id, text, tone, position, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			line.ID, line.SceneID, speaker, line.Text, line.Tone, line.Position, line.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// ListLines returns every dialogue line of the project in story order.
func (s *Store) ListLines(ctx context.Context, projectID string) ([]Line, error) {
	return listLines(ctx, s.db, projectID)
}

func listLines(ctx context.Context, q queryer, projectID string) ([]Line, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT l.id, l.scene_id, l.character_id, l.text, l.tone, l.position, l.created_at
		 FROM lines l
		 JOIN scenes s ON s.id = l.scene_id
		 JOIN acts a ON a.id = s.act_id
		 WHERE s.project_id = ? ORDER BY a.position, s.position, l.position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing lines: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		var speaker sql.NullString
		if err := rows.Scan(&l.ID, &l.SceneID, &speaker, &l.Text, &l.Tone, &l.Position, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.CharacterID = speaker.String
		out = append(out, l)
	}
	return out, rows.Err()
}
