package project

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/HendryAvila/plotline/internal/state"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), CreateProjectParams{Name: "The Glass Coast"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func mustCharacter(t *testing.T, s *Store, projectID, name string) *Character {
	t.Helper()
	c, err := s.CreateCharacter(context.Background(), projectID, name, "")
	if err != nil {
		t.Fatalf("CreateCharacter(%q): %v", name, err)
	}
	return c
}

// ─── Projects ────────────────────────────────────────────────────────────────

func TestCreateProject_RequiresName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateProject(context.Background(), CreateProjectParams{Name: "  "})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestRevision_BumpsOnEveryMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	rev, err := s.Revision(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rev != 0 {
		t.Fatalf("initial revision = %d, want 0", rev)
	}

	mustCharacter(t, s, p.ID, "Aria")
	genre := "fantasy"
	if _, err := s.UpdateStory(ctx, p.ID, StoryParams{Genre: &genre}); err != nil {
		t.Fatal(err)
	}

	rev, _ = s.Revision(ctx, p.ID)
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}
}

func TestRevision_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Revision(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStory_LeavesNilFieldsAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, CreateProjectParams{Name: "Saga", Theme: "loss"})
	if err != nil {
		t.Fatal(err)
	}

	overview := "A lighthouse keeper finds a map."
	got, err := s.UpdateStory(ctx, p.ID, StoryParams{Overview: &overview})
	if err != nil {
		t.Fatal(err)
	}
	if got.Theme != "loss" || got.Overview != overview {
		t.Errorf("got theme=%q overview=%q", got.Theme, got.Overview)
	}

	if _, err := s.UpdateStory(ctx, p.ID, StoryParams{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty update err = %v, want ErrInvalid", err)
	}
}

// ─── Characters ──────────────────────────────────────────────────────────────

func TestCreateCharacter_DuplicateNameRejected(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)
	c := mustCharacter(t, s, p.ID, "Aria")
	if c.Type != DefaultCharacterType {
		t.Errorf("type = %q, want %q", c.Type, DefaultCharacterType)
	}

	_, err := s.CreateCharacter(context.Background(), p.ID, "aria", "minor")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestCreateCharacter_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateCharacter(context.Background(), "missing", "Aria", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRenameCharacter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	c := mustCharacter(t, s, p.ID, "Aria")

	got, err := s.RenameCharacter(ctx, p.ID, c.ID, "Arianne")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Arianne" {
		t.Errorf("name = %q", got.Name)
	}
	if _, err := s.FindCharacterByName(ctx, p.ID, "ARIANNE"); err != nil {
		t.Errorf("FindCharacterByName: %v", err)
	}
	if _, err := s.RenameCharacter(ctx, p.ID, "ghost", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAssignFaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	c := mustCharacter(t, s, p.ID, "Aria")
	f, err := s.CreateFaction(ctx, p.ID, "Tide Guild", "Smugglers")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.AssignFaction(ctx, p.ID, c.ID, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FactionID != f.ID {
		t.Errorf("faction = %q, want %q", got.FactionID, f.ID)
	}
	if _, err := s.AssignFaction(ctx, p.ID, c.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ─── Traits ──────────────────────────────────────────────────────────────────

func TestAddTrait_ExistingTypeNeedsDescription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	c := mustCharacter(t, s, p.ID, "Aria")

	tr, updated, err := s.AddTrait(ctx, p.ID, c.ID, TraitParams{Type: "Behavior", Description: "Calm"})
	if err != nil {
		t.Fatal(err)
	}
	if updated || tr.Type != TraitBehavior {
		t.Fatalf("got %+v updated=%v", tr, updated)
	}

	_, _, err = s.AddTrait(ctx, p.ID, c.ID, TraitParams{Type: "behavior"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	tr2, updated, err := s.AddTrait(ctx, p.ID, c.ID, TraitParams{Type: "behavior", Description: "Restless"})
	if err != nil {
		t.Fatal(err)
	}
	if !updated || tr2.ID != tr.ID || tr2.Description != "Restless" {
		t.Errorf("got %+v updated=%v", tr2, updated)
	}

	traits, _ := s.ListTraits(ctx, c.ID)
	if len(traits) != 1 {
		t.Errorf("traits = %d, want 1", len(traits))
	}
}

// ─── Relationships ───────────────────────────────────────────────────────────

func TestAddRelationship_BothCharactersMustExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	a := mustCharacter(t, s, p.ID, "Aria")
	b := mustCharacter(t, s, p.ID, "Kael")

	rel, err := s.AddRelationship(ctx, p.ID, RelationshipParams{CharacterID: a.ID, OtherID: b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if rel.Type != DefaultRelationshipType {
		t.Errorf("type = %q", rel.Type)
	}

	if _, err := s.AddRelationship(ctx, p.ID, RelationshipParams{CharacterID: a.ID, OtherID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.AddRelationship(ctx, p.ID, RelationshipParams{CharacterID: a.ID, OtherID: a.ID}); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

// ─── Acts, scenes, lines ─────────────────────────────────────────────────────

func TestCreateScene_CreatesDefaultAct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	sc, err := s.CreateScene(ctx, p.ID, SceneParams{Name: "Harbor at dawn"})
	if err != nil {
		t.Fatal(err)
	}
	acts, _ := s.ListActs(ctx, p.ID)
	if len(acts) != 1 || acts[0].Name != DefaultActName || acts[0].ID != sc.ActID {
		t.Fatalf("acts = %+v", acts)
	}

	sc2, err := s.CreateScene(ctx, p.ID, SceneParams{Name: "Storm"})
	if err != nil {
		t.Fatal(err)
	}
	if sc2.ActID != sc.ActID || sc2.Position != 2 {
		t.Errorf("second scene = %+v", sc2)
	}
}

func TestAddLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	c := mustCharacter(t, s, p.ID, "Aria")
	sc, err := s.CreateScene(ctx, p.ID, SceneParams{Name: "Harbor"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddLine(ctx, p.ID, LineParams{SceneID: sc.ID, CharacterID: c.ID, Text: "Hold the rope!", Tone: "urgent"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddLine(ctx, p.ID, LineParams{SceneID: sc.ID, Text: "The wind rises."}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddLine(ctx, p.ID, LineParams{SceneID: "nope", Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	lines, _ := s.ListLines(ctx, p.ID)
	if len(lines) != 2 || lines[0].CharacterID != c.ID || lines[1].CharacterID != "" {
		t.Errorf("lines = %+v", lines)
	}
}

// ─── Snapshot ────────────────────────────────────────────────────────────────

func TestSnapshot_TreeAndFocus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	a := mustCharacter(t, s, p.ID, "Aria")
	b := mustCharacter(t, s, p.ID, "Kael")
	if _, _, err := s.AddTrait(ctx, p.ID, a.ID, TraitParams{Type: "behavior", Description: "Calm"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddRelationship(ctx, p.ID, RelationshipParams{CharacterID: a.ID, OtherID: b.ID, Type: "rival"}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx, p.ID, map[string]string{"character": a.ID, "scene": "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Project != p.ID || snap.Revision != 4 {
		t.Errorf("project=%s revision=%d", snap.Project, snap.Revision)
	}

	checks := map[string]any{
		"project.name":                               "The Glass Coast",
		"characters.1.name":                          "Kael",
		"focus.character.name":                       "Aria",
		"focus.character.traits.0.type":              "behavior",
		"focus.character.relationships.0.other_name": "Kael",
	}
	for path, want := range checks {
		got, ok := snap.Lookup(path)
		if !ok || got != want {
			t.Errorf("%s = %v (ok=%v), want %v", path, got, ok, want)
		}
	}
	if _, ok := snap.Lookup("focus.scene"); ok {
		t.Error("unknown focus id should be ignored")
	}
	if _, ok := snap.Lookup("focus.character.faction_id"); ok {
		t.Error("faction_id should be absent for a character without faction")
	}
	scenes, _ := snap.Lookup("scenes")
	if l, ok := state.AsList(scenes); !ok || len(l) != 0 {
		t.Errorf("scenes = %#v, want empty list", scenes)
	}
}

func TestSnapshot_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Snapshot(context.Background(), "missing", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOnChange_FiresAfterCommit(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	var mu sync.Mutex
	var got []string
	s.OnChange(func(projectID string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, projectID)
	})

	mustCharacter(t, s, p.ID, "Aria")
	_, _ = s.CreateCharacter(context.Background(), p.ID, "Aria", "")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != p.ID {
		t.Errorf("change hooks = %v, want exactly one for %s", got, p.ID)
	}
}

func TestNew_InMemory(t *testing.T) {
	s, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	p, err := s.CreateProject(context.Background(), CreateProjectParams{Name: "Scratch"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Snapshot(context.Background(), p.ID, nil); err != nil {
		t.Fatal(err)
	}
}
