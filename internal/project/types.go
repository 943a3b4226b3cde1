package project

// ─── Types ───────────────────────────────────────────────────────────────────

// Project is one story: its description lives on the project itself.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Genre     string `json:"genre,omitempty"`
	Theme     string `json:"theme,omitempty"`
	Concept   string `json:"concept,omitempty"`
	Overview  string `json:"overview,omitempty"`
	Revision  uint64 `json:"revision"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Faction struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// DefaultCharacterType is used when a character is created without one.
const DefaultCharacterType = "major"

type Character struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	FactionID string `json:"faction_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Trait types offered by the built-in rules. Others are accepted.
const (
	TraitBehavior      = "behavior"
	TraitHumor         = "humor"
	TraitSpeech        = "speech"
	TraitKnowledge     = "knowledge"
	TraitCommunication = "communication"
)

type Trait struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	Type        string `json:"type"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// DefaultRelationshipType is used when a relationship has no type.
const DefaultRelationshipType = "friend"

type Relationship struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	OtherID     string `json:"other_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Act struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
	CreatedAt   string `json:"created_at"`
}

// DefaultActName names the act created on demand for a first scene.
const DefaultActName = "Act 1"

type Scene struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	ActID       string `json:"act_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
	CreatedAt   string `json:"created_at"`
}

type Line struct {
	ID          string `json:"id"`
	SceneID     string `json:"scene_id"`
	CharacterID string `json:"character_id,omitempty"`
	Text        string `json:"text"`
	Tone        string `json:"tone,omitempty"`
	Position    int    `json:"position"`
	CreatedAt   string `json:"created_at"`
}

// CreateProjectParams holds input for a new project.
type CreateProjectParams struct {
	Name     string `json:"name"`
	Genre    string `json:"genre,omitempty"`
	Theme    string `json:"theme,omitempty"`
	Concept  string `json:"concept,omitempty"`
	Overview string `json:"overview,omitempty"`
}

// StoryParams updates the story description; nil fields are left alone.
type StoryParams struct {
	Name     *string
	Genre    *string
	Theme    *string
	Concept  *string
	Overview *string
}

// TraitParams describes a trait to add or update.
type TraitParams struct {
	Type        string
	Label       string
	Description string
}

// RelationshipParams describes a relationship between two characters.
type RelationshipParams struct {
	CharacterID string
	OtherID     string
	Type        string
	Description string
}

type SceneParams struct {
	ActID       string
	Name        string
	Description string
}

type LineParams struct {
	SceneID     string
	CharacterID string
	Text        string
	Tone        string
}
