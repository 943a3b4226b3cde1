// Package state defines the read-only views rules are evaluated against:
// the project Snapshot at a revision and the Conversation context of the
// current turn.
package state

import (
	"sort"
	"strconv"
	"strings"
)

// Tree is a nested document of maps, lists and scalars. Lists are []any
// whose elements are usually map[string]any records.
type Tree map[string]any

// Resolver looks up dotted paths such as "focus.character.name".
type Resolver interface {
	Lookup(path string) (any, bool)
}

// Snapshot is an immutable view of a project at one revision.
type Snapshot struct {
	Project  string
	Revision uint64
	Values   Tree
}

// Empty returns a snapshot with no project data at all.
func Empty() *Snapshot {
	return &Snapshot{Values: Tree{}}
}

func (s *Snapshot) Lookup(path string) (any, bool) {
	if s == nil || s.Values == nil {
		return nil, false
	}
	return Lookup(map[string]any(s.Values), path)
}

// Conversation is the per-turn context supplied by the chat layer.
type Conversation struct {
	SessionID string
	Turn      uint64
	ProjectID string
	// Focus maps an entity kind ("character", "scene") to the selected id.
	Focus map[string]string
	// Intents maps an intent name to its confidence in [0,1].
	Intents  map[string]float64
	Mentions []string
	Params   map[string]any
	Message  string
}

// Intent reports the confidence for name, matching case-insensitively.
func (c Conversation) Intent(name string) (float64, bool) {
	if v, ok := c.Intents[name]; ok {
		return v, true
	}
	for k, v := range c.Intents {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

func (c Conversation) Focused(kind string) (string, bool) {
	id, ok := c.Focus[kind]
	return id, ok && id != ""
}

// Params resolves against a flat parameter map. An exact key wins over a
// nested walk, so {"focus.character.name": "x"} can override snapshot data.
type Params map[string]any

func (p Params) Lookup(path string) (any, bool) {
	if p == nil {
		return nil, false
	}
	if v, ok := p[path]; ok {
		return v, v != nil
	}
	return Lookup(map[string]any(p), path)
}

// Layers tries each resolver in order and returns the first hit.
type Layers []Resolver

func (l Layers) Lookup(path string) (any, bool) {
	for _, r := range l {
		if r == nil {
			continue
		}
		if v, ok := r.Lookup(path); ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup walks a dotted path through maps and lists. Numeric segments index
// into lists. An empty path returns root itself.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Tree:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			items, ok := AsList(cur)
			if !ok {
				return nil, false
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(items) {
				return nil, false
			}
			cur = items[i]
		}
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// AsList normalises the list shapes a Tree may carry.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	}
	return nil, false
}

// Present reports whether v counts as data: not nil, not an empty string
// and not an empty list.
func Present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	}
	if l, ok := AsList(v); ok {
		return len(l) > 0
	}
	return true
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
