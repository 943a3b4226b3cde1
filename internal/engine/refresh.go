package engine

import (
	"context"
	"sort"
)

// ProjectChanged queues a re-evaluation of every session working on
// projectID. It never blocks, so it can be registered as a store hook.
func (e *Engine) ProjectChanged(projectID string) {
	if projectID == "" {
		return
	}
	e.pendMu.Lock()
	e.pending[projectID] = true
	e.pendMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run processes queued project changes until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
			for _, p := range e.drain() {
				e.Refresh(ctx, p)
			}
		}
	}
}

func (e *Engine) drain() []string {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	out := make([]string, 0, len(e.pending))
	for p := range e.pending {
		out = append(out, p)
	}
	e.pending = map[string]bool{}
	sort.Strings(out)
	return out
}

// Refresh re-runs the last turn of every session bound to projectID in a
// new turn, announcing the sessions whose offered features changed. It
// returns the ids of those sessions.
func (e *Engine) Refresh(ctx context.Context, projectID string) []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	var changed []string
	for _, id := range ids {
		s := e.session(id)
		s.mu.Lock()
		if s.project != projectID || s.last == nil {
			s.mu.Unlock()
			continue
		}
		conv, topics, max := *s.last, s.topics, s.max
		s.mu.Unlock()

		instances, diff, err := e.suggest(ctx, conv, topics, max)
		if err != nil {
			e.log.Warn("re-evaluating session failed", "session", id, "project", projectID, "error", err)
			continue
		}
		if !diff {
			continue
		}
		changed = append(changed, id)
		if e.pub == nil {
			continue
		}
		if err := e.pub.SuggestionsChanged(ctx, id, instances); err != nil {
			e.log.Warn("announcing suggestions failed", "session", id, "error", err)
		}
	}
	return changed
}
