package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HendryAvila/plotline/internal/predicate"
	"github.com/HendryAvila/plotline/internal/render"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/selector"
	"github.com/HendryAvila/plotline/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type table map[string]Operation

func (t table) Lookup(name string) (Operation, bool) {
	op, ok := t[name]
	return op, ok
}

type navCall struct{ session, target string }

type fakeNav struct {
	mu    sync.Mutex
	calls []navCall
	err   error
}

func (n *fakeNav) Navigate(_ context.Context, session, target string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, navCall{session, target})
	return n.err
}

type fakeRevs struct{ rev atomic.Uint64 }

func (f *fakeRevs) Revision(context.Context, string) (uint64, error) { return f.rev.Load(), nil }

type fakeGens struct{ gen atomic.Uint64 }

func (f *fakeGens) Generation() uint64 { return f.gen.Load() }

func instance(id, op, nav string) selector.Instance {
	return selector.Instance{
		ID: id, Feature: "Feature " + id, Topic: "character",
		BEOperation: op, FENavigation: nav,
		ProjectID: "p1", Generation: 1, Revision: 5,
		Params: map[string]any{"name": "Draft", "type": "major"},
	}
}

func newRouter(ops table) (*Router, *fakeNav, *fakeRevs, *fakeGens) {
	nav := &fakeNav{}
	revs := &fakeRevs{}
	revs.rev.Store(5)
	gens := &fakeGens{}
	gens.gen.Store(1)
	return NewRouter(Config{Operations: ops, Navigator: nav, Revisions: revs, Generations: gens}), nav, revs, gens
}

// --- tests ---

func TestDispatch_CreateCharacterScenario(t *testing.T) {
	known := rules.Names("character_create")
	reg := rules.NewRegistry(known, nil, nil)
	_, err := reg.Load([]rules.Rule{{
		Feature:      "Create character",
		When:         &predicate.Spec{Intent: &predicate.IntentSpec{Name: "create_character"}},
		Label:        "Create character",
		Text:         "Please create character with parameters: {{name}}",
		BEOperation:  "character_create",
		FENavigation: "center.char.list",
		Topic:        rules.TopicCharacter,
	}})
	require.NoError(t, err)

	sel := selector.New(reg, render.New(render.PolicyOmit, ""), nil, nil, selector.Options{})
	conv := state.Conversation{SessionID: "s1", Turn: 1, Intents: map[string]float64{"create_character": 1}}
	snap := &state.Snapshot{Project: "p1", Revision: 3, Values: state.Tree{}}
	offered, err := sel.Select(context.Background(), snap, conv, nil, 0)
	require.NoError(t, err)
	require.Len(t, offered, 1)

	var got Invocation
	ops := table{"character_create": func(_ context.Context, inv Invocation) (Outcome, error) {
		got = inv
		return Outcome{Message: "Added new character 'Aria' to the project."}, nil
	}}
	nav := &fakeNav{}
	revs := &fakeRevs{}
	revs.rev.Store(3)
	r := NewRouter(Config{Operations: ops, Navigator: nav, Revisions: revs, Generations: reg})

	require.NoError(t, r.Offer("s1", 1, offered))
	res, err := r.Dispatch(context.Background(), "s1", offered[0].ID, map[string]any{"name": "Aria"})
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "Aria", got.Params["name"])
	assert.Equal(t, "p1", got.Project)
	assert.Equal(t, "s1", got.Session)
	assert.Equal(t, "center.char.list", res.Navigation)
	assert.Equal(t, []navCall{{"s1", "center.char.list"}}, nav.calls)

	st, err := r.Status("s1", offered[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	var path []State
	for _, tr := range st.History {
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{StateConfirmed, StateExecuting, StateSucceeded}, path)
}

func TestDispatch_ReloadExpiresOffer(t *testing.T) {
	r, _, _, gens := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		t.Fatal("operation must not run for an expired suggestion")
		return Outcome{}, nil
	}})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))

	gens.gen.Store(2)
	res, err := r.Dispatch(context.Background(), "s", "a", nil)
	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, KindExpired, derr.Kind)
	assert.Equal(t, StateExpired, res.State)
	assert.True(t, errors.Is(err, &Error{Kind: KindExpired}))

	st, _ := r.Status("s", "a")
	assert.Equal(t, StateExpired, st.State)
}

func TestDispatch_RevisionAdvancedExpiresOffer(t *testing.T) {
	var calls atomic.Int32
	r, _, revs, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		calls.Add(1)
		return Outcome{}, nil
	}})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))

	revs.rev.Store(6)
	_, err := r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindExpired}))
	assert.Zero(t, calls.Load())
}

func TestDispatch_NewTurnSupersedes(t *testing.T) {
	r, _, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) { return Outcome{}, nil }})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))
	require.NoError(t, r.Offer("s", 2, []selector.Instance{instance("b", "op", "")}))

	_, err := r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindExpired}))

	res, err := r.Dispatch(context.Background(), "s", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, uint64(2), r.Turn("s"))

	// Two turns later the first turn's records are pruned.
	require.NoError(t, r.Offer("s", 3, nil))
	_, err = r.Status("s", "a")
	assert.True(t, errors.Is(err, &Error{Kind: KindUnknownInstance}))

	assert.Error(t, r.Offer("s", 1, nil))
}

func TestStatus_KeepsOutcomeAcrossTurns(t *testing.T) {
	r, _, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		return Outcome{Message: "done"}, nil
	}})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))
	_, err := r.Dispatch(context.Background(), "s", "a", nil)
	require.NoError(t, err)

	for turn := uint64(2); turn <= 1+outcomeTurns; turn++ {
		require.NoError(t, r.Offer("s", turn, nil))
		st, err := r.Status("s", "a")
		require.NoError(t, err, "turn %d", turn)
		assert.Equal(t, StateSucceeded, st.State)
		require.NotNil(t, st.Result)
		assert.Equal(t, "done", st.Result.Message)
	}

	require.NoError(t, r.Offer("s", 2+outcomeTurns, nil))
	_, err = r.Status("s", "a")
	assert.True(t, errors.Is(err, &Error{Kind: KindUnknownInstance}))
}

func TestDispatch_SameTurnReofferKeepsState(t *testing.T) {
	r, _, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) { return Outcome{}, nil }})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))
	_, err := r.Dispatch(context.Background(), "s", "a", nil)
	require.NoError(t, err)

	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", ""), instance("b", "op", "")}))
	st, err := r.Status("s", "a")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Len(t, r.Offers("s"), 2)
}

func TestDispatch_ConcurrentConfirmationRunsOnce(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	r, _, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		runs.Add(1)
		once.Do(func() { close(entered) })
		<-release
		return Outcome{Message: "done"}, nil
	}})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Dispatch(context.Background(), "s", "a", nil)
			errs <- err
		}()
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("operation never started")
	}
	// A confirmation while executing is rejected as in flight.
	_, err := r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindInFlight}), "got %v", err)

	close(release)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var derr *Error
		require.True(t, errors.As(err, &derr))
		assert.Contains(t, []Kind{KindInFlight, KindNotOffered}, derr.Kind)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int32(1), runs.Load())

	// Once finished, a further confirmation is not offered.
	_, err = r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindNotOffered}))
}

func TestDispatch_OperationFailure(t *testing.T) {
	cause := errors.New("Character name 'Aria' already exists in this project.")
	r, nav, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		return Outcome{}, cause
	}})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "center.char.list")}))

	res, err := r.Dispatch(context.Background(), "s", "a", nil)
	var failure *OperationFailure
	require.True(t, errors.As(err, &failure))
	assert.Same(t, cause, failure.Err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, cause.Error(), res.Message)
	assert.Empty(t, nav.calls, "no navigation after a failed operation")

	_, err = r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindNotOffered}))
}

func TestDispatch_UnknownOperation(t *testing.T) {
	r, _, _, _ := newRouter(table{})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "vanished", "")}))

	res, err := r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindUnknownOperation}))
	assert.Equal(t, StateFailed, res.State)
}

func TestDispatch_UnknownInstance(t *testing.T) {
	r, _, _, _ := newRouter(table{})
	_, err := r.Dispatch(context.Background(), "nobody", "x", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindUnknownInstance}))

	require.NoError(t, r.Offer("s", 1, nil))
	_, err = r.Dispatch(context.Background(), "s", "x", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindUnknownInstance}))
}

func TestDispatch_CancelThenConfirm(t *testing.T) {
	r, _, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) { return Outcome{}, nil }})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))

	st, err := r.Cancel("s", "a")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)

	_, err = r.Dispatch(context.Background(), "s", "a", nil)
	assert.True(t, errors.Is(err, &Error{Kind: KindNotOffered}))

	_, err = r.Cancel("s", "a")
	assert.True(t, errors.Is(err, &Error{Kind: KindNotOffered}))
}

func TestDispatch_NavigationFailureKeepsResult(t *testing.T) {
	r, nav, _, _ := newRouter(table{"op": func(context.Context, Invocation) (Outcome, error) {
		return Outcome{Message: "ok"}, nil
	}})
	nav.err = errors.New("no frontend connected")
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "center.story")}))

	res, err := r.Dispatch(context.Background(), "s", "a", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "no frontend connected", res.NavigationError)
}

func TestDispatch_NavigationOnly(t *testing.T) {
	r, nav, _, _ := newRouter(table{})
	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "", "sidebar.characters")}))

	res, err := r.Dispatch(context.Background(), "s", "a", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, []navCall{{"s", "sidebar.characters"}}, nav.calls)
}

func TestDispatch_ObserverAndParams(t *testing.T) {
	var got Invocation
	r, _, _, _ := newRouter(table{"op": func(_ context.Context, inv Invocation) (Outcome, error) {
		got = inv
		return Outcome{Data: map[string]any{"id": "c9"}}, nil
	}})
	var observed []Result
	r.Observe(func(_ context.Context, _ string, res Result) { observed = append(observed, res) })

	require.NoError(t, r.Offer("s", 1, []selector.Instance{instance("a", "op", "")}))
	_, err := r.Dispatch(context.Background(), "s", "a", map[string]any{"name": "Aria", "type": nil, "extra": 1})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "Aria", "extra": 1}, got.Params)
	require.Len(t, observed, 1)
	assert.Equal(t, "c9", observed[0].Data["id"])
}

func TestExpireGeneration(t *testing.T) {
	r, _, _, _ := newRouter(table{})
	a, b := instance("a", "", ""), instance("b", "", "")
	b.Generation = 2
	require.NoError(t, r.Offer("s", 1, []selector.Instance{a, b}))

	assert.Equal(t, 1, r.ExpireGeneration(2))
	st, _ := r.Status("s", "a")
	assert.Equal(t, StateExpired, st.State)
	st, _ = r.Status("s", "b")
	assert.Equal(t, StateOffered, st.State)

	r.Forget("s")
	assert.Nil(t, r.Offers("s"))
}

func TestMergeParams(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	out := MergeParams(base, map[string]any{"b": nil, "c": 3})
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, out)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, base)
}
