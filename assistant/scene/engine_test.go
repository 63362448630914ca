package scene

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/assistant/session"
)

type recorder struct {
	sent []string
}

func (r *recorder) Send(what interface{}, opts ...interface{}) error {
	r.sent = append(r.sent, fmt.Sprint(what))
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *Registry, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	reg := NewRegistry()
	return NewEngine(store, reg), reg, store
}

// twoStepScene collects a name and a color.
func twoStepScene(id string) *Scene {
	return &Scene{
		ID: id,
		OnEnter: func(f *Flow) (Result, error) {
			_ = f.Send("name?")
			return Stay, nil
		},
		Steps: []Step{
			func(f *Flow) (Result, error) {
				if f.Update.Text == "" {
					_ = f.Send("name?")
					return Stay, nil
				}
				f.Set("name", f.Update.Text)
				_ = f.Send("color?")
				return Next, nil
			},
			func(f *Flow) (Result, error) {
				_ = f.Send(f.String("name") + " likes " + f.Update.Text)
				return End, nil
			},
		},
	}
}

func TestEngineWalkthrough(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	require.NoError(t, reg.Register(twoStepScene("profile")))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 1}, r, "profile", nil))
	id, cursor, ok := e.Active(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "profile", id)
	assert.Zero(t, cursor)

	// Invalid input holds the cursor in place.
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 1, Text: ""}, r))
	_, cursor, _ = e.Active(ctx, 1)
	assert.Zero(t, cursor)

	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 1, Text: "Ada"}, r))
	_, cursor, _ = e.Active(ctx, 1)
	assert.Equal(t, 1, cursor)

	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 1, Text: "green"}, r))
	_, _, ok = e.Active(ctx, 1)
	assert.False(t, ok, "End leaves the scene")

	assert.Equal(t, []string{"name?", "name?", "color?", "Ada likes green"}, r.sent)
}

func TestEngineEnterHookCannotSkipFirstStep(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	sc := twoStepScene("profile")
	sc.OnEnter = func(f *Flow) (Result, error) {
		_ = f.Send("name?")
		return Next, nil
	}
	require.NoError(t, reg.Register(sc))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 9}, r, "profile", nil))
	_, cursor, ok := e.Active(ctx, 9)
	require.True(t, ok)
	assert.Zero(t, cursor, "cursor stays on the first step")

	// The first step still sees the first input.
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 9, Text: "Ada"}, r))
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 9, Text: "green"}, r))
	assert.Equal(t, []string{"name?", "color?", "Ada likes green"}, r.sent)
}

func TestEngineDispatchWithoutScene(t *testing.T) {
	e, _, _ := newTestEngine(t)
	r := &recorder{}

	require.NoError(t, e.Dispatch(context.Background(), Update{ChatID: 2, Text: "hi"}, r))
	assert.Empty(t, r.sent)
}

func TestEngineEnterReplacesActiveScene(t *testing.T) {
	e, reg, store := newTestEngine(t)
	require.NoError(t, reg.Register(twoStepScene("first")))
	require.NoError(t, reg.Register(twoStepScene("second")))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 3}, r, "first", nil))
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 3, Text: "Ada"}, r))

	// Entering another scene discards the first scene's data.
	require.NoError(t, e.Enter(ctx, Update{ChatID: 3}, r, "second", nil))
	s, err := store.Get(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, s.Scene)
	assert.Equal(t, "second", s.Scene.SceneID)
	assert.NotContains(t, s.Scene.Data, "name")
}

func TestEngineCancelAction(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	require.NoError(t, reg.Register(twoStepScene("profile")))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 4}, r, "profile", nil))
	require.NoError(t, e.Dispatch(ctx, Update{
		ChatID: 4,
		Action: &Action{Key: CancelKey},
	}, r))

	_, _, ok := e.Active(ctx, 4)
	assert.False(t, ok)
	assert.Contains(t, r.sent, "Cancelled.")
}

func TestEngineLeaveIsIdempotent(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	left := 0
	require.NoError(t, reg.Register(&Scene{
		ID:      "watched",
		OnEnter: func(f *Flow) (Result, error) { return Stay, nil },
		Steps:   []Step{func(f *Flow) (Result, error) { return End, nil }},
		OnLeave: func(f *Flow) { left++ },
	}))
	ctx := context.Background()

	require.NoError(t, e.Enter(ctx, Update{ChatID: 5}, nil, "watched", nil))
	require.NoError(t, e.Leave(ctx, 5))
	require.NoError(t, e.Leave(ctx, 5))
	assert.Equal(t, 1, left)
}

func TestEngineInitialDataShortCircuit(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	require.NoError(t, reg.Register(&Scene{
		ID: "lookup",
		OnEnter: func(f *Flow) (Result, error) {
			if id := f.String("id"); id != "" {
				_ = f.Send("found " + id)
				return End, nil
			}
			_ = f.Send("id?")
			return Stay, nil
		},
		Steps: []Step{func(f *Flow) (Result, error) {
			_ = f.Send("found " + f.Update.Text)
			return End, nil
		}},
	}))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 6}, r, "lookup",
		map[string]interface{}{"id": "tx-42"}))

	_, _, ok := e.Active(ctx, 6)
	assert.False(t, ok, "prefilled data must auto-leave")
	assert.Equal(t, []string{"found tx-42"}, r.sent)
}

func TestEngineStepErrorRecovery(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	require.NoError(t, reg.Register(&Scene{
		ID:      "broken",
		OnEnter: func(f *Flow) (Result, error) { return Stay, nil },
		Steps: []Step{func(f *Flow) (Result, error) {
			return Stay, errors.New("backend exploded")
		}},
	}))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 7}, r, "broken", nil))
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 7, Text: "x"}, r))

	_, _, ok := e.Active(ctx, 7)
	assert.False(t, ok, "failed step must clear the scene")
	assert.Equal(t, []string{e.FailureText}, r.sent)
}

func TestEngineStepPanicRecovery(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	require.NoError(t, reg.Register(&Scene{
		ID:      "panics",
		OnEnter: func(f *Flow) (Result, error) { return Stay, nil },
		Steps: []Step{func(f *Flow) (Result, error) {
			panic("nil map write")
		}},
	}))
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, e.Enter(ctx, Update{ChatID: 8}, r, "panics", nil))
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 8, Text: "x"}, r))

	_, _, ok := e.Active(ctx, 8)
	assert.False(t, ok)
	assert.Equal(t, []string{e.FailureText}, r.sent)
}

func TestEngineOrphanSceneCleared(t *testing.T) {
	e, _, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutScene(ctx, 9, &session.SceneState{SceneID: "removed", Cursor: 0}))
	require.NoError(t, e.Dispatch(ctx, Update{ChatID: 9, Text: "x"}, &recorder{}))

	_, _, ok := e.Active(ctx, 9)
	assert.False(t, ok)
}

func TestRegistryStepAt(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(twoStepScene("profile")))

	_, ok := reg.StepAt("profile", 0)
	assert.True(t, ok)
	_, ok = reg.StepAt("profile", 2)
	assert.False(t, ok)
	_, ok = reg.StepAt("missing", 0)
	assert.False(t, ok)

	assert.Error(t, reg.Register(twoStepScene("profile")), "duplicate id")
	assert.Equal(t, []string{"profile"}, reg.List())
}
