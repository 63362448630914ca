package scene

import (
	"context"
	"fmt"
	"runtime/debug"

	"log/slog"

	"github.com/m3rciful/paybot/assistant/session"
	"github.com/m3rciful/paybot/core/logger"
)

const defaultFailureText = "Something went wrong. The current action was cancelled — please try again."

// Engine drives scenes against the session store. At most one scene is
// active per session; entering a new scene replaces the previous one.
type Engine struct {
	store    session.Store
	registry *Registry

	// FailureText is sent after a step handler errors or panics.
	FailureText string
}

// NewEngine constructs an Engine over the session store and scene registry.
func NewEngine(store session.Store, registry *Registry) *Engine {
	return &Engine{
		store:       store,
		registry:    registry,
		FailureText: defaultFailureText,
	}
}

// Active returns the active scene ID and cursor for a chat, if any.
func (e *Engine) Active(ctx context.Context, chatID int64) (string, int, bool) {
	s, err := e.store.Get(ctx, chatID)
	if err != nil || s.Scene == nil {
		return "", 0, false
	}
	return s.Scene.SceneID, s.Scene.Cursor, true
}

// Enter replaces any active scene with the named one, stores the initial
// data, and invokes the enter hook immediately.
func (e *Engine) Enter(ctx context.Context, upd Update, r Responder, sceneID string, initial map[string]interface{}) error {
	sc, ok := e.registry.Get(sceneID)
	if !ok {
		return fmt.Errorf("scene: unknown scene %q", sceneID)
	}

	// Replacing an active scene discards its local data. Run its leave hook
	// so it can release anything it owns.
	if err := e.Leave(ctx, upd.ChatID); err != nil {
		return err
	}

	if initial == nil {
		initial = make(map[string]interface{})
	}
	state := &session.SceneState{SceneID: sceneID, Cursor: 0, Data: initial}
	if err := e.store.PutScene(ctx, upd.ChatID, state); err != nil {
		return err
	}

	logger.SVCScenes.Debug("scene entered",
		slog.String("event", "scene.enter"),
		slog.Int64("chat_id", upd.ChatID),
		slog.String("scene", sceneID),
	)

	if sc.OnEnter == nil {
		return nil
	}

	flow := &Flow{Ctx: ctx, Update: upd, Data: initial, resp: r}
	res, err := e.runGuarded(flow, sceneID, -1, sc.OnEnter)
	if err != nil {
		return e.fail(ctx, flow, sceneID, -1, err)
	}
	// The cursor already points at the first step; advancing here would
	// skip it before any input arrived.
	if res == Next {
		res = Stay
	}
	return e.apply(ctx, flow, sc, state, res)
}

// Dispatch routes the update to the current step of the active scene. It is
// a no-op when no scene is active. A cancel action always resolves to Leave
// regardless of step.
func (e *Engine) Dispatch(ctx context.Context, upd Update, r Responder) error {
	s, err := e.store.Get(ctx, upd.ChatID)
	if err != nil {
		return err
	}
	if s.Scene == nil {
		return nil
	}
	state := s.Scene

	flow := &Flow{Ctx: ctx, Update: upd, Data: state.Data, resp: r}
	if flow.Data == nil {
		flow.Data = make(map[string]interface{})
	}

	if upd.Action != nil && upd.Action.Key == CancelKey {
		if err := e.Leave(ctx, upd.ChatID); err != nil {
			return err
		}
		return flow.Send("Cancelled.")
	}

	sc, ok := e.registry.Get(state.SceneID)
	if !ok {
		// Stored scene no longer exists (deploy changed the registry).
		// Clear it rather than wedging the session.
		logger.SVCScenes.Warn("active scene not registered",
			slog.String("event", "scene.orphan"),
			slog.Int64("chat_id", upd.ChatID),
			slog.String("scene", state.SceneID),
		)
		return e.store.ClearScene(ctx, upd.ChatID)
	}

	step, ok := e.registry.StepAt(state.SceneID, state.Cursor)
	if !ok {
		return e.fail(ctx, flow, state.SceneID, state.Cursor,
			fmt.Errorf("scene %q: cursor %d out of range", state.SceneID, state.Cursor))
	}

	res, err := e.runGuarded(flow, state.SceneID, state.Cursor, step)
	if err != nil {
		return e.fail(ctx, flow, state.SceneID, state.Cursor, err)
	}
	return e.apply(ctx, flow, sc, state, res)
}

// Leave clears the scene state. Idempotent: calling it with no active scene
// is a no-op.
func (e *Engine) Leave(ctx context.Context, chatID int64) error {
	s, err := e.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if s.Scene == nil {
		return nil
	}
	if sc, ok := e.registry.Get(s.Scene.SceneID); ok && sc.OnLeave != nil {
		flow := &Flow{Ctx: ctx, Update: Update{ChatID: chatID}, Data: s.Scene.Data}
		sc.OnLeave(flow)
	}
	if err := e.store.ClearScene(ctx, chatID); err != nil {
		return err
	}
	logger.SVCScenes.Debug("scene left",
		slog.String("event", "scene.leave"),
		slog.Int64("chat_id", chatID),
		slog.String("scene", s.Scene.SceneID),
	)
	return nil
}

// apply moves the cursor according to the step result and persists the scene
// state, including any local data the step mutated. The cursor advances only
// on explicit success.
func (e *Engine) apply(ctx context.Context, flow *Flow, sc *Scene, state *session.SceneState, res Result) error {
	switch res {
	case End:
		return e.Leave(ctx, flow.Update.ChatID)
	case Next:
		state.Cursor++
		if state.Cursor >= len(sc.Steps) {
			return e.Leave(ctx, flow.Update.ChatID)
		}
	}
	state.Data = flow.Data
	return e.store.PutScene(ctx, flow.Update.ChatID, state)
}

// runGuarded executes a handler, converting panics into errors so a crashed
// step can never escape the dispatch boundary.
func (e *Engine) runGuarded(flow *Flow, sceneID string, step int, fn func(*Flow) (Result, error)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.SVCScenes.Error("panic in scene step",
				slog.String("event", "scene.panic"),
				slog.String("scene", sceneID),
				slog.Int("step", step),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
			res = Stay
			err = fmt.Errorf("scene %q step %d: panic: %v", sceneID, step, r)
		}
	}()
	return fn(flow)
}

// fail forces the session out of the scene and degrades to a generic user
// message, so a failed step never wedges the session in a half-initialized
// state. The error stops here: it is logged, not returned to the router.
func (e *Engine) fail(ctx context.Context, flow *Flow, sceneID string, step int, cause error) error {
	logger.SVCScenes.Error("scene step failed",
		slog.String("event", "scene.fail"),
		slog.Int64("chat_id", flow.Update.ChatID),
		slog.String("scene", sceneID),
		slog.Int("step", step),
		slog.String("err", logger.SanitizeLimit(cause.Error(), 256)),
	)
	if err := e.store.ClearScene(ctx, flow.Update.ChatID); err != nil {
		logger.SVCScenes.Warn("scene clear failed",
			slog.String("event", "scene.fail"),
			slog.Int64("chat_id", flow.Update.ChatID),
			slog.String("err", err.Error()),
		)
	}
	return flow.Send(e.FailureText)
}
