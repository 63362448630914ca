// Package scene implements the multi-step conversation engine. Each flow
// (login, wallet creation, transfers, ...) is a named scene: an ordered list
// of step handlers plus an enter hook and an optional leave hook. The active
// scene and its cursor live in the session record, so the engine itself is
// stateless and testable without live chat I/O.
package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result tells the engine how to move the cursor after a step.
type Result int

const (
	// Stay re-prompts in place; the cursor does not move. Used for invalid
	// or unexpected input.
	Stay Result = iota
	// Next advances the cursor to the following step.
	Next
	// End leaves the scene.
	End
)

// CancelKey is the callback action that aborts any scene from any step.
const CancelKey = "scene_cancel"

// Action is a button-callback payload routed into the active scene.
type Action struct {
	Key     string
	Payload string
}

// Update is the portion of an inbound chat update the engine cares about.
type Update struct {
	ChatID int64
	UserID int64
	Text   string
	Action *Action
}

// Responder delivers replies back through the chat transport. The signature
// mirrors tele.Context.Send so handlers can pass telebot send options.
type Responder interface {
	Send(what interface{}, opts ...interface{}) error
}

// Flow is handed to enter hooks and step handlers: the inbound update, the
// scene-local data map, and a way to reply.
type Flow struct {
	Ctx    context.Context
	Update Update
	Data   map[string]interface{}

	resp Responder
}

// Send replies through the flow's responder. It no-ops when the flow was
// created without a transport (internal leave paths).
func (f *Flow) Send(what interface{}, opts ...interface{}) error {
	if f.resp == nil {
		return nil
	}
	return f.resp.Send(what, opts...)
}

// String reads a string value from scene-local data.
func (f *Flow) String(key string) string {
	if v, ok := f.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Float reads a float64 value from scene-local data.
func (f *Flow) Float(key string) (float64, bool) {
	v, ok := f.Data[key]
	if !ok {
		return 0, false
	}
	f64, ok := v.(float64)
	return f64, ok
}

// Set stores a value into scene-local data.
func (f *Flow) Set(key string, value interface{}) {
	if f.Data == nil {
		f.Data = make(map[string]interface{})
	}
	f.Data[key] = value
}

// Step handles one piece of user input within a scene.
type Step func(*Flow) (Result, error)

// Scene is a named multi-step conversational flow.
//
// OnEnter runs immediately when the scene is entered, typically to prompt for
// the first input. When the initial data already satisfies a step's
// precondition it may perform the terminal action and return End, so the
// user is never re-asked for input they already supplied. Its result is
// Stay or End; Next would skip the first step before any input arrived, so
// the engine holds the cursor at step zero.
type Scene struct {
	ID      string
	OnEnter func(*Flow) (Result, error)
	Steps   []Step
	OnLeave func(*Flow)
}

// Registry holds scenes by ID. Registration happens during wiring; lookups
// are safe for concurrent use afterwards.
type Registry struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
}

// NewRegistry creates an empty scene registry.
func NewRegistry() *Registry {
	return &Registry{scenes: make(map[string]*Scene)}
}

// Register adds a scene. Duplicate or invalid registrations are rejected.
func (r *Registry) Register(s *Scene) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("scene: invalid registration")
	}
	if len(s.Steps) == 0 && s.OnEnter == nil {
		return fmt.Errorf("scene %q: no steps and no enter hook", s.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scenes[s.ID]; exists {
		return fmt.Errorf("scene already registered: %s", s.ID)
	}
	r.scenes[s.ID] = s
	return nil
}

// Get returns a scene by ID.
func (r *Registry) Get(id string) (*Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenes[id]
	return s, ok
}

// StepAt resolves the transition table entry (sceneID, stepIndex) -> Step.
// It exists so the state machine can be inspected and tested directly.
func (r *Registry) StepAt(sceneID string, index int) (Step, bool) {
	s, ok := r.Get(sceneID)
	if !ok || index < 0 || index >= len(s.Steps) {
		return nil, false
	}
	return s.Steps[index], true
}

// List returns sorted scene IDs for diagnostics.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scenes))
	for id := range r.scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
