package deocean

import (
	"fmt"
)

// SceneTask is an action bound to a panel button.
type SceneTask struct {
	// ID is "{ADDRESS}:{channel}", e.g. "0A0B0C0D:2".
	ID string

	// Name is the display name; defaults to "scene-{ID}".
	Name string

	Address Address
	Channel uint8

	// Action runs when the panel button is pressed.
	Action func()
}

// SceneID returns the scene identifier for a panel button.
func SceneID(addr Address, channel int) string {
	return fmt.Sprintf("%s:%d", addr, channel)
}

// RegisterScene binds an action to a panel button.
//
// Parameters:
//   - addr: Panel address in any form accepted by ParseAddress
//   - channel: Button channel, 1-255
//   - action: Function run when the button is pressed
//   - name: Display name (optional)
//   - force: Overwrite an existing scene with the same id
//
// Returns:
//   - string: Scene id
//   - error: ErrInvalidAddress, ErrInvalidChannel, ErrActionNotCallable or ErrDuplicateScene
func (r *Registry) RegisterScene(addr any, channel int, action func(), name string, force bool) (string, error) {
	panel, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	if channel < 1 || channel > 255 {
		return "", fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if action == nil {
		return "", ErrActionNotCallable
	}

	id := SceneID(panel, channel)
	if name == "" {
		name = "scene-" + id
	}
	task := &SceneTask{
		ID:      id,
		Name:    name,
		Address: panel,
		Channel: uint8(channel),
		Action:  action,
	}

	r.mu.Lock()
	if _, exists := r.scenes[id]; exists {
		if !force {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDuplicateScene, id)
		}
	} else {
		r.sceneIDs = append(r.sceneIDs, id)
	}
	r.scenes[id] = task
	_, clash := r.devices[panel]
	r.mu.Unlock()

	if clash {
		r.logWarn("scene panel address matches a device; device updates take precedence",
			"scene_id", id)
	}
	r.logDebug("scene registered", "scene_id", id, "name", name)
	return id, nil
}

// UnregisterScene removes a scene.
//
// Returns:
//   - bool: true if the scene existed
func (r *Registry) UnregisterScene(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scenes[id]; !ok {
		return false
	}
	delete(r.scenes, id)
	for i, sid := range r.sceneIDs {
		if sid == id {
			r.sceneIDs = append(r.sceneIDs[:i], r.sceneIDs[i+1:]...)
			break
		}
	}
	return true
}

// Scene returns the scene with the given id.
func (r *Registry) Scene(id string) (*SceneTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.scenes[id]
	return task, ok
}

// Scenes returns every scene in registration order.
func (r *Registry) Scenes() []*SceneTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SceneTask, 0, len(r.sceneIDs))
	for _, id := range r.sceneIDs {
		out = append(out, r.scenes[id])
	}
	return out
}

// SetSceneRunner sets the function that executes triggered scenes. With no
// runner, scenes run on the dispatching goroutine.
func (r *Registry) SetSceneRunner(run func(*SceneTask)) {
	r.mu.Lock()
	r.runScene = run
	r.mu.Unlock()
}

// OnScene registers a callback invoked each time a scene is triggered,
// before the scene runs.
func (r *Registry) OnScene(fn func(*SceneTask)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onScene = append(r.onScene, fn)
	r.mu.Unlock()
}

// RunScene executes a scene action on the calling goroutine. A panicking
// action is logged and recovered.
func (r *Registry) RunScene(task *SceneTask) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logError("scene action panic", fmt.Errorf("%v", rec), "scene_id", task.ID)
		}
	}()
	task.Action()
}

// trigger notifies scene observers and hands the task to the runner.
func (r *Registry) trigger(task *SceneTask) {
	r.mu.RLock()
	run := r.runScene
	observers := make([]func(*SceneTask), len(r.onScene))
	copy(observers, r.onScene)
	r.mu.RUnlock()

	for _, fn := range observers {
		fn(task)
	}

	if run == nil {
		r.RunScene(task)
		return
	}
	run(task)
}

// hasPanelLocked reports whether any scene uses addr as its panel address.
// r.mu must be held.
func (r *Registry) hasPanelLocked(addr Address) bool {
	for _, task := range r.scenes {
		if task.Address == addr {
			return true
		}
	}
	return false
}
