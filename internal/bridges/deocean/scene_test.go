package deocean

import (
	"errors"
	"testing"
)

func TestRegisterScene(t *testing.T) {
	noop := func() {}

	tests := []struct {
		name    string
		addr    any
		channel int
		action  func()
		wantID  string
		wantErr error
	}{
		{name: "hex string", addr: "0x0A0B0C0D", channel: 2, action: noop, wantID: "0A0B0C0D:2"},
		{name: "byte list", addr: []int{10, 11, 12, 13}, channel: 255, action: noop, wantID: "0A0B0C0D:255"},
		{name: "bad address", addr: "zz", channel: 1, action: noop, wantErr: ErrInvalidAddress},
		{name: "channel zero", addr: "0A0B0C0D", channel: 0, action: noop, wantErr: ErrInvalidChannel},
		{name: "channel too large", addr: "0A0B0C0D", channel: 256, action: noop, wantErr: ErrInvalidChannel},
		{name: "nil action", addr: "0A0B0C0D", channel: 1, action: nil, wantErr: ErrActionNotCallable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(RegistryOptions{})
			id, err := reg.RegisterScene(tt.addr, tt.channel, tt.action, "", false)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RegisterScene() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RegisterScene() error: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}

			task, ok := reg.Scene(id)
			if !ok {
				t.Fatal("Scene() did not find registered scene")
			}
			if task.Name != "scene-"+tt.wantID {
				t.Errorf("default Name = %q", task.Name)
			}
		})
	}
}

func TestRegisterSceneDuplicate(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	var ran string
	if _, err := reg.RegisterScene("0A0B0C0D", 2, func() { ran = "first" }, "first", false); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RegisterScene("0A0B0C0D", 2, func() { ran = "second" }, "second", false); !errors.Is(err, ErrDuplicateScene) {
		t.Errorf("duplicate error = %v, want ErrDuplicateScene", err)
	}

	reg.Dispatch(Frame{Type: TypeLight, Func: FuncSwitchUpdated, Address: 0x0A0B0C0D, Channel: 2})
	if ran != "first" {
		t.Errorf("ran %q after rejected duplicate, want first", ran)
	}

	if _, err := reg.RegisterScene("0A0B0C0D", 2, func() { ran = "second" }, "second", true); err != nil {
		t.Fatalf("forced RegisterScene() error: %v", err)
	}
	reg.Dispatch(Frame{Type: TypeLight, Func: FuncSwitchUpdated, Address: 0x0A0B0C0D, Channel: 2})
	if ran != "second" {
		t.Errorf("ran %q after forced overwrite, want second", ran)
	}
	if n := len(reg.Scenes()); n != 1 {
		t.Errorf("Scenes() has %d entries, want 1", n)
	}
}

func TestUnregisterScene(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	for ch := 1; ch <= 3; ch++ {
		if _, err := reg.RegisterScene(uint32(0x0A0B0C0D), ch, func() {}, "", false); err != nil {
			t.Fatal(err)
		}
	}

	if !reg.UnregisterScene("0A0B0C0D:2") {
		t.Error("UnregisterScene(existing) = false")
	}
	if reg.UnregisterScene("0A0B0C0D:2") {
		t.Error("UnregisterScene(removed) = true")
	}

	scenes := reg.Scenes()
	if len(scenes) != 2 || scenes[0].Channel != 1 || scenes[1].Channel != 3 {
		t.Errorf("Scenes() = %v", scenes)
	}

	got := reg.Dispatch(Frame{Type: TypeLight, Func: FuncSwitchUpdated, Address: 0x0A0B0C0D, Channel: 2})
	if got != DispatchUnmatched {
		t.Errorf("Dispatch() to removed scene = %s, want unmatched", got)
	}
}

func TestSceneRunnerAndObservers(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	var order []string
	if _, err := reg.RegisterScene("0A0B0C0D", 2, func() { order = append(order, "action") }, "Leave", false); err != nil {
		t.Fatal(err)
	}

	reg.OnScene(func(task *SceneTask) { order = append(order, "observer:"+task.Name) })
	reg.OnScene(nil)

	var queued []*SceneTask
	reg.SetSceneRunner(func(task *SceneTask) { queued = append(queued, task) })

	reg.Dispatch(Frame{Type: TypeLight, Func: FuncSwitchUpdated, Address: 0x0A0B0C0D, Channel: 2})

	if len(queued) != 1 {
		t.Fatalf("runner received %d tasks, want 1", len(queued))
	}
	if len(order) != 1 || order[0] != "observer:Leave" {
		t.Fatalf("order before run = %v", order)
	}

	reg.RunScene(queued[0])
	if len(order) != 2 || order[1] != "action" {
		t.Errorf("order after run = %v", order)
	}
}

func TestRunSceneRecoversPanic(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	task := &SceneTask{ID: "0A0B0C0D:1", Action: func() { panic("scene failure") }}

	// Must not propagate.
	reg.RunScene(task)
}
