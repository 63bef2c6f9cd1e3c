package deocean

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// frameRecorder is a Sender that records every frame.
type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *frameRecorder) Send(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *frameRecorder) Last(t *testing.T) Frame {
	t.Helper()
	frames := r.Frames()
	if len(frames) == 0 {
		t.Fatal("no frame sent")
	}
	return frames[len(frames)-1]
}

// echoSender answers Switch and SetPosition commands the way the gateway
// does, by dispatching the matching update frame back into reg.
func echoSender(reg *Registry, rec *frameRecorder) SenderFunc {
	return func(f Frame) {
		if rec != nil {
			rec.Send(f)
		}
		reply := f
		switch f.Func {
		case FuncSwitch:
			reply.Func = FuncSwitchUpdated
		case FuncSetPosition:
			reply.Func = FuncPositionUpdated
		default:
			return
		}
		reg.Dispatch(reply)
	}
}

func newTestDevice(t *testing.T, reg *Registry, addr Address, kind TypeCode, name string) *Device {
	t.Helper()
	dev, err := NewDevice(addr, kind, name)
	if err != nil {
		t.Fatalf("NewDevice() error: %v", err)
	}
	if !reg.Add(dev, false) {
		t.Fatalf("Add(%s) = false", dev)
	}
	return dev
}

func TestNewDevice(t *testing.T) {
	if _, err := NewDevice(0, TypeLight, "x"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero address error = %v, want ErrInvalidAddress", err)
	}
	if _, err := NewDevice(1, TypeCode(0x42), "x"); !errors.Is(err, ErrInvalidDeviceType) {
		t.Errorf("bad type error = %v, want ErrInvalidDeviceType", err)
	}

	dev, err := NewDevice(0x001E9DFE, TypeCover, "")
	if err != nil {
		t.Fatalf("NewDevice() error: %v", err)
	}
	if dev.Name() != "cover" {
		t.Errorf("default Name() = %q, want %q", dev.Name(), "cover")
	}
	if dev.UniqueID() != "001E9DFE" {
		t.Errorf("UniqueID() = %q", dev.UniqueID())
	}
	if dev.Status() != SwitchUnknown {
		t.Errorf("initial Status() = %s, want unknown", dev.Status())
	}
	if _, ok := dev.Position(); ok {
		t.Error("initial Position() reported a value")
	}
	if got := dev.String(); got != "cover<type=cover,addr=001E9DFE,status=unknown>" {
		t.Errorf("String() = %q", got)
	}
}

func TestDeviceCommandsRequireRegistry(t *testing.T) {
	dev, _ := NewDevice(0x01, TypeCover, "loose")

	commands := map[string]func() error{
		"TurnOn":      dev.TurnOn,
		"TurnOff":     dev.TurnOff,
		"Toggle":      dev.Toggle,
		"Sync":        dev.Sync,
		"SetPosition": func() error { return dev.SetPosition(50) },
	}
	for name, cmd := range commands {
		if err := cmd(); !errors.Is(err, ErrNotRegistered) {
			t.Errorf("%s() error = %v, want ErrNotRegistered", name, err)
		}
	}
}

func TestDeviceSwitchFrames(t *testing.T) {
	tests := []struct {
		name     string
		kind     TypeCode
		polarity CoverPolarity
		on       bool
		want     ControlCode
	}{
		{"light on", TypeLight, CoverPolarityNormal, true, ControlLightOn},
		{"light off", TypeLight, CoverPolarityNormal, false, ControlLightOff},
		{"light ignores polarity", TypeLight, CoverPolarityInverted, true, ControlLightOn},
		{"cover open", TypeCover, CoverPolarityNormal, true, ControlCoverB},
		{"cover close", TypeCover, CoverPolarityNormal, false, ControlCoverA},
		{"inverted cover open", TypeCover, CoverPolarityInverted, true, ControlCoverA},
		{"inverted cover close", TypeCover, CoverPolarityInverted, false, ControlCoverB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &frameRecorder{}
			reg := NewRegistry(RegistryOptions{Sender: rec, CoverPolarity: tt.polarity})
			dev := newTestDevice(t, reg, 0x001E9DFE, tt.kind, "dev")

			var err error
			if tt.on {
				err = dev.TurnOn()
			} else {
				err = dev.TurnOff()
			}
			if err != nil {
				t.Fatalf("command error: %v", err)
			}

			got := rec.Last(t)
			want := Frame{Type: tt.kind, Func: FuncSwitch, Address: 0x001E9DFE, Control: tt.want}
			if got != want {
				t.Errorf("sent %v, want %v", got, want)
			}
		})
	}
}

func TestCoverSetPosition(t *testing.T) {
	addr := Address(0x74C15D78)

	tests := []struct {
		pos  int
		want Frame
	}{
		{-5, Frame{Type: TypeCover, Func: FuncSwitch, Address: addr, Control: ControlCoverA}},
		{0, Frame{Type: TypeCover, Func: FuncSwitch, Address: addr, Control: ControlCoverA}},
		{1, Frame{Type: TypeCover, Func: FuncSetPosition, Address: addr}.WithPosition(1)},
		{40, Frame{Type: TypeCover, Func: FuncSetPosition, Address: addr}.WithPosition(40)},
		{99, Frame{Type: TypeCover, Func: FuncSetPosition, Address: addr}.WithPosition(99)},
		{100, Frame{Type: TypeCover, Func: FuncSwitch, Address: addr, Control: ControlCoverB}},
		{150, Frame{Type: TypeCover, Func: FuncSwitch, Address: addr, Control: ControlCoverB}},
	}

	for _, tt := range tests {
		rec := &frameRecorder{}
		reg := NewRegistry(RegistryOptions{Sender: rec})
		dev := newTestDevice(t, reg, addr, TypeCover, "curtain")

		if err := dev.SetPosition(tt.pos); err != nil {
			t.Fatalf("SetPosition(%d) error: %v", tt.pos, err)
		}
		if got := rec.Last(t); got != tt.want {
			t.Errorf("SetPosition(%d) sent %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestLightSetPositionUnsupported(t *testing.T) {
	rec := &frameRecorder{}
	reg := NewRegistry(RegistryOptions{Sender: rec})
	dev := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")

	if err := dev.SetPosition(50); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("SetPosition() error = %v, want ErrUnsupportedOperation", err)
	}
	if n := len(rec.Frames()); n != 0 {
		t.Errorf("%d frames sent for rejected command", n)
	}
}

func TestDeviceSync(t *testing.T) {
	rec := &frameRecorder{}
	reg := NewRegistry(RegistryOptions{Sender: rec})
	light := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")
	cover := newTestDevice(t, reg, 0x74C15D78, TypeCover, "curtain")

	if err := light.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := cover.Sync(); err != nil {
		t.Fatal(err)
	}

	frames := rec.Frames()
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(frames))
	}
	for _, f := range frames {
		if f.Func != FuncSync || f.Control != 0 || f.HasPosition {
			t.Errorf("sync frame = %+v", f)
		}
	}
}

func TestDeviceToggleRoundTrip(t *testing.T) {
	for _, kind := range []TypeCode{TypeLight, TypeCover} {
		t.Run(kind.String(), func(t *testing.T) {
			reg := NewRegistry(RegistryOptions{})
			reg.SetSender(echoSender(reg, nil))
			dev := newTestDevice(t, reg, 0x00A1B2C3, kind, "dev")

			if err := dev.TurnOff(); err != nil {
				t.Fatal(err)
			}
			if dev.Status() != SwitchOff {
				t.Fatalf("Status() after TurnOff = %s", dev.Status())
			}

			if err := dev.Toggle(); err != nil {
				t.Fatal(err)
			}
			if dev.Status() != SwitchOn {
				t.Errorf("Status() after first Toggle = %s, want on", dev.Status())
			}

			if err := dev.Toggle(); err != nil {
				t.Fatal(err)
			}
			if dev.Status() != SwitchOff {
				t.Errorf("Status() after second Toggle = %s, want off", dev.Status())
			}
		})
	}
}

func TestToggleUnknownTurnsOn(t *testing.T) {
	rec := &frameRecorder{}
	reg := NewRegistry(RegistryOptions{Sender: rec})
	dev := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")

	if err := dev.Toggle(); err != nil {
		t.Fatal(err)
	}
	if got := rec.Last(t); got.Control != ControlLightOn {
		t.Errorf("Toggle() on unknown status sent %v, want LightOn", got)
	}
}

func TestToggleSyncFirst(t *testing.T) {
	rec := &frameRecorder{}
	reg := NewRegistry(RegistryOptions{TogglePolicy: ToggleSyncFirst, ToggleSyncTimeout: time.Second})
	dev := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")

	// The gateway reports the light as on in reply to the Sync.
	reg.SetSender(SenderFunc(func(f Frame) {
		rec.Send(f)
		if f.Func == FuncSync {
			reg.Dispatch(Frame{Type: TypeLight, Func: FuncSync, Address: f.Address, Control: ControlLightOn})
		}
	}))

	if err := dev.Toggle(); err != nil {
		t.Fatal(err)
	}

	frames := rec.Frames()
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want sync then switch", len(frames))
	}
	if frames[0].Func != FuncSync {
		t.Errorf("first frame = %v, want Sync", frames[0])
	}
	if frames[1].Control != ControlLightOff {
		t.Errorf("second frame = %v, want LightOff", frames[1])
	}
}

func TestToggleSyncFirstTimeout(t *testing.T) {
	rec := &frameRecorder{}
	reg := NewRegistry(RegistryOptions{
		Sender:            rec,
		TogglePolicy:      ToggleSyncFirst,
		ToggleSyncTimeout: 20 * time.Millisecond,
	})
	dev := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")

	start := time.Now()
	if err := dev.Toggle(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Toggle() returned after %v, before the sync timeout", elapsed)
	}
	if got := rec.Last(t); got.Control != ControlLightOn {
		t.Errorf("Toggle() after timeout sent %v, want LightOn", got)
	}
}

func TestToggleSyncFirstCoverPositionReply(t *testing.T) {
	tests := []struct {
		name     string
		position uint8
		want     ControlCode
	}{
		{name: "partly open closes", position: 30, want: ControlCoverA},
		{name: "closed opens", position: 0, want: ControlCoverB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &frameRecorder{}
			reg := NewRegistry(RegistryOptions{TogglePolicy: ToggleSyncFirst, ToggleSyncTimeout: 2 * time.Second})
			dev := newTestDevice(t, reg, 0x1B74C15D, TypeCover, "curtain")

			// A cover between positions answers a Sync with its position only.
			reg.SetSender(SenderFunc(func(f Frame) {
				rec.Send(f)
				if f.Func == FuncSync {
					reg.Dispatch(Frame{Type: TypeCover, Func: FuncPositionUpdated, Address: f.Address}.WithPosition(tt.position))
				}
			}))

			start := time.Now()
			if err := dev.Toggle(); err != nil {
				t.Fatal(err)
			}
			if elapsed := time.Since(start); elapsed >= time.Second {
				t.Errorf("Toggle() took %v, want it to return on the position reply", elapsed)
			}

			frames := rec.Frames()
			if len(frames) != 2 {
				t.Fatalf("sent %d frames, want sync then switch", len(frames))
			}
			if frames[1].Func != FuncSwitch || frames[1].Control != tt.want {
				t.Errorf("second frame = %v, want switch %v", frames[1], tt.want)
			}
		})
	}
}

func TestDeviceUpdate(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	dev := newTestDevice(t, reg, 0x74C15D78, TypeCover, "curtain")

	var calls int
	dev.OnUpdate(func(*Device) { calls++ })
	if dev.OnUpdate(nil) {
		t.Error("OnUpdate(nil) = true")
	}

	steps := []struct {
		name      string
		update    StateUpdate
		wantDirty bool
	}{
		{"first status", StateUpdate{Status: SwitchOn}, true},
		{"same status", StateUpdate{Status: SwitchOn}, false},
		{"empty update", StateUpdate{}, false},
		{"first position", StateUpdate{Position: 30, HasPosition: true}, true},
		{"same position", StateUpdate{Position: 30, HasPosition: true}, false},
		{"new position", StateUpdate{Position: 60, HasPosition: true}, true},
		{"status change", StateUpdate{Status: SwitchOff}, true},
	}

	wantCalls := 0
	for _, step := range steps {
		if got := dev.Update(step.update); got != step.wantDirty {
			t.Errorf("%s: Update() = %v, want %v", step.name, got, step.wantDirty)
		}
		if step.wantDirty {
			wantCalls++
		}
		if calls != wantCalls {
			t.Errorf("%s: observer calls = %d, want %d", step.name, calls, wantCalls)
		}
	}

	if pos, ok := dev.Position(); !ok || pos != 60 {
		t.Errorf("Position() = %d, %v, want 60", pos, ok)
	}
	if !dev.IsClosed() || dev.IsOn() {
		t.Errorf("IsClosed() = %v, IsOn() = %v", dev.IsClosed(), dev.IsOn())
	}
}

func TestDeviceObserverPanicRecovered(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	dev := newTestDevice(t, reg, 0x001E9DFE, TypeLight, "porch")

	var after bool
	dev.OnUpdate(func(*Device) { panic("observer failure") })
	dev.OnUpdate(func(*Device) { after = true })

	if !dev.Update(StateUpdate{Status: SwitchOn}) {
		t.Fatal("Update() = false")
	}
	if !after {
		t.Error("observer after a panicking one was not called")
	}
}

func TestCoverPosition(t *testing.T) {
	tests := []struct {
		name    string
		updates []StateUpdate
		want    uint8
		wantOK  bool
	}{
		{"nothing known", nil, 0, false},
		{"reported position", []StateUpdate{{Position: 42, HasPosition: true}}, 42, true},
		{"switched open", []StateUpdate{{Position: 42, HasPosition: true}, {Status: SwitchOn}}, 100, true},
		{"switched closed", []StateUpdate{{Status: SwitchOff}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _ := NewDevice(0x74C15D78, TypeCover, "curtain")
			for _, u := range tt.updates {
				dev.Update(u)
			}
			got, ok := dev.CoverPosition()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("CoverPosition() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParseTogglePolicy("sync_first"); err != nil || p != ToggleSyncFirst {
		t.Errorf("ParseTogglePolicy(sync_first) = %v, %v", p, err)
	}
	if p, err := ParseTogglePolicy(""); err != nil || p != ToggleTurnOn {
		t.Errorf("ParseTogglePolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParseTogglePolicy("flip"); err == nil {
		t.Error("ParseTogglePolicy(flip) succeeded")
	}

	if p, err := ParseCoverPolarity("Inverted"); err != nil || p != CoverPolarityInverted {
		t.Errorf("ParseCoverPolarity(Inverted) = %v, %v", p, err)
	}
	if _, err := ParseCoverPolarity("sideways"); err == nil {
		t.Error("ParseCoverPolarity(sideways) succeeded")
	}
}
