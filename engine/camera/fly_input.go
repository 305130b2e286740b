package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-terrain/common"
)

// FlyInput turns window key and mouse callbacks into controller movement. Keys are held
// state; Apply integrates them over the frame time. WASD moves, E and Q rise and sink, shift
// sprints and a middle-button drag looks around.
type FlyInput struct {
	mu sync.Mutex

	held map[uint32]bool

	dragging   bool
	lastX      int32
	lastY      int32
	lookDX     float32
	lookDY     float32
	scroll     float32
	sprintMult float32
}

// NewFlyInput returns an input tracker with a 4x sprint multiplier.
func NewFlyInput() *FlyInput {
	return &FlyInput{
		held:       make(map[uint32]bool),
		sprintMult: 4,
	}
}

// KeyDown records a pressed key. Wire it to the window's key-down callback.
func (in *FlyInput) KeyDown(key uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.held[key] = true
}

// KeyUp records a released key.
func (in *FlyInput) KeyUp(key uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.held, key)
}

// BeginDrag starts mouse look at the cursor position.
func (in *FlyInput) BeginDrag(x, y int32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.dragging = true
	in.lastX, in.lastY = x, y
}

// EndDrag stops mouse look.
func (in *FlyInput) EndDrag(_, _ int32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.dragging = false
}

// MouseMove accumulates cursor movement while dragging.
func (in *FlyInput) MouseMove(x, y int32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.dragging {
		in.lookDX += float32(x - in.lastX)
		in.lookDY += float32(y - in.lastY)
	}
	in.lastX, in.lastY = x, y
}

// Scroll accumulates wheel steps for a speed change.
func (in *FlyInput) Scroll(delta float32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.scroll += delta
}

// Apply moves the controller by the input gathered since the last call.
//
// Parameters:
//   - ctrl: the controller to drive
//   - dt: frame time in seconds
//
// Returns:
//   - bool: true if the controller changed
func (in *FlyInput) Apply(ctrl CameraController, dt float32) bool {
	in.mu.Lock()
	forward := in.axis(common.KeyW, common.KeyS)
	right := in.axis(common.KeyD, common.KeyA)
	up := in.axis(common.KeyE, common.KeyQ)
	sprint := in.held[common.KeyLeftShift] || in.held[common.KeyRightShift]
	dx, dy, scroll := in.lookDX, in.lookDY, in.scroll
	in.lookDX, in.lookDY, in.scroll = 0, 0, 0
	in.mu.Unlock()

	step := dt
	if sprint {
		step *= in.sprintMult
	}
	moved := false
	if scroll != 0 {
		ctrl.AdjustSpeed(scroll)
	}
	if dx != 0 || dy != 0 {
		ctrl.Look(dx, dy)
		moved = true
	}
	if forward != 0 {
		ctrl.MoveForward(forward * step)
		moved = true
	}
	if right != 0 {
		ctrl.MoveRight(right * step)
		moved = true
	}
	if up != 0 {
		ctrl.MoveUp(up * step)
		moved = true
	}
	return moved
}

// axis returns +1, -1 or 0 for a pair of opposing keys. Caller must hold the mutex.
func (in *FlyInput) axis(pos, neg uint32) float32 {
	var v float32
	if in.held[pos] {
		v++
	}
	if in.held[neg] {
		v--
	}
	return v
}
