package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-terrain/common"
	"github.com/go-gl/mathgl/mgl32"
)

const eps = 1e-4

func TestNewCameraWithoutController(t *testing.T) {
	c := NewCamera()
	if c.Controller() != nil {
		t.Error("expected no controller")
	}
	if !c.ViewProjection().ApproxEqual(mgl32.Ident4()) {
		t.Errorf("expected identity view-projection, got %v", c.ViewProjection())
	}
	c.Update()
	if c.Position() != (mgl32.Vec3{}) {
		t.Errorf("expected zero position, got %v", c.Position())
	}
}

func TestViewProjectionMatchesController(t *testing.T) {
	ctrl := NewCameraController(
		WithPosition(mgl32.Vec3{10, 50, 80}),
		WithLookAt(mgl32.Vec3{64, 0, 64}),
	)
	c := NewCamera(WithController(ctrl), WithFov(1), WithAspect(2), WithNear(0.5), WithFar(900))

	want := common.PerspectiveZO(1, 2, 0.5, 900).Mul4(mgl32.LookAtV(ctrl.Position(), ctrl.Target(), mgl32.Vec3{0, 1, 0}))
	if !c.ViewProjection().ApproxEqualThreshold(want, eps) {
		t.Errorf("expected %v, got %v", want, c.ViewProjection())
	}
	if c.Position() != (mgl32.Vec3{10, 50, 80}) {
		t.Errorf("expected eye {10 50 80}, got %v", c.Position())
	}

	// the target point must project to the centre of the screen
	clip := c.ViewProjection().Mul4x1(mgl32.Vec4{64, 0, 64, 1})
	if math.Abs(float64(clip.X()/clip.W())) > eps || math.Abs(float64(clip.Y()/clip.W())) > eps {
		t.Errorf("expected look-at point at screen centre, got ndc %v", clip.Vec3().Mul(1/clip.W()))
	}
	if z := clip.Z() / clip.W(); z < 0 || z > 1 {
		t.Errorf("expected depth in [0, 1], got %f", z)
	}
}

func TestUpdateFollowsController(t *testing.T) {
	ctrl := NewCameraController(WithPosition(mgl32.Vec3{0, 10, 0}), WithYawPitch(0, 0), WithSpeed(10))
	c := NewCamera(WithController(ctrl))
	before := c.ViewProjection()

	ctrl.MoveForward(1)
	if c.Position() != (mgl32.Vec3{0, 10, 0}) {
		t.Error("expected camera position unchanged before Update")
	}
	c.Update()
	if !c.Position().ApproxEqualThreshold(mgl32.Vec3{0, 10, -10}, eps) {
		t.Errorf("expected {0 10 -10}, got %v", c.Position())
	}
	if c.ViewProjection().ApproxEqual(before) {
		t.Error("expected view-projection to change after Update")
	}
}

func TestSettersRecompute(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()))
	before := c.ProjectionMatrix()
	c.SetFov(0.5)
	c.SetAspect(1)
	c.SetNear(1)
	c.SetFar(100)
	if c.Fov() != 0.5 || c.Aspect() != 1 || c.Near() != 1 || c.Far() != 100 {
		t.Error("expected setters to store their values")
	}
	if c.ProjectionMatrix().ApproxEqual(before) {
		t.Error("expected projection to change")
	}
	if !c.ProjectionMatrix().ApproxEqualThreshold(common.PerspectiveZO(0.5, 1, 1, 100), eps) {
		t.Error("expected projection to match the new settings")
	}
}

func TestControllerMovement(t *testing.T) {
	tests := []struct {
		name string
		yaw  float32
		move func(CameraController)
		want mgl32.Vec3
	}{
		{"forward", 0, func(c CameraController) { c.MoveForward(1) }, mgl32.Vec3{0, 0, -2}},
		{"backward", 0, func(c CameraController) { c.MoveForward(-1) }, mgl32.Vec3{0, 0, 2}},
		{"right", 0, func(c CameraController) { c.MoveRight(1) }, mgl32.Vec3{2, 0, 0}},
		{"right turned", math.Pi / 2, func(c CameraController) { c.MoveRight(1) }, mgl32.Vec3{0, 0, 2}},
		{"forward turned", math.Pi / 2, func(c CameraController) { c.MoveForward(1) }, mgl32.Vec3{2, 0, 0}},
		{"up", 0, func(c CameraController) { c.MoveUp(1.5) }, mgl32.Vec3{0, 3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCameraController(WithPosition(mgl32.Vec3{}), WithYawPitch(tt.yaw, 0), WithSpeed(2))
			tt.move(c)
			if !c.Position().ApproxEqualThreshold(tt.want, eps) {
				t.Errorf("expected %v, got %v", tt.want, c.Position())
			}
		})
	}
}

func TestLookClampsPitch(t *testing.T) {
	c := NewCameraController(WithYawPitch(0, 0), WithMouseSensitivity(0.01), WithPitchLimit(1))
	c.Look(0, -1000)
	if c.Pitch() != 1 {
		t.Errorf("expected pitch clamped to 1, got %f", c.Pitch())
	}
	c.Look(0, 1000)
	if c.Pitch() != -1 {
		t.Errorf("expected pitch clamped to -1, got %f", c.Pitch())
	}
	c.Look(50, 0)
	if math.Abs(float64(c.Yaw()-0.5)) > eps {
		t.Errorf("expected yaw 0.5, got %f", c.Yaw())
	}
}

func TestLookAtRoundTrip(t *testing.T) {
	c := NewCameraController(WithPosition(mgl32.Vec3{1, 2, 3}))
	target := mgl32.Vec3{20, -5, -40}
	c.LookAt(target)
	want := target.Sub(mgl32.Vec3{1, 2, 3}).Normalize()
	if !c.Forward().ApproxEqualThreshold(want, eps) {
		t.Errorf("expected forward %v, got %v", want, c.Forward())
	}
	if !c.Target().Sub(c.Position()).ApproxEqualThreshold(want, eps) {
		t.Error("expected target one unit along forward")
	}

	// looking at the eye itself keeps the previous direction
	before := c.Forward()
	c.LookAt(c.Position())
	if !c.Forward().ApproxEqual(before) {
		t.Error("expected degenerate LookAt to be ignored")
	}
}

func TestAdjustSpeed(t *testing.T) {
	c := NewCameraController(WithSpeed(10), WithSpeedBounds(5, 20))
	c.AdjustSpeed(1)
	if math.Abs(float64(c.Speed()-12.5)) > eps {
		t.Errorf("expected 12.5, got %f", c.Speed())
	}
	c.AdjustSpeed(10)
	if c.Speed() != 20 {
		t.Errorf("expected speed clamped to 20, got %f", c.Speed())
	}
	c.AdjustSpeed(-20)
	if c.Speed() != 5 {
		t.Errorf("expected speed clamped to 5, got %f", c.Speed())
	}
	if got := NewCameraController(WithSpeed(100), WithSpeedBounds(1, 10)).Speed(); got != 10 {
		t.Errorf("expected initial speed clamped to 10, got %f", got)
	}
}

func TestFlyInput(t *testing.T) {
	ctrl := NewCameraController(WithPosition(mgl32.Vec3{}), WithYawPitch(0, 0), WithSpeed(10), WithMouseSensitivity(0.01))
	in := NewFlyInput()

	if in.Apply(ctrl, 1) {
		t.Error("expected no movement without input")
	}

	in.KeyDown(common.KeyW)
	in.KeyDown(common.KeyD)
	in.KeyDown(common.KeyE)
	if !in.Apply(ctrl, 0.5) {
		t.Error("expected movement")
	}
	if !ctrl.Position().ApproxEqualThreshold(mgl32.Vec3{5, 5, -5}, eps) {
		t.Errorf("expected {5 5 -5}, got %v", ctrl.Position())
	}

	// opposing keys cancel
	in.KeyDown(common.KeyS)
	in.KeyDown(common.KeyA)
	in.KeyDown(common.KeyQ)
	if in.Apply(ctrl, 1) {
		t.Error("expected opposing keys to cancel")
	}

	in.KeyUp(common.KeyS)
	in.KeyUp(common.KeyA)
	in.KeyUp(common.KeyQ)
	in.KeyUp(common.KeyD)
	in.KeyUp(common.KeyE)
	in.KeyDown(common.KeyLeftShift)
	ctrl.SetPosition(mgl32.Vec3{})
	in.Apply(ctrl, 0.5)
	if !ctrl.Position().ApproxEqualThreshold(mgl32.Vec3{0, 0, -20}, eps) {
		t.Errorf("expected sprint to {0 0 -20}, got %v", ctrl.Position())
	}
	in.KeyUp(common.KeyW)
	in.KeyUp(common.KeyLeftShift)

	// cursor motion only turns while dragging
	in.MouseMove(100, 100)
	in.MouseMove(150, 100)
	if in.Apply(ctrl, 1) {
		t.Error("expected no look without drag")
	}
	in.BeginDrag(150, 100)
	in.MouseMove(200, 90)
	in.EndDrag(200, 90)
	in.Apply(ctrl, 1)
	if math.Abs(float64(ctrl.Yaw()-0.5)) > eps || math.Abs(float64(ctrl.Pitch()-0.1)) > eps {
		t.Errorf("expected yaw 0.5 pitch 0.1, got %f %f", ctrl.Yaw(), ctrl.Pitch())
	}

	in.Scroll(1)
	in.Apply(ctrl, 1)
	if math.Abs(float64(ctrl.Speed()-12.5)) > eps {
		t.Errorf("expected scroll to raise speed to 12.5, got %f", ctrl.Speed())
	}
}
