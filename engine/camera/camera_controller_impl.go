package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-terrain/common"
	"github.com/go-gl/mathgl/mgl32"
)

// cameraControllerImpl is the free-fly implementation of CameraController.
type cameraControllerImpl struct {
	mu *sync.Mutex

	position mgl32.Vec3
	yaw      float32
	pitch    float32
	lookAt   *mgl32.Vec3

	pitchLimit float32

	speed            float32
	minSpeed         float32
	maxSpeed         float32
	mouseSensitivity float32
}

// Compile-time interface compliance check
var _ CameraController = &cameraControllerImpl{}

// NewCameraController creates a new free-fly controller with sensible defaults.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - CameraController: the newly created controller
func NewCameraController(options ...CameraControllerOption) CameraController {
	cc := &cameraControllerImpl{
		mu:       &sync.Mutex{},
		position: mgl32.Vec3{0, 100, 0},
		pitch:    -0.3,

		pitchLimit: float32(math.Pi/2 - 0.05),

		speed:            50.0,
		minSpeed:         1.0,
		maxSpeed:         5000.0,
		mouseSensitivity: 0.003,
	}

	for _, option := range options {
		option(cc)
	}

	if cc.lookAt != nil {
		cc.faceLocked(*cc.lookAt)
		cc.lookAt = nil
	}
	cc.pitch = common.Clamp(cc.pitch, -cc.pitchLimit, cc.pitchLimit)
	cc.speed = common.Clamp(cc.speed, cc.minSpeed, cc.maxSpeed)
	return cc
}

// faceLocked sets yaw and pitch towards target. Caller must hold the mutex.
func (cc *cameraControllerImpl) faceLocked(target mgl32.Vec3) {
	d := target.Sub(cc.position)
	if d.Len() < 1e-6 {
		return
	}
	d = d.Normalize()
	cc.yaw = float32(math.Atan2(float64(d.X()), float64(-d.Z())))
	cc.pitch = common.Clamp(float32(math.Asin(float64(d.Y()))), -cc.pitchLimit, cc.pitchLimit)
}

// forwardLocked returns the look direction. Caller must hold the mutex.
func (cc *cameraControllerImpl) forwardLocked() mgl32.Vec3 {
	return common.DirectionFromYawPitch(cc.yaw, cc.pitch)
}

func (cc *cameraControllerImpl) Position() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position
}

func (cc *cameraControllerImpl) Target() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position.Add(cc.forwardLocked())
}

func (cc *cameraControllerImpl) Forward() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.forwardLocked()
}

func (cc *cameraControllerImpl) SetPosition(p mgl32.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.position = p
}

func (cc *cameraControllerImpl) LookAt(target mgl32.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.faceLocked(target)
}

func (cc *cameraControllerImpl) Yaw() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.yaw
}

func (cc *cameraControllerImpl) Pitch() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.pitch
}

func (cc *cameraControllerImpl) Look(dx, dy float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.yaw += dx * cc.mouseSensitivity
	cc.pitch = common.Clamp(cc.pitch-dy*cc.mouseSensitivity, -cc.pitchLimit, cc.pitchLimit)
}

func (cc *cameraControllerImpl) MoveForward(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.position = cc.position.Add(cc.forwardLocked().Mul(delta * cc.speed))
}

func (cc *cameraControllerImpl) MoveRight(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	// right of a -z heading is +x; rotate with yaw, ignoring pitch
	sy, cy := math.Sincos(float64(cc.yaw))
	right := mgl32.Vec3{float32(cy), 0, float32(sy)}
	cc.position = cc.position.Add(right.Mul(delta * cc.speed))
}

func (cc *cameraControllerImpl) MoveUp(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.position[1] += delta * cc.speed
}

func (cc *cameraControllerImpl) Speed() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.speed
}

func (cc *cameraControllerImpl) AdjustSpeed(steps float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	scale := float32(math.Pow(1.25, float64(steps)))
	cc.speed = common.Clamp(cc.speed*scale, cc.minSpeed, cc.maxSpeed)
}
