package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraController defines the interface for camera control systems.
// Controllers own positional state (position, look direction). Camera reads from the
// controller and computes view/projection matrices. The terrain viewer uses a free-fly
// controller: yaw and pitch steer the look direction, translation follows it.
type CameraController interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - mgl32.Vec3: world-space camera position
	Position() mgl32.Vec3

	// Target returns a point one unit ahead of the camera along its look direction.
	//
	// Returns:
	//   - mgl32.Vec3: world-space look-at point
	Target() mgl32.Vec3

	// Forward returns the unit look direction.
	//
	// Returns:
	//   - mgl32.Vec3: the look direction
	Forward() mgl32.Vec3

	// SetPosition sets the camera's world-space position directly.
	//
	// Parameters:
	//   - p: world-space coordinates
	SetPosition(p mgl32.Vec3)

	// LookAt turns the camera to face a world-space point. Pitch is clamped to the controller's
	// limit.
	//
	// Parameters:
	//   - target: the point to face
	LookAt(target mgl32.Vec3)

	// Yaw returns the heading around +y in radians. Yaw 0 looks down -z.
	//
	// Returns:
	//   - float32: yaw in radians
	Yaw() float32

	// Pitch returns the angle above the horizon in radians.
	//
	// Returns:
	//   - float32: pitch in radians
	Pitch() float32

	// Look turns the camera by a mouse delta scaled by the mouse sensitivity. Positive dx turns
	// right, positive dy looks down (screen space).
	//
	// Parameters:
	//   - dx, dy: cursor movement in pixels
	Look(dx, dy float32)

	// MoveForward translates the camera along its look direction.
	//
	// Parameters:
	//   - delta: distance in units of Speed
	MoveForward(delta float32)

	// MoveRight translates the camera along its horizontal right axis.
	//
	// Parameters:
	//   - delta: distance in units of Speed
	MoveRight(delta float32)

	// MoveUp translates the camera along world +y.
	//
	// Parameters:
	//   - delta: distance in units of Speed
	MoveUp(delta float32)

	// Speed returns the translation speed in world units per second.
	//
	// Returns:
	//   - float32: the speed
	Speed() float32

	// AdjustSpeed scales the speed by 1.25^steps, clamped to the speed bounds. Scroll wheel
	// input drives it.
	//
	// Parameters:
	//   - steps: scroll steps, positive speeds up
	AdjustSpeed(steps float32)
}
