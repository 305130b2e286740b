package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraControllerOption is a functional option for configuring a CameraController.
type CameraControllerOption func(*cameraControllerImpl)

// WithPosition sets the initial eye position.
//
// Parameters:
//   - p: world-space eye position
//
// Returns:
//   - CameraControllerOption: functional option to set the position
func WithPosition(p mgl32.Vec3) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.position = p
	}
}

// WithYawPitch sets the initial look direction.
//
// Parameters:
//   - yaw: heading in radians (0 = -z)
//   - pitch: angle above the horizon in radians
//
// Returns:
//   - CameraControllerOption: functional option to set the look direction
func WithYawPitch(yaw, pitch float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.yaw = yaw
		cc.pitch = pitch
	}
}

// WithLookAt faces the controller towards a point after every other option is applied.
//
// Parameters:
//   - target: the point to face
//
// Returns:
//   - CameraControllerOption: functional option to set the look direction
func WithLookAt(target mgl32.Vec3) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		t := target
		cc.lookAt = &t
	}
}

// WithPitchLimit sets the largest pitch magnitude, keeping the view away from the poles.
//
// Parameters:
//   - limit: maximum |pitch| in radians
//
// Returns:
//   - CameraControllerOption: functional option to set the pitch limit
func WithPitchLimit(limit float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.pitchLimit = limit
	}
}

// WithSpeed sets the translation speed in world units per second.
func WithSpeed(speed float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.speed = speed
	}
}

// WithSpeedBounds sets the range AdjustSpeed clamps to.
//
// Parameters:
//   - min: slowest speed
//   - max: fastest speed
//
// Returns:
//   - CameraControllerOption: functional option to set speed bounds
func WithSpeedBounds(min, max float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.minSpeed = min
		cc.maxSpeed = max
	}
}

// WithMouseSensitivity sets the radians turned per pixel of mouse movement.
func WithMouseSensitivity(sensitivity float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.mouseSensitivity = sensitivity
	}
}
