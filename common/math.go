package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// depthZeroToOne remaps OpenGL clip depth [-w, w] to the WebGPU range [0, w].
var depthZeroToOne = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// PerspectiveZO returns a right-handed perspective projection with a [0, 1] depth range.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: width / height
//   - near, far: clip distances
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func PerspectiveZO(fovY, aspect, near, far float32) mgl32.Mat4 {
	return depthZeroToOne.Mul4(mgl32.Perspective(fovY, aspect, near, far))
}

// DirectionFromYawPitch returns the unit forward vector for a yaw around +y and a pitch
// above the horizon, both in radians. Yaw 0 looks down -z.
func DirectionFromYawPitch(yaw, pitch float32) mgl32.Vec3 {
	cy, sy := float32(math.Cos(float64(yaw))), float32(math.Sin(float64(yaw)))
	cp, sp := float32(math.Cos(float64(pitch))), float32(math.Sin(float64(pitch)))
	return mgl32.Vec3{sy * cp, sp, -cy * cp}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
