package common

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane is n·p + d = 0 with the inside of the frustum on the positive side.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// Frustum holds the six planes of a view frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts the frustum planes of a view-projection matrix with the WebGPU
// clip-space depth range [0, w] (Gribb/Hartmann). The near plane is therefore row 2 alone
// rather than row 3 + row 2.
//
// Parameters:
//   - viewProj: the combined projection * view matrix
//
// Returns:
//   - Frustum: the frustum with normalised planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)
	rows := [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r2,
		r3.Sub(r2),
	}

	var f Frustum
	for i, r := range rows {
		n := r.Vec3()
		l := n.Len()
		if l == 0 {
			f.Planes[i] = Plane{Normal: n, Distance: r[3]}
			continue
		}
		f.Planes[i] = Plane{Normal: n.Mul(1 / l), Distance: r[3] / l}
	}
	return f
}

// GPUPlanes packs the planes as vec4 (xyz normal, w distance) in frustum order.
func (f Frustum) GPUPlanes() [6][4]float32 {
	var out [6][4]float32
	for i, p := range f.Planes {
		out[i] = [4]float32{p.Normal[0], p.Normal[1], p.Normal[2], p.Distance}
	}
	return out
}

// ContainsPoint reports whether p lies inside or on every plane.
func (f Frustum) ContainsPoint(p mgl32.Vec3) bool {
	for _, pl := range f.Planes {
		if pl.Normal.Dot(p)+pl.Distance < 0 {
			return false
		}
	}
	return true
}
