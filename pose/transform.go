package pose

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Rotation is a row-major 3x3 rotation matrix.
type Rotation [3][3]float64

// Pose is a row-major 4x4 homogeneous transform mapping camera coordinates
// into world coordinates.
type Pose [4][4]float64

// Transform is a rigid 3x4 transform: p' = R*p + T
type Transform struct {
	R Rotation  `json:"rotation"`
	T r3.Vector `json:"translation"`
}

// IdentityRotation returns the 3x3 identity.
func IdentityRotation() Rotation {
	return Rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// IdentityTransform returns a transform that leaves points unchanged.
func IdentityTransform() Transform {
	return Transform{R: IdentityRotation()}
}

// IdentityPose returns the 4x4 identity.
func IdentityPose() Pose {
	return Pose{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Apply rotates a vector.
func (r Rotation) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}

// Mul returns r * o.
func (r Rotation) Mul(o Rotation) Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += r[i][k] * o[k][j]
			}
		}
	}
	return out
}

// Transpose returns r^T, which is the inverse of a proper rotation.
func (r Rotation) Transpose() Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}

// Det returns the determinant of r.
func (r Rotation) Det() float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

// Apply maps a point through the transform.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.R.Apply(p).Add(t.T)
}

// Compose returns the transform equivalent to applying o first, then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		R: t.R.Mul(o.R),
		T: t.R.Apply(o.T).Add(t.T),
	}
}

// Inverse returns the inverse rigid transform.
func (t Transform) Inverse() Transform {
	rt := t.R.Transpose()
	return Transform{R: rt, T: rt.Apply(t.T).Mul(-1)}
}

// Pose embeds the transform into a 4x4 identity.
func (t Transform) Pose() Pose {
	p := IdentityPose()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p[i][j] = t.R[i][j]
		}
	}
	p[0][3] = t.T.X
	p[1][3] = t.T.Y
	p[2][3] = t.T.Z
	return p
}

// Rotation returns the upper-left 3x3 block.
func (p Pose) Rotation() Rotation {
	var r Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = p[i][j]
		}
	}
	return r
}

// Translation returns the last column of the first three rows.
func (p Pose) Translation() r3.Vector {
	return r3.Vector{X: p[0][3], Y: p[1][3], Z: p[2][3]}
}

// Transform returns the rigid transform held in the pose.
func (p Pose) Transform() Transform {
	return Transform{R: p.Rotation(), T: p.Translation()}
}

// ApplyTransform maps every point through t.
func ApplyTransform(points []r3.Vector, t Transform) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// poseTolerance bounds the deviation accepted by ValidatePose.
const poseTolerance = 1e-6

// ValidatePose checks that p is a finite homogeneous rigid transform: the
// bottom row is [0 0 0 1] and the rotation block is a proper rotation.
func ValidatePose(p Pose) error {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(p[i][j]) || math.IsInf(p[i][j], 0) {
				return fmt.Errorf("pose element [%d][%d] is not finite: %w", i, j, ErrInvalidRotation)
			}
		}
	}
	if math.Abs(p[3][0]) > poseTolerance || math.Abs(p[3][1]) > poseTolerance ||
		math.Abs(p[3][2]) > poseTolerance || math.Abs(p[3][3]-1) > poseTolerance {
		return fmt.Errorf("pose bottom row %v is not homogeneous: %w", p[3], ErrInvalidRotation)
	}
	return ValidateRotation(p.Rotation(), poseTolerance)
}
