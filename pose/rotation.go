package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// EulerAngles are rotation angles in degrees about the x, y and z axes.
type EulerAngles struct {
	Theta1 float64 `json:"theta1"`
	Theta2 float64 `json:"theta2"`
	Theta3 float64 `json:"theta3"`
}

const radToDeg = 180 / math.Pi

// sign returns +1 for non-negative values and -1 otherwise.
func sign(x float64) float64 {
	if x >= 0 {
		return 1
	}
	return -1
}

// RotationToQuaternion converts a rotation matrix to a unit quaternion.
//
// The component with the largest magnitude is recovered from the diagonal and
// the signs of the other three are taken from the off-diagonal terms, which
// keeps the conversion stable near 180 degree rotations. Matrices with
// non-finite entries return ErrInvalidRotation.
func RotationToQuaternion(r Rotation) (quat.Number, error) {
	r11, r12, r13 := r[0][0], r[0][1], r[0][2]
	r21, r22, r23 := r[1][0], r[1][1], r[1][2]
	r31, r32, r33 := r[2][0], r[2][1], r[2][2]

	w := (r11 + r22 + r33 + 1) / 4
	x := (r11 - r22 - r33 + 1) / 4
	y := (-r11 + r22 - r33 + 1) / 4
	z := (-r11 - r22 + r33 + 1) / 4

	w = math.Sqrt(math.Max(w, 0))
	x = math.Sqrt(math.Max(x, 0))
	y = math.Sqrt(math.Max(y, 0))
	z = math.Sqrt(math.Max(z, 0))

	switch {
	case w >= x && w >= y && w >= z:
		x *= sign(r32 - r23)
		y *= sign(r13 - r31)
		z *= sign(r21 - r12)
	case x >= w && x >= y && x >= z:
		w *= sign(r32 - r23)
		y *= sign(r21 + r12)
		z *= sign(r13 + r31)
	case y >= w && y >= x && y >= z:
		w *= sign(r13 - r31)
		x *= sign(r21 + r12)
		z *= sign(r32 + r23)
	case z >= w && z >= x && z >= y:
		w *= sign(r21 - r12)
		x *= sign(r31 + r13)
		y *= sign(r32 + r23)
	default:
		return quat.Number{}, fmt.Errorf("rotation to quaternion: no dominant component in %v: %w", r, ErrInvalidRotation)
	}

	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, fmt.Errorf("rotation to quaternion: norm %g: %w", n, ErrInvalidRotation)
	}
	return quat.Scale(1/n, q), nil
}

// QuaternionToRotation converts a quaternion to a rotation matrix. The input
// is normalized first; q and -q yield the same matrix. A zero quaternion maps
// to the identity.
func QuaternionToRotation(q quat.Number) Rotation {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityRotation()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return Rotation{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// QuaternionXYZW returns q as an (x, y, z, w) 4-vector.
func QuaternionXYZW(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// QuaternionFromXYZW builds a quaternion from an (x, y, z, w) 4-vector.
func QuaternionFromXYZW(v [4]float64) quat.Number {
	return quat.Number{Real: v[3], Imag: v[0], Jmag: v[1], Kmag: v[2]}
}

// RotationToEulerAngle extracts x-y-z Euler angles in degrees.
//
// Near gimbal lock (theta2 = +/-90 degrees) theta1 and theta3 are coupled and
// the split between them is not unique.
func RotationToEulerAngle(r Rotation) EulerAngles {
	theta1 := math.Atan2(r[1][2], r[2][2])
	c2 := math.Sqrt(r[0][0]*r[0][0] + r[0][1]*r[0][1])
	theta2 := math.Atan2(-r[0][2], c2)
	s1, c1 := math.Sin(theta1), math.Cos(theta1)
	theta3 := math.Atan2(s1*r[2][0]-c1*r[1][0], c1*r[1][1]-s1*r[2][1])

	return EulerAngles{
		Theta1: theta1 * radToDeg,
		Theta2: theta2 * radToDeg,
		Theta3: theta3 * radToDeg,
	}
}

// PoseDistance returns the angular difference in degrees between the two
// poses' rotations and the Euclidean distance between their translations.
func PoseDistance(src, dst Pose) (angleDeg, dist float64, err error) {
	q1, err := RotationToQuaternion(src.Rotation())
	if err != nil {
		return 0, 0, fmt.Errorf("pose distance: source: %w", err)
	}
	q2, err := RotationToQuaternion(dst.Rotation())
	if err != nil {
		return 0, 0, fmt.Errorf("pose distance: target: %w", err)
	}

	dot := math.Abs(q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag)
	if dot > 1 {
		dot = 1
	}
	angleDeg = 2 * math.Acos(dot) * radToDeg
	dist = src.Translation().Distance(dst.Translation())
	return angleDeg, dist, nil
}
