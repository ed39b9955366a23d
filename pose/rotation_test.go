package pose

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/num/quat"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

// axisAngle builds a rotation of angleDeg degrees about axis.
func axisAngle(axis r3.Vector, angleDeg float64) Rotation {
	axis = axis.Normalize()
	half := angleDeg * math.Pi / 360
	s := math.Sin(half)
	return QuaternionToRotation(quat.Number{Real: math.Cos(half), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s})
}

// randomRotation returns a uniformly distributed rotation.
func randomRotation(rng *rand.Rand) Rotation {
	q := quat.Number{Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64()}
	return QuaternionToRotation(q)
}

func TestRotationToQuaternion_Identity(t *testing.T) {
	q, err := RotationToQuaternion(IdentityRotation())
	if err != nil {
		t.Fatalf("RotationToQuaternion() error = %v", err)
	}
	want := [4]float64{0, 0, 0, 1}
	if diff := cmp.Diff(want, QuaternionXYZW(q), approx); diff != "" {
		t.Errorf("identity quaternion mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationToQuaternion_Branches(t *testing.T) {
	// Each case makes a different quaternion component dominant.
	tests := []struct {
		name  string
		axis  r3.Vector
		angle float64
	}{
		{"w dominant", r3.Vector{X: 1, Y: 2, Z: 3}, 30},
		{"x dominant", r3.Vector{X: 1}, 170},
		{"y dominant", r3.Vector{Y: 1}, 175},
		{"z dominant", r3.Vector{Z: 1}, 180},
		{"mixed near pi", r3.Vector{X: -1, Y: 1, Z: 0.2}, 179},
		{"negative angle", r3.Vector{X: 0.3, Y: -0.5, Z: 1}, -120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := axisAngle(tt.axis, tt.angle)
			q, err := RotationToQuaternion(r)
			if err != nil {
				t.Fatalf("RotationToQuaternion() error = %v", err)
			}
			if n := quat.Abs(q); math.Abs(n-1) > 1e-12 {
				t.Errorf("quaternion norm = %v, want 1", n)
			}
			got := QuaternionToRotation(q)
			if diff := cmp.Diff(r, got, approx); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRotationQuaternionRoundTrip_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		r := randomRotation(rng)
		q, err := RotationToQuaternion(r)
		if err != nil {
			t.Fatalf("iteration %d: RotationToQuaternion() error = %v", i, err)
		}
		got := QuaternionToRotation(q)
		if diff := cmp.Diff(r, got, approx); diff != "" {
			t.Fatalf("iteration %d: round trip mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestQuaternionToRotation_SignInvariant(t *testing.T) {
	q := quat.Number{Real: 0.3, Imag: -0.4, Jmag: 0.5, Kmag: 0.7}
	neg := quat.Scale(-1, q)
	if diff := cmp.Diff(QuaternionToRotation(q), QuaternionToRotation(neg), approx); diff != "" {
		t.Errorf("q and -q differ (-q +(-q)):\n%s", diff)
	}
}

func TestQuaternionToRotation_Zero(t *testing.T) {
	got := QuaternionToRotation(quat.Number{})
	if got != IdentityRotation() {
		t.Errorf("zero quaternion = %v, want identity", got)
	}
}

func TestQuaternionXYZW_RoundTrip(t *testing.T) {
	v := [4]float64{0.1, 0.2, 0.3, 0.9}
	if got := QuaternionXYZW(QuaternionFromXYZW(v)); got != v {
		t.Errorf("QuaternionXYZW(QuaternionFromXYZW(%v)) = %v", v, got)
	}
}

func TestRotationToQuaternion_NaN(t *testing.T) {
	r := IdentityRotation()
	r[1][1] = math.NaN()
	r[0][0] = math.NaN()
	r[2][2] = math.NaN()
	_, err := RotationToQuaternion(r)
	if !errors.Is(err, ErrInvalidRotation) {
		t.Errorf("RotationToQuaternion(NaN) error = %v, want ErrInvalidRotation", err)
	}
}

func TestRotationToEulerAngle(t *testing.T) {
	tests := []struct {
		name string
		r    Rotation
		want EulerAngles
	}{
		{"identity", IdentityRotation(), EulerAngles{}},
		{
			// theta1 = atan2(m12, m22): a matrix with m12 = sin, m22 = cos.
			name: "theta1 only",
			r:    Rotation{{1, 0, 0}, {0, math.Cos(0.5), math.Sin(0.5)}, {0, -math.Sin(0.5), math.Cos(0.5)}},
			want: EulerAngles{Theta1: 0.5 * 180 / math.Pi},
		},
		{
			name: "theta2 only",
			r:    Rotation{{math.Cos(0.3), 0, -math.Sin(0.3)}, {0, 1, 0}, {math.Sin(0.3), 0, math.Cos(0.3)}},
			want: EulerAngles{Theta2: 0.3 * 180 / math.Pi},
		},
		{
			name: "theta3 only",
			r:    Rotation{{math.Cos(0.2), math.Sin(0.2), 0}, {-math.Sin(0.2), math.Cos(0.2), 0}, {0, 0, 1}},
			want: EulerAngles{Theta3: 0.2 * 180 / math.Pi},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RotationToEulerAngle(tt.r)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("RotationToEulerAngle() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPoseDistance_Identity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		p := Transform{R: randomRotation(rng), T: r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}}.Pose()
		angle, dist, err := PoseDistance(p, p)
		if err != nil {
			t.Fatalf("PoseDistance() error = %v", err)
		}
		// acos near 1 amplifies rounding, so allow a small angular slack.
		if angle > 1e-5 || dist != 0 {
			t.Errorf("PoseDistance(p, p) = (%v, %v), want (0, 0)", angle, dist)
		}
	}
}

func TestPoseDistance_Known(t *testing.T) {
	a := IdentityPose()
	b := Transform{R: axisAngle(r3.Vector{Z: 1}, 90), T: r3.Vector{X: 3, Y: 4}}.Pose()

	angle, dist, err := PoseDistance(a, b)
	if err != nil {
		t.Fatalf("PoseDistance() error = %v", err)
	}
	if math.Abs(angle-90) > 1e-9 {
		t.Errorf("angle = %v, want 90", angle)
	}
	if math.Abs(dist-5) > 1e-12 {
		t.Errorf("dist = %v, want 5", dist)
	}

	// Symmetric in its arguments.
	angle2, dist2, err := PoseDistance(b, a)
	if err != nil {
		t.Fatalf("PoseDistance() error = %v", err)
	}
	if math.Abs(angle-angle2) > 1e-12 || math.Abs(dist-dist2) > 1e-12 {
		t.Errorf("PoseDistance not symmetric: (%v,%v) vs (%v,%v)", angle, dist, angle2, dist2)
	}
}

func TestPoseDistance_InvalidRotation(t *testing.T) {
	bad := IdentityPose()
	bad[0][0], bad[1][1], bad[2][2] = math.NaN(), math.NaN(), math.NaN()
	if _, _, err := PoseDistance(IdentityPose(), bad); !errors.Is(err, ErrInvalidRotation) {
		t.Errorf("PoseDistance() error = %v, want ErrInvalidRotation", err)
	}
}
