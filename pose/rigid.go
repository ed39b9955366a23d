package pose

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the relative singular-value cutoff below which a
// cross-covariance direction is treated as unconstrained.
const rankTolerance = 1e-10

// FitRigidTransform computes the least-squares rigid transform (rotation +
// translation, no scale) mapping src[i] onto dst[i] using the Kabsch method.
//
// The returned rotation is always proper (det = +1); reflections produced by
// the SVD are corrected. At least three non-collinear pairs are required,
// otherwise ErrDegenerateSample is returned.
func FitRigidTransform(src, dst []r3.Vector) (Transform, error) {
	if len(src) != len(dst) {
		return Transform{}, fmt.Errorf("fit rigid transform: %d source vs %d target points: %w", len(src), len(dst), ErrInvalidInput)
	}
	if len(src) < 3 {
		return Transform{}, fmt.Errorf("fit rigid transform: need 3 points, got %d: %w", len(src), ErrDegenerateSample)
	}

	srcCentroid := Centroid(src)
	dstCentroid := Centroid(dst)

	// Cross-covariance H = sum (s - cs)(d - cd)^T
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCentroid)
		d := dst[i].Sub(dstCentroid)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Transform{}, fmt.Errorf("fit rigid transform: SVD did not converge: %w", ErrDegenerateSample)
	}
	// Collinear or coincident samples leave the rotation about their common
	// axis undetermined.
	if svd.Rank(rankTolerance) < 2 {
		return Transform{}, fmt.Errorf("fit rigid transform: rank-deficient sample: %w", ErrDegenerateSample)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rot := properRotation(&u, &v)
	if err := ValidateRotation(rot, 1e-6); err != nil {
		return Transform{}, fmt.Errorf("fit rigid transform: %w", err)
	}

	t := dstCentroid.Sub(rot.Apply(srcCentroid))
	return Transform{R: rot, T: t}, nil
}

// properRotation returns V * diag(1, 1, d) * U^T with d chosen so the result
// has determinant +1.
func properRotation(u, v *mat.Dense) Rotation {
	var vut mat.Dense
	vut.Mul(v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})

	var tmp, r mat.Dense
	tmp.Mul(v, diag)
	r.Mul(&tmp, u.T())

	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out
}

// Orthonormalize projects an approximately orthonormal matrix onto the
// nearest proper rotation (polar decomposition via SVD). Matrices that
// drifted through serialization or accumulated float error are repaired;
// non-finite or rank-deficient input returns ErrInvalidRotation.
func Orthonormalize(r Rotation) (Rotation, error) {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(r[i][j]) || math.IsInf(r[i][j], 0) {
				return Rotation{}, fmt.Errorf("orthonormalize: element [%d][%d] not finite: %w", i, j, ErrInvalidRotation)
			}
			m.Set(i, j, r[i][j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok || svd.Rank(rankTolerance) < 3 {
		return Rotation{}, fmt.Errorf("orthonormalize: singular matrix: %w", ErrInvalidRotation)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// For M = U S V^T the nearest rotation is U diag(1,1,d) V^T, which is
	// properRotation with the roles of U and V swapped.
	return properRotation(&v, &u), nil
}

// ValidateRotation reports whether r is a proper rotation within tol:
// finite entries, R^T R = I and det(R) = +1.
func ValidateRotation(r Rotation, tol float64) error {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(r[i][j]) || math.IsInf(r[i][j], 0) {
				return fmt.Errorf("rotation element [%d][%d] not finite: %w", i, j, ErrInvalidRotation)
			}
		}
	}
	rtr := r.Transpose().Mul(r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rtr[i][j]-want) > tol {
				return fmt.Errorf("rotation is not orthonormal (R^T R [%d][%d] = %g): %w", i, j, rtr[i][j], ErrInvalidRotation)
			}
		}
	}
	if det := r.Det(); math.Abs(det-1) > tol {
		return fmt.Errorf("rotation determinant %g != 1: %w", det, ErrInvalidRotation)
	}
	return nil
}

// Centroid returns the mean of the points, or the zero vector for an empty slice.
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}
