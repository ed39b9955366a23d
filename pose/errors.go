package pose

import "errors"

var (
	// ErrInsufficientData is returned when fewer correspondences than
	// EstimatorConfig.MinPoints are supplied.
	ErrInsufficientData = errors.New("insufficient correspondences")

	// ErrDegenerateSample is returned by the rigid fitter when the sample
	// cannot determine a unique rotation (too few or collinear points), and by
	// the estimator when no hypothesis could be generated at all.
	ErrDegenerateSample = errors.New("degenerate sample")

	// ErrInvalidRotation is returned when a matrix is not a proper rotation
	// (non-finite entries, not orthonormal, or a reflection).
	ErrInvalidRotation = errors.New("invalid rotation matrix")

	// ErrInvalidInput signals a contract violation by the caller, such as
	// mismatched array lengths or a point with no candidates.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig signals unusable estimator parameters.
	ErrInvalidConfig = errors.New("invalid estimator config")
)
