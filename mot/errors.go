package mot

import "github.com/pkg/errors"

var (
	// ErrFeatureDimension is returned when appearance vectors of different length meet in one session
	ErrFeatureDimension = errors.New("feature dimension mismatch")
	// ErrInvalidDetection is returned for detections with degenerate or non-finite boxes
	ErrInvalidDetection = errors.New("invalid detection")
	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("invalid config")
	// ErrFactorization is returned when covariance can't be factorized even after regularization
	ErrFactorization = errors.New("covariance factorization failed")
)
