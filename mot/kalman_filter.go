package mot

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// ndim is size of measurement space: center x, center y, aspect ratio, height
	ndim = 4

	defaultStdWeightPosition = 1.0 / 20.0
	defaultStdWeightVelocity = 1.0 / 160.0

	// Eigenvalue floor used when covariance lost positive definiteness.
	// Relative to the largest eigenvalue, but never below absolute floor.
	minRelativeEigenvalue = 1e-10
	minAbsoluteEigenvalue = 1e-12
)

// chiSquare95 keeps 0.95 quantile of the chi-square distribution for 1..9 degrees of freedom.
// Index is number of degrees of freedom.
var chiSquare95 = [...]float64{
	0,
	3.8415,
	5.9915,
	7.8147,
	9.4877,
	11.070,
	12.592,
	14.067,
	15.507,
	16.919,
}

// ChiSquare95 returns 0.95 quantile of the chi-square distribution for given degrees of freedom.
// Used as gating threshold for squared Mahalanobis distance. Returns +Inf for unsupported dof.
func ChiSquare95(dof int) float64 {
	if dof <= 0 || dof >= len(chiSquare95) {
		return math.Inf(1)
	}
	return chiSquare95[dof]
}

// KalmanFilter is a constant velocity Kalman filter for tracking bounding boxes in image space.
// The 8-D state space [cx, cy, a, h, vx, vy, va, vh] contains the bounding box center (cx, cy),
// aspect ratio a = w/h, height h and their respective velocities.
// Measurement is a direct observation of (cx, cy, a, h).
//
// The filter keeps no per-object state: mean and covariance are owned by caller (Track)
// and passed in on each call. Uncertainty is scaled by object height.
type KalmanFilter struct {
	motionMat         *mat.Dense
	updateMat         *mat.Dense
	stdWeightPosition float64
	stdWeightVelocity float64
	regularizations   uint64
}

// NewKalmanFilter creates filter with default noise weights (1/20 for position, 1/160 for velocity).
func NewKalmanFilter() *KalmanFilter {
	return NewKalmanFilterWithWeights(defaultStdWeightPosition, defaultStdWeightVelocity)
}

// NewKalmanFilterWithWeights creates filter with given noise weights relative to object height.
func NewKalmanFilterWithWeights(stdWeightPosition, stdWeightVelocity float64) *KalmanFilter {
	dt := 1.0
	motionMat := mat.NewDense(2*ndim, 2*ndim, nil)
	for i := 0; i < 2*ndim; i++ {
		motionMat.Set(i, i, 1.0)
	}
	for i := 0; i < ndim; i++ {
		motionMat.Set(i, ndim+i, dt)
	}
	updateMat := mat.NewDense(ndim, 2*ndim, nil)
	for i := 0; i < ndim; i++ {
		updateMat.Set(i, i, 1.0)
	}
	return &KalmanFilter{
		motionMat:         motionMat,
		updateMat:         updateMat,
		stdWeightPosition: stdWeightPosition,
		stdWeightVelocity: stdWeightVelocity,
	}
}

// Regularizations returns how many times a covariance had to be repaired since filter creation.
func (kf *KalmanFilter) Regularizations() uint64 {
	return kf.regularizations
}

// Initiate creates track state from unassociated measurement (cx, cy, a, h).
// Velocities are initialized to zero.
func (kf *KalmanFilter) Initiate(measurement [4]float64) (*mat.VecDense, *mat.SymDense) {
	mean := mat.NewVecDense(2*ndim, nil)
	for i := 0; i < ndim; i++ {
		mean.SetVec(i, measurement[i])
	}
	h := measurement[3]
	std := []float64{
		2 * kf.stdWeightPosition * h,
		2 * kf.stdWeightPosition * h,
		1e-2,
		2 * kf.stdWeightPosition * h,
		10 * kf.stdWeightVelocity * h,
		10 * kf.stdWeightVelocity * h,
		1e-5,
		10 * kf.stdWeightVelocity * h,
	}
	return mean, diagSquared(std)
}

// Predict runs prediction step: mean' = F*mean, cov' = F*cov*F^T + Q
func (kf *KalmanFilter) Predict(mean *mat.VecDense, covariance *mat.SymDense) (*mat.VecDense, *mat.SymDense) {
	h := mean.AtVec(3)
	motionCov := diagSquared([]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-2,
		kf.stdWeightPosition * h,
		kf.stdWeightVelocity * h,
		kf.stdWeightVelocity * h,
		1e-5,
		kf.stdWeightVelocity * h,
	})

	predictedMean := mat.NewVecDense(2*ndim, nil)
	predictedMean.MulVec(kf.motionMat, mean)

	var left, predictedCov mat.Dense
	left.Mul(kf.motionMat, covariance)
	predictedCov.Mul(&left, kf.motionMat.T())
	predictedCov.Add(&predictedCov, motionCov)

	return predictedMean, kf.stabilize(&predictedCov)
}

// Project projects state distribution to measurement space: H*mean, H*cov*H^T + R
func (kf *KalmanFilter) Project(mean *mat.VecDense, covariance *mat.SymDense) (*mat.VecDense, *mat.SymDense) {
	h := mean.AtVec(3)
	innovationCov := diagSquared([]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-1,
		kf.stdWeightPosition * h,
	})

	projectedMean := mat.NewVecDense(ndim, nil)
	projectedMean.MulVec(kf.updateMat, mean)

	var left, projectedCov mat.Dense
	left.Mul(kf.updateMat, covariance)
	projectedCov.Mul(&left, kf.updateMat.T())
	projectedCov.Add(&projectedCov, innovationCov)

	return projectedMean, symmetrize(&projectedCov)
}

// Update runs Kalman filter correction step with measurement (cx, cy, a, h).
// Kalman gain is evaluated via Cholesky solve instead of explicit inversion of innovation covariance.
func (kf *KalmanFilter) Update(mean *mat.VecDense, covariance *mat.SymDense, measurement [4]float64) (*mat.VecDense, *mat.SymDense, error) {
	projectedMean, projectedCov := kf.Project(mean, covariance)
	chol, projectedCov, err := kf.factorize(projectedCov)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't update state")
	}

	// K^T = S^-1 * (P * H^T)^T
	var covHT, gainT mat.Dense
	covHT.Mul(covariance, kf.updateMat.T())
	if err := chol.SolveTo(&gainT, covHT.T()); err != nil && !isConditionError(err) {
		return nil, nil, errors.Wrap(err, "Can't evaluate Kalman gain")
	}

	innovation := mat.NewVecDense(ndim, nil)
	for i := 0; i < ndim; i++ {
		innovation.SetVec(i, measurement[i]-projectedMean.AtVec(i))
	}

	newMean := mat.NewVecDense(2*ndim, nil)
	newMean.MulVec(gainT.T(), innovation)
	newMean.AddVec(newMean, mean)

	// cov' = cov - K * S * K^T
	var gainS, correction, newCov mat.Dense
	gainS.Mul(gainT.T(), projectedCov)
	correction.Mul(&gainS, &gainT)
	newCov.Sub(covariance, &correction)

	return newMean, kf.stabilize(&newCov), nil
}

// GatingDistance computes squared Mahalanobis distance between state distribution and measurements.
// If onlyPosition is true then only center position (cx, cy) is used and distance
// should be compared against ChiSquare95(2), otherwise against ChiSquare95(4).
func (kf *KalmanFilter) GatingDistance(mean *mat.VecDense, covariance *mat.SymDense, measurements [][4]float64, onlyPosition bool) ([]float64, error) {
	projectedMean, projectedCov := kf.Project(mean, covariance)
	dim := ndim
	if onlyPosition {
		dim = 2
		positionCov := mat.NewSymDense(dim, nil)
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				positionCov.SetSym(i, j, projectedCov.At(i, j))
			}
		}
		projectedCov = positionCov
	}
	chol, _, err := kf.factorize(projectedCov)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate gating distance")
	}

	distances := make([]float64, len(measurements))
	diff := mat.NewVecDense(dim, nil)
	var solved mat.VecDense
	for i, measurement := range measurements {
		for k := 0; k < dim; k++ {
			diff.SetVec(k, measurement[k]-projectedMean.AtVec(k))
		}
		if err := chol.SolveVecTo(&solved, diff); err != nil && !isConditionError(err) {
			return nil, errors.Wrap(err, "Can't evaluate gating distance")
		}
		distances[i] = mat.Dot(diff, &solved)
	}
	return distances, nil
}

// stabilize symmetrizes covariance and repairs it when it is not positive definite anymore.
func (kf *KalmanFilter) stabilize(m mat.Matrix) *mat.SymDense {
	sym := symmetrize(m)
	var chol mat.Cholesky
	if isFiniteSym(sym) && chol.Factorize(sym) {
		return sym
	}
	kf.regularizations++
	return regularize(sym)
}

// factorize returns Cholesky decomposition of sym, regularizing once if needed.
// Returned matrix is the one which has been factorized.
func (kf *KalmanFilter) factorize(sym *mat.SymDense) (*mat.Cholesky, *mat.SymDense, error) {
	var chol mat.Cholesky
	if isFiniteSym(sym) && chol.Factorize(sym) {
		return &chol, sym, nil
	}
	kf.regularizations++
	sym = regularize(sym)
	if chol.Factorize(sym) {
		return &chol, sym, nil
	}
	return nil, nil, errors.Wrapf(ErrFactorization, "matrix %dx%d", sym.SymmetricDim(), sym.SymmetricDim())
}

func diagSquared(std []float64) *mat.SymDense {
	cov := mat.NewSymDense(len(std), nil)
	for i, s := range std {
		cov.SetSym(i, i, s*s)
	}
	return cov
}

func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return sym
}

// regularize floors eigenvalues of symmetric matrix.
// Non-finite matrices can't be decomposed and are replaced by their floored diagonal.
func regularize(sym *mat.SymDense) *mat.SymDense {
	n := sym.SymmetricDim()
	if !isFiniteSym(sym) {
		out := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			v := sym.At(i, i)
			if !isFinite(v) || v < minAbsoluteEigenvalue {
				v = minAbsoluteEigenvalue
			}
			out.SetSym(i, i, v)
		}
		return out
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		out := mat.NewSymDense(n, nil)
		out.CopySym(sym)
		for i := 0; i < n; i++ {
			out.SetSym(i, i, math.Abs(out.At(i, i))+minAbsoluteEigenvalue)
		}
		return out
	}
	values := eig.Values(nil)
	largest := 0.0
	for _, v := range values {
		largest = max(largest, v)
	}
	floor := max(minAbsoluteEigenvalue, minRelativeEigenvalue*largest)
	for i, v := range values {
		if v < floor {
			values[i] = floor
		}
	}
	var vectors, scaled, restored mat.Dense
	eig.VectorsTo(&vectors)
	scaled.Mul(&vectors, mat.NewDiagDense(n, values))
	restored.Mul(&scaled, vectors.T())
	return symmetrize(&restored)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isFiniteSym(sym *mat.SymDense) bool {
	n := sym.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if !isFinite(sym.At(i, j)) {
				return false
			}
		}
	}
	return true
}

// isConditionError reports ill-conditioned (but still solved) systems
func isConditionError(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
