package mot

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestKalmanInitiate(t *testing.T) {
	kf := NewKalmanFilter()
	measurement := [4]float64{25, 40, 0.5, 40}
	mean, covariance := kf.Initiate(measurement)
	for i := 0; i < 4; i++ {
		if mean.AtVec(i) != measurement[i] {
			t.Errorf("Wrong mean[%d]: %v, correct answer: %v", i, mean.AtVec(i), measurement[i])
		}
		if mean.AtVec(4+i) != 0 {
			t.Errorf("Velocity [%d] should be zero, got %v", i, mean.AtVec(4+i))
		}
	}
	// (2 * 1/20 * 40)^2 and (10 * 1/160 * 40)^2
	if math.Abs(covariance.At(0, 0)-16.0) > eps {
		t.Errorf("Wrong position variance: %v, correct answer: %v", covariance.At(0, 0), 16.0)
	}
	if math.Abs(covariance.At(4, 4)-6.25) > eps {
		t.Errorf("Wrong velocity variance: %v, correct answer: %v", covariance.At(4, 4), 6.25)
	}
	if covariance.At(0, 1) != 0 {
		t.Errorf("Initial covariance should be diagonal, got %v", covariance.At(0, 1))
	}
}

func TestKalmanPredict(t *testing.T) {
	kf := NewKalmanFilter()
	mean, covariance := kf.Initiate([4]float64{25, 40, 0.5, 40})
	mean.SetVec(4, 3)
	mean.SetVec(5, -2)
	predictedMean, predictedCov := kf.Predict(mean, covariance)
	if math.Abs(predictedMean.AtVec(0)-28) > eps || math.Abs(predictedMean.AtVec(1)-38) > eps {
		t.Errorf("Wrong predicted center: (%v, %v)", predictedMean.AtVec(0), predictedMean.AtVec(1))
	}
	// P00 + P44 + Q00 = 16 + 6.25 + 4
	if math.Abs(predictedCov.At(0, 0)-26.25) > eps {
		t.Errorf("Wrong predicted variance: %v, correct answer: %v", predictedCov.At(0, 0), 26.25)
	}
	if predictedCov.At(0, 0) <= covariance.At(0, 0) {
		t.Errorf("Uncertainty should grow on prediction")
	}
	if kf.Regularizations() != 0 {
		t.Errorf("Well-conditioned covariance should not be regularized")
	}
}

func TestKalmanUpdate(t *testing.T) {
	kf := NewKalmanFilter()
	mean, covariance := kf.Initiate([4]float64{100, 100, 0.5, 80})
	mean, covariance = kf.Predict(mean, covariance)

	t.Run("same measurement", func(t *testing.T) {
		newMean, newCov, err := kf.Update(mean, covariance, [4]float64{100, 100, 0.5, 80})
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 8; i++ {
			if math.Abs(newMean.AtVec(i)-mean.AtVec(i)) > eps {
				t.Errorf("Mean[%d] should not change: %v -> %v", i, mean.AtVec(i), newMean.AtVec(i))
			}
		}
		if newCov.At(0, 0) >= covariance.At(0, 0) {
			t.Errorf("Uncertainty should shrink on update: %v -> %v", covariance.At(0, 0), newCov.At(0, 0))
		}
	})

	t.Run("shifted measurement", func(t *testing.T) {
		newMean, _, err := kf.Update(mean, covariance, [4]float64{110, 100, 0.5, 80})
		if err != nil {
			t.Fatal(err)
		}
		cx := newMean.AtVec(0)
		if cx <= 100 || cx >= 110 {
			t.Errorf("Corrected center should be between prediction and measurement, got %v", cx)
		}
		if newMean.AtVec(4) <= 0 {
			t.Errorf("Velocity should point towards measurement, got %v", newMean.AtVec(4))
		}
	})
}

func TestKalmanGatingDistance(t *testing.T) {
	kf := NewKalmanFilter()
	mean, covariance := kf.Initiate([4]float64{25, 40, 0.5, 40})
	measurements := [][4]float64{
		{25, 40, 0.5, 40},
		{35, 40, 0.5, 40},
		{250, 400, 0.5, 40},
	}
	distances, err := kf.GatingDistance(mean, covariance, measurements, true)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(distances[0]) > eps {
		t.Errorf("Distance to projected mean should be zero, got %v", distances[0])
	}
	// 10^2 / (16 + 4)
	if math.Abs(distances[1]-5.0) > eps {
		t.Errorf("Wrong distance: %v, correct answer: %v", distances[1], 5.0)
	}
	if distances[2] <= ChiSquare95(2) {
		t.Errorf("Far measurement should be gated, got %v", distances[2])
	}

	full, err := kf.GatingDistance(mean, covariance, measurements, false)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(full[1]-5.0) > eps {
		t.Errorf("Wrong full distance: %v, correct answer: %v", full[1], 5.0)
	}
	if full[2] <= ChiSquare95(4) {
		t.Errorf("Far measurement should be gated, got %v", full[2])
	}
}

func TestChiSquare95(t *testing.T) {
	if ChiSquare95(4) != 9.4877 {
		t.Errorf("Wrong 4 dof quantile: %v", ChiSquare95(4))
	}
	if ChiSquare95(2) != 5.9915 {
		t.Errorf("Wrong 2 dof quantile: %v", ChiSquare95(2))
	}
	if !math.IsInf(ChiSquare95(0), 1) || !math.IsInf(ChiSquare95(10), 1) {
		t.Errorf("Unsupported dof should give +Inf")
	}
}

func TestRegularize(t *testing.T) {
	t.Run("negative eigenvalue", func(t *testing.T) {
		// eigenvalues are 3 and -1
		sym := mat.NewSymDense(2, []float64{1, 2, 2, 1})
		fixed := regularize(sym)
		var chol mat.Cholesky
		if !chol.Factorize(fixed) {
			t.Errorf("Regularized matrix should be positive definite: %v", mat.Formatted(fixed))
		}
	})
	t.Run("non-finite", func(t *testing.T) {
		sym := mat.NewSymDense(2, []float64{math.NaN(), 0, 0, 4})
		fixed := regularize(sym)
		if !isFiniteSym(fixed) {
			t.Errorf("Regularized matrix should be finite: %v", mat.Formatted(fixed))
		}
		var chol mat.Cholesky
		if !chol.Factorize(fixed) {
			t.Errorf("Regularized matrix should be positive definite: %v", mat.Formatted(fixed))
		}
		if fixed.At(1, 1) != 4 {
			t.Errorf("Finite diagonal should be kept, got %v", fixed.At(1, 1))
		}
	})
	t.Run("counted by filter", func(t *testing.T) {
		kf := NewKalmanFilter()
		broken := mat.NewSymDense(8, nil)
		for i := 0; i < 8; i++ {
			broken.SetSym(i, i, -1)
		}
		mean := mat.NewVecDense(8, []float64{10, 10, 0.5, 20, 0, 0, 0, 0})
		_, covariance := kf.Predict(mean, broken)
		if kf.Regularizations() == 0 {
			t.Errorf("Broken covariance should be regularized")
		}
		var chol mat.Cholesky
		if !chol.Factorize(covariance) {
			t.Errorf("Predicted covariance should be positive definite")
		}
	})
}
