package mot

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSolvers(t *testing.T) {
	cases := []struct {
		name          string
		costMatrix    [][]float64
		correctAnswer [][2]int
	}{
		{
			name:          "square",
			costMatrix:    [][]float64{{4, 1, 3}, {2, 0, 5}, {3, 2, 2}},
			correctAnswer: [][2]int{{0, 1}, {1, 0}, {2, 2}},
		},
		{
			name:          "more columns",
			costMatrix:    [][]float64{{1, 5, 3}, {4, 2, 6}},
			correctAnswer: [][2]int{{0, 0}, {1, 1}},
		},
		{
			name:          "more rows",
			costMatrix:    [][]float64{{1, 4}, {5, 2}, {3, 6}},
			correctAnswer: [][2]int{{0, 0}, {1, 1}},
		},
		{
			name:          "single",
			costMatrix:    [][]float64{{0.7}},
			correctAnswer: [][2]int{{0, 0}},
		},
		{
			name:          "empty",
			costMatrix:    [][]float64{},
			correctAnswer: [][2]int{},
		},
	}
	solvers := []MatchingAlgorithm{MatchingAlgorithmJV, MatchingAlgorithmHungarian}
	for _, algo := range solvers {
		for _, c := range cases {
			t.Run(algo.String()+"/"+c.name, func(t *testing.T) {
				answer := algo.Solver()(c.costMatrix)
				if diff := cmp.Diff(c.correctAnswer, answer); diff != "" {
					t.Errorf("Wrong assignment (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestSolveJVFractional(t *testing.T) {
	costMatrix := [][]float64{
		{0.12, 0.95, 0.40},
		{0.10, 0.20, 0.99},
		{0.90, 0.30, 0.05},
	}
	answer := SolveJV(costMatrix)
	// 0.12 + 0.20 + 0.05 is the unique optimum
	correctAnswer := [][2]int{{0, 0}, {1, 1}, {2, 2}}
	if diff := cmp.Diff(correctAnswer, answer); diff != "" {
		t.Errorf("Wrong assignment (-want +got):\n%s", diff)
	}
}

// bruteForceCost returns minimal total cost over every assignment of min(rows, cols) pairs
func bruteForceCost(costMatrix [][]float64) float64 {
	rows, cols := matrixDims(costMatrix)
	if rows > cols {
		transposed := make([][]float64, cols)
		for j := range transposed {
			transposed[j] = make([]float64, rows)
			for i := 0; i < rows; i++ {
				transposed[j][i] = costMatrix[i][j]
			}
		}
		return bruteForceCost(transposed)
	}
	best := math.Inf(1)
	used := make([]bool, cols)
	var search func(row int, total float64)
	search = func(row int, total float64) {
		if row == rows {
			best = min(best, total)
			return
		}
		for col := 0; col < cols; col++ {
			if used[col] {
				continue
			}
			used[col] = true
			search(row+1, total+costMatrix[row][col])
			used[col] = false
		}
	}
	search(0, 0)
	return best
}

func TestSolversBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 500; iteration++ {
		rows, cols := 1+rng.Intn(5), 1+rng.Intn(5)
		integer := iteration%2 == 0
		costMatrix := make([][]float64, rows)
		for i := range costMatrix {
			costMatrix[i] = make([]float64, cols)
			for j := range costMatrix[i] {
				if integer {
					costMatrix[i][j] = float64(rng.Intn(10))
				} else {
					costMatrix[i][j] = rng.Float64()
				}
			}
		}
		correctAnswer := bruteForceCost(costMatrix)
		for _, algo := range []MatchingAlgorithm{MatchingAlgorithmJV, MatchingAlgorithmHungarian} {
			answer := algo.Solver()(costMatrix)
			if len(answer) != min(rows, cols) {
				t.Fatalf("%s: iteration %d: expected %d pairs, got %v for %v", algo, iteration, min(rows, cols), answer, costMatrix)
			}
			usedRows := make(map[int]bool)
			usedCols := make(map[int]bool)
			for _, pair := range answer {
				if usedRows[pair[0]] || usedCols[pair[1]] {
					t.Fatalf("%s: iteration %d: row or column assigned twice: %v", algo, iteration, answer)
				}
				usedRows[pair[0]] = true
				usedCols[pair[1]] = true
			}
			if total := assignmentCost(costMatrix, answer); math.Abs(total-correctAnswer) > 1e-9 {
				t.Errorf("%s: iteration %d: wrong total cost %v, correct answer: %v for %v", algo, iteration, total, correctAnswer, costMatrix)
			}
		}
	}
}

func TestSolveHungarianReplaced(t *testing.T) {
	costMatrix := [][]float64{{4, 1, 3}, {2, 0, 5}, {3, 2, 2}}
	answer, _ := solveHungarianChecked(costMatrix)
	if total := assignmentCost(costMatrix, answer); total != 5 {
		t.Errorf("Wrong total cost: %v, correct answer: %v", total, 5.0)
	}
	if answer, replaced := solveHungarianChecked([][]float64{}); len(answer) != 0 || replaced {
		t.Errorf("Empty matrix should give empty assignment: %v, %v", answer, replaced)
	}
}

func TestParseMatchingAlgorithm(t *testing.T) {
	cases := map[string]MatchingAlgorithm{
		"":          MatchingAlgorithmJV,
		"jv":        MatchingAlgorithmJV,
		"hungarian": MatchingAlgorithmHungarian,
	}
	for s, expected := range cases {
		algo, err := ParseMatchingAlgorithm(s)
		if err != nil {
			t.Errorf("Can't parse '%s': %v", s, err)
			continue
		}
		if algo != expected {
			t.Errorf("Wrong algorithm for '%s': %v", s, algo)
		}
	}
	if _, err := ParseMatchingAlgorithm("greedy"); err == nil {
		t.Errorf("Unknown algorithm should fail")
	}
}
