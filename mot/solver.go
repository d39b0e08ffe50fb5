package mot

import (
	"fmt"
	"math"
	"slices"

	"github.com/arthurkushman/go-hungarian"
)

// MatchingAlgorithm is for algorithm type for solving assignment between tracks and detections
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmJV uses shortest augmenting path with potentials (Jonker-Volgenant flavour of Kuhn-Munkres)
	MatchingAlgorithmJV MatchingAlgorithm = iota
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) from github.com/arthurkushman/go-hungarian
	MatchingAlgorithmHungarian
)

func (algo MatchingAlgorithm) String() string {
	switch algo {
	case MatchingAlgorithmJV:
		return "jv"
	case MatchingAlgorithmHungarian:
		return "hungarian"
	default:
		return fmt.Sprintf("MatchingAlgorithm(%d)", algo)
	}
}

// ParseMatchingAlgorithm parses "jv" or "hungarian"
func ParseMatchingAlgorithm(s string) (MatchingAlgorithm, error) {
	switch s {
	case "jv", "":
		return MatchingAlgorithmJV, nil
	case "hungarian":
		return MatchingAlgorithmHungarian, nil
	default:
		return 0, fmt.Errorf("unknown matching algorithm '%s'", s)
	}
}

// Slack relative to total cost when comparing two assignments
const optimalityTolerance = 1e-9

// AssignmentSolver returns minimum total cost assignment for a rectangular cost matrix
// as pairs {row, column}, sorted by row. Every returned pair refers to real (non-padded) cells.
type AssignmentSolver func(costMatrix [][]float64) [][2]int

// Solver returns solver implementing the algorithm
func (algo MatchingAlgorithm) Solver() AssignmentSolver {
	switch algo {
	case MatchingAlgorithmHungarian:
		return SolveHungarian
	default:
		return SolveJV
	}
}

// SolveJV solves assignment problem with Kuhn-Munkres algorithm using row/column potentials.
// Rectangular matrices are padded to square with a uniform constant, so padding never changes optimum.
// Rows are inserted in ascending order and columns are scanned in ascending order with strict
// comparisons, which makes result deterministic on ties.
func SolveJV(costMatrix [][]float64) [][2]int {
	rows, cols := matrixDims(costMatrix)
	if rows == 0 || cols == 0 {
		return [][2]int{}
	}
	dim := max(rows, cols)
	c := padSquare(costMatrix, dim, 0)

	inf := math.MaxFloat64 / 2
	// 1-indexed arrays; index 0 is a virtual column
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		// Augment along the path
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	matches := make([][2]int, 0, min(rows, cols))
	for j := 1; j <= dim; j++ {
		row, col := p[j]-1, j-1
		if row >= 0 && row < rows && col < cols {
			matches = append(matches, [2]int{row, col})
		}
	}
	sortByRow(matches)
	return matches
}

// SolveHungarian solves assignment problem with github.com/arthurkushman/go-hungarian.
// The library maximizes, so costs are turned into profits (maxCost - cost) on a square padded matrix.
// Its reduction does not always end in the optimum, so the result is checked against SolveJV
// and the cheaper assignment is returned.
func SolveHungarian(costMatrix [][]float64) [][2]int {
	matches, _ := solveHungarianChecked(costMatrix)
	return matches
}

// solveHungarianChecked returns assignment and true when SolveJV had to replace library result
func solveHungarianChecked(costMatrix [][]float64) ([][2]int, bool) {
	rows, cols := matrixDims(costMatrix)
	if rows == 0 || cols == 0 {
		return [][2]int{}, false
	}
	maxCost := 0.0
	for _, row := range costMatrix {
		for _, v := range row {
			maxCost = max(maxCost, v)
		}
	}
	dim := max(rows, cols)
	profit := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		profit[i] = make([]float64, dim)
		if i >= rows {
			continue
		}
		for j := 0; j < cols; j++ {
			profit[i][j] = maxCost - costMatrix[i][j]
		}
	}
	assignmentsMap := hungarian.SolveMax(profit)
	matches := make([][2]int, 0, min(rows, cols))
	usedCols := make(map[int]struct{}, len(assignmentsMap))
	for row, rowMap := range assignmentsMap {
		for col := range rowMap {
			if row < rows && col < cols {
				matches = append(matches, [2]int{row, col})
				usedCols[col] = struct{}{}
			}
		}
	}
	sortByRow(matches)

	exact := SolveJV(costMatrix)
	// Incomplete or duplicated assignment is never accepted
	if len(matches) != len(exact) || len(usedCols) != len(matches) {
		return exact, true
	}
	exactCost := assignmentCost(costMatrix, exact)
	if assignmentCost(costMatrix, matches) > exactCost+optimalityTolerance*max(1, math.Abs(exactCost)) {
		return exact, true
	}
	return matches, false
}

// assignmentCost returns sum of costs of assigned cells
func assignmentCost(costMatrix [][]float64, matches [][2]int) float64 {
	total := 0.0
	for _, pair := range matches {
		total += costMatrix[pair[0]][pair[1]]
	}
	return total
}

func matrixDims(costMatrix [][]float64) (int, int) {
	if len(costMatrix) == 0 {
		return 0, 0
	}
	return len(costMatrix), len(costMatrix[0])
}

func padSquare(costMatrix [][]float64, dim int, value float64) [][]float64 {
	padded := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		padded[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < len(costMatrix) && j < len(costMatrix[i]) {
				padded[i][j] = costMatrix[i][j]
			} else {
				padded[i][j] = value
			}
		}
	}
	return padded
}

func sortByRow(matches [][2]int) {
	slices.SortFunc(matches, func(a, b [2]int) int {
		if a[0] != b[0] {
			return a[0] - b[0]
		}
		return a[1] - b[1]
	})
}
