package mot

import (
	"math"

	"github.com/pkg/errors"
)

// InfeasibleCost is assigned to track/detection pairs which must never be matched
const InfeasibleCost = 1e5

// Match is a pair of indices into tracks and detections
type Match struct {
	TrackIdx     int
	DetectionIdx int
}

// DistanceFunc computes cost matrix: rows correspond to trackIndices, columns to detectionIndices
type DistanceFunc func(tracks []*Track, detections []Detection, trackIndices, detectionIndices []int) ([][]float64, error)

// MinCostMatching solves linear assignment problem restricted to given tracks and detections.
// Costs above maxDistance are treated as invalid and never produce a match.
func MinCostMatching(
	solver AssignmentSolver,
	distanceFunc DistanceFunc,
	maxDistance float64,
	tracks []*Track,
	detections []Detection,
	trackIndices []int,
	detectionIndices []int,
) ([]Match, []int, []int, error) {
	if len(trackIndices) == 0 || len(detectionIndices) == 0 {
		// Nothing to match
		return []Match{}, append([]int{}, trackIndices...), append([]int{}, detectionIndices...), nil
	}

	costMatrix, err := distanceFunc(tracks, detections, trackIndices, detectionIndices)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't evaluate cost matrix")
	}
	gated := maxDistance + 1e-5
	for _, row := range costMatrix {
		for col, v := range row {
			if v > maxDistance || math.IsNaN(v) {
				row[col] = gated
			}
		}
	}

	assignments := solver(costMatrix)

	matchedRows := make(map[int]struct{}, len(assignments))
	matchedCols := make(map[int]struct{}, len(assignments))
	matches := make([]Match, 0, len(assignments))
	for _, pair := range assignments {
		row, col := pair[0], pair[1]
		if costMatrix[row][col] > maxDistance {
			continue
		}
		matchedRows[row] = struct{}{}
		matchedCols[col] = struct{}{}
		matches = append(matches, Match{TrackIdx: trackIndices[row], DetectionIdx: detectionIndices[col]})
	}

	unmatchedTracks := make([]int, 0, len(trackIndices)-len(matches))
	for row, trackIdx := range trackIndices {
		if _, ok := matchedRows[row]; !ok {
			unmatchedTracks = append(unmatchedTracks, trackIdx)
		}
	}
	unmatchedDetections := make([]int, 0, len(detectionIndices)-len(matches))
	for col, detIdx := range detectionIndices {
		if _, ok := matchedCols[col]; !ok {
			unmatchedDetections = append(unmatchedDetections, detIdx)
		}
	}
	return matches, unmatchedTracks, unmatchedDetections, nil
}

// MatchingCascade runs MinCostMatching level by level: tracks which were updated more recently are matched first.
// Level L (1..cascadeDepth) consists of tracks with TimeSinceUpdate == L.
func MatchingCascade(
	solver AssignmentSolver,
	distanceFunc DistanceFunc,
	maxDistance float64,
	cascadeDepth int,
	tracks []*Track,
	detections []Detection,
	trackIndices []int,
	detectionIndices []int,
) ([]Match, []int, []int, error) {
	unmatchedDetections := append([]int{}, detectionIndices...)
	matches := make([]Match, 0)
	for level := 1; level <= cascadeDepth; level++ {
		if len(unmatchedDetections) == 0 {
			// No detections left
			break
		}
		levelIndices := make([]int, 0)
		for _, trackIdx := range trackIndices {
			if tracks[trackIdx].TimeSinceUpdate() == level {
				levelIndices = append(levelIndices, trackIdx)
			}
		}
		if len(levelIndices) == 0 {
			// Nothing to match at this level
			continue
		}
		levelMatches, _, rest, err := MinCostMatching(solver, distanceFunc, maxDistance, tracks, detections, levelIndices, unmatchedDetections)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "Cascade level %d failed", level)
		}
		matches = append(matches, levelMatches...)
		unmatchedDetections = rest
	}

	matchedTracks := make(map[int]struct{}, len(matches))
	for _, m := range matches {
		matchedTracks[m.TrackIdx] = struct{}{}
	}
	unmatchedTracks := make([]int, 0, len(trackIndices)-len(matches))
	for _, trackIdx := range trackIndices {
		if _, ok := matchedTracks[trackIdx]; !ok {
			unmatchedTracks = append(unmatchedTracks, trackIdx)
		}
	}
	return matches, unmatchedTracks, unmatchedDetections, nil
}

// GateCostMatrix invalidates infeasible entries of cost matrix based on state distributions obtained by Kalman filtering.
// Entries with squared Mahalanobis distance above ChiSquare95 threshold (and non-finite entries) become gatedCost.
func GateCostMatrix(
	kf *KalmanFilter,
	costMatrix [][]float64,
	tracks []*Track,
	detections []Detection,
	trackIndices []int,
	detectionIndices []int,
	gatedCost float64,
	onlyPosition bool,
) error {
	dof := 4
	if onlyPosition {
		dof = 2
	}
	threshold := ChiSquare95(dof)
	measurements := make([][4]float64, len(detectionIndices))
	for col, detIdx := range detectionIndices {
		measurements[col] = detections[detIdx].XYAH()
	}
	for row, trackIdx := range trackIndices {
		track := tracks[trackIdx]
		distances, err := kf.GatingDistance(track.mean, track.covariance, measurements, onlyPosition)
		if err != nil {
			return errors.Wrapf(err, "Can't gate track %d", track.id)
		}
		for col, d := range distances {
			v := costMatrix[row][col]
			if d > threshold || math.IsNaN(v) || math.IsInf(v, 0) {
				costMatrix[row][col] = gatedCost
			}
		}
	}
	return nil
}
