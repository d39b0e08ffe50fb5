package mot

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DistanceKind is for distance between appearance features
type DistanceKind uint16

const (
	// DistanceCosine is 1 - cosine similarity
	DistanceCosine DistanceKind = iota
	// DistanceEuclidean is squared euclidean distance
	DistanceEuclidean
)

func (kind DistanceKind) String() string {
	switch kind {
	case DistanceCosine:
		return "cosine"
	case DistanceEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("DistanceKind(%d)", kind)
	}
}

// ParseDistanceKind parses "cosine" or "euclidean"
func ParseDistanceKind(s string) (DistanceKind, error) {
	switch s {
	case "cosine":
		return DistanceCosine, nil
	case "euclidean":
		return DistanceEuclidean, nil
	default:
		return 0, errors.Errorf("unknown distance kind '%s'", s)
	}
}

// NearestNeighborDistanceMetric returns, for each track identity, the closest distance
// between a query feature and any feature observed for that identity so far.
type NearestNeighborDistanceMetric struct {
	kind DistanceKind
	// Samples with larger distance are considered an invalid match
	matchingThreshold float64
	// Max number of features kept per identity (FIFO). Zero or negative means unbounded
	budget int
	// Feature dimension, zero until first feature is observed
	featureDim int
	samples    map[int64][][]float64
}

// NewNearestNeighborDistanceMetric creates new metric
func NewNearestNeighborDistanceMetric(kind DistanceKind, matchingThreshold float64, budget int) (*NearestNeighborDistanceMetric, error) {
	if kind != DistanceCosine && kind != DistanceEuclidean {
		return nil, errors.Errorf("unsupported distance kind %s", kind)
	}
	if matchingThreshold < 0 || math.IsNaN(matchingThreshold) {
		return nil, errors.Errorf("matching threshold should be non-negative, got %f", matchingThreshold)
	}
	return &NearestNeighborDistanceMetric{
		kind:              kind,
		matchingThreshold: matchingThreshold,
		budget:            budget,
		samples:           make(map[int64][][]float64),
	}, nil
}

// Kind returns distance kind
func (metric *NearestNeighborDistanceMetric) Kind() DistanceKind {
	return metric.kind
}

// MatchingThreshold returns distance gate for appearance matching
func (metric *NearestNeighborDistanceMetric) MatchingThreshold() float64 {
	return metric.matchingThreshold
}

// Budget returns max number of features kept per identity
func (metric *NearestNeighborDistanceMetric) Budget() int {
	return metric.budget
}

// FeatureDim returns dimension of stored features (zero if nothing has been stored yet)
func (metric *NearestNeighborDistanceMetric) FeatureDim() int {
	return metric.featureDim
}

// Targets returns sorted identities which have a gallery
func (metric *NearestNeighborDistanceMetric) Targets() []int64 {
	targets := make([]int64, 0, len(metric.samples))
	for target := range metric.samples {
		targets = append(targets, target)
	}
	slices.Sort(targets)
	return targets
}

// GallerySize returns number of features stored for identity
func (metric *NearestNeighborDistanceMetric) GallerySize(target int64) int {
	return len(metric.samples[target])
}

// PartialFit appends new features to galleries of their identities and then keeps
// galleries of activeTargets only. features[i] belongs to targets[i].
func (metric *NearestNeighborDistanceMetric) PartialFit(features [][]float64, targets []int64, activeTargets []int64) error {
	if len(features) != len(targets) {
		return errors.Errorf("features and targets arrays must have the same length. Features: %d. Targets: %d", len(features), len(targets))
	}
	if err := metric.checkDim(features); err != nil {
		return errors.Wrap(err, "Can't fit metric")
	}
	for i, feature := range features {
		target := targets[i]
		gallery := append(metric.samples[target], slices.Clone(feature))
		if metric.budget > 0 && len(gallery) > metric.budget {
			gallery = gallery[len(gallery)-metric.budget:]
		}
		metric.samples[target] = gallery
	}
	active := make(map[int64]struct{}, len(activeTargets))
	for _, target := range activeTargets {
		active[target] = struct{}{}
	}
	for target := range metric.samples {
		if _, ok := active[target]; !ok {
			delete(metric.samples, target)
		}
	}
	return nil
}

// Distance computes cost matrix where cost[i][j] is the smallest distance between
// gallery of targets[i] and features[j]. Empty gallery gives +Inf.
func (metric *NearestNeighborDistanceMetric) Distance(features [][]float64, targets []int64) ([][]float64, error) {
	if err := metric.checkDim(features); err != nil {
		return nil, errors.Wrap(err, "Can't evaluate distance")
	}
	normalized := features
	if metric.kind == DistanceCosine {
		normalized = make([][]float64, len(features))
		for j, feature := range features {
			normalized[j] = normalize(feature)
		}
	}
	costMatrix := make([][]float64, len(targets))
	for i, target := range targets {
		row := make([]float64, len(features))
		gallery := metric.samples[target]
		for j := range normalized {
			row[j] = metric.nearest(gallery, normalized[j])
		}
		costMatrix[i] = row
	}
	return costMatrix, nil
}

func (metric *NearestNeighborDistanceMetric) nearest(gallery [][]float64, query []float64) float64 {
	best := math.Inf(1)
	for _, sample := range gallery {
		var d float64
		switch metric.kind {
		case DistanceCosine:
			d = 1.0 - floats.Dot(normalize(sample), query)
		default:
			d = floats.Distance(sample, query, 2)
			d *= d
		}
		best = min(best, d)
	}
	if math.IsInf(best, 1) {
		return best
	}
	return max(0, best)
}

// checkDim verifies that every feature has the session dimension and fixes it on first use
func (metric *NearestNeighborDistanceMetric) checkDim(features [][]float64) error {
	for i, feature := range features {
		if len(feature) == 0 {
			return errors.Wrapf(ErrFeatureDimension, "feature %d is empty", i)
		}
		if metric.featureDim == 0 {
			metric.featureDim = len(feature)
			continue
		}
		if len(feature) != metric.featureDim {
			return errors.Wrapf(ErrFeatureDimension, "feature %d has dimension %d, expected %d", i, len(feature), metric.featureDim)
		}
	}
	return nil
}

func normalize(v []float64) []float64 {
	out := slices.Clone(v)
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(1.0/norm, out)
	return out
}
