package mot

import (
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CoveredEntry is a track which disappeared behind another track.
// Its identity may be given to a new detection appearing close to the last known box.
type CoveredEntry struct {
	ID                 int64
	TLWH               Rectangle
	FramesSinceCovered int
}

// Option configures optional Tracker collaborators
type Option func(*Tracker)

// WithLogger sets logger. Default is slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(tracker *Tracker) {
		if logger != nil {
			tracker.logger = logger
		}
	}
}

// WithKalmanFilter sets motion filter. Default is NewKalmanFilter()
func WithKalmanFilter(kf *KalmanFilter) Option {
	return func(tracker *Tracker) {
		if kf != nil {
			tracker.kf = kf
		}
	}
}

// Tracker is implementation of Multi-object tracker (MOT) called Deep SORT, extended with
// identity recovery for tracks temporary hidden by other tracks.
//
// Expected call order per frame: Predict() then Update(detections).
// Tracker is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	metric *NearestNeighborDistanceMetric
	kf     *KalmanFilter
	solver AssignmentSolver
	// Active tracks in creation order
	tracks []*Track
	// Covered tracks ledger in insertion order
	covered []CoveredEntry
	nextID  int64
	frame   uint64
	// Dimension of appearance features for the session, zero until first valid detection
	featureDim      int
	sessionID       uuid.UUID
	logger          *slog.Logger
	regularizations uint64
}

// NewTracker creates tracker. Metric must match cfg (see Config.NewMetric); it is shared by
// reference and mutated only through its own methods.
func NewTracker(metric *NearestNeighborDistanceMetric, cfg Config, options ...Option) (*Tracker, error) {
	if metric == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "metric should not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, err := ParseMatchingAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	// Metric is the one described by cfg, so Config() reports parameters in use
	kind, err := ParseDistanceKind(cfg.Metric)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if metric.Kind() != kind || metric.MatchingThreshold() != cfg.MatchingThreshold || metric.Budget() != cfg.Budget {
		return nil, errors.Wrapf(ErrInvalidConfig, "metric (%s, threshold %f, budget %d) differs from config (%s, threshold %f, budget %d)",
			metric.Kind(), metric.MatchingThreshold(), metric.Budget(), kind, cfg.MatchingThreshold, cfg.Budget)
	}
	tracker := &Tracker{
		cfg:        cfg,
		metric:     metric,
		kf:         NewKalmanFilter(),
		solver:     algo.Solver(),
		tracks:     make([]*Track, 0),
		covered:    make([]CoveredEntry, 0),
		nextID:     1,
		featureDim: metric.FeatureDim(),
		sessionID:  uuid.New(),
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(tracker)
	}
	if algo == MatchingAlgorithmHungarian {
		tracker.solver = tracker.solveHungarian
	}
	tracker.logger = tracker.logger.With(slog.String("session", tracker.sessionID.String()))
	tracker.regularizations = tracker.kf.Regularizations()
	return tracker, nil
}

// Predict propagates track state distributions one frame forward and ages covered ledger.
// Should be called once per frame, before Update.
func (tracker *Tracker) Predict() {
	tracker.frame++
	for _, track := range tracker.tracks {
		track.Predict(tracker.kf)
	}
	kept := make([]CoveredEntry, 0, len(tracker.covered))
	for _, entry := range tracker.covered {
		entry.FramesSinceCovered++
		if entry.FramesSinceCovered >= tracker.cfg.CoverHorizon {
			tracker.logger.Debug("covered track expired", slog.Uint64("frame", tracker.frame), slog.Int64("id", entry.ID))
			continue
		}
		kept = append(kept, entry)
	}
	tracker.covered = kept
}

// Update performs measurement update and track management.
// Invalid detections (degenerate box, feature of wrong dimension) are dropped and logged.
// Track.DetectionIndex refers to positions in detections.
//
// When matching fails, tracks and covered ledger are left as they were before the call. A match which
// can't be applied counts as a miss of its track; the frame is still completed and the
// first such error is returned, so the tracker stays usable.
func (tracker *Tracker) Update(detections []Detection) error {
	detectionIndices := tracker.validDetections(detections)

	matches, unmatchedTracks, unmatchedDetections, err := tracker.match(detections, detectionIndices)
	if err != nil {
		return errors.Wrap(err, "Can't match detections")
	}
	return tracker.apply(detections, matches, unmatchedTracks, unmatchedDetections)
}

// apply commits association result of the current frame
func (tracker *Tracker) apply(detections []Detection, matches []Match, unmatchedTracks, unmatchedDetections []int) error {
	// Boxes are taken before corrections: occlusion is judged against predicted positions
	boxes := make([]Rectangle, len(tracker.tracks))
	for i, track := range tracker.tracks {
		boxes[i] = track.TLWH()
	}

	var firstErr error
	for _, m := range matches {
		track := tracker.tracks[m.TrackIdx]
		err := track.Update(tracker.kf, detections[m.DetectionIdx], m.DetectionIdx)
		if err != nil {
			tracker.logger.Warn("match not applied", slog.Uint64("frame", tracker.frame), slog.Int64("id", track.id), slog.Int("detection", m.DetectionIdx), slog.Any("err", err))
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Can't apply match")
			}
			unmatchedTracks = append(unmatchedTracks, m.TrackIdx)
		}
	}
	slices.Sort(unmatchedTracks)
	for _, trackIdx := range unmatchedTracks {
		track := tracker.tracks[trackIdx]
		if track.checkCovered(boxes, trackIdx, tracker.cfg.CoverOverlapThreshold) {
			tracker.logger.Debug("track covered", slog.Uint64("frame", tracker.frame), slog.Int64("id", track.id))
		}
		track.MarkMissed()
		if track.IsDeleted() && !track.IsCovered() {
			tracker.logger.Debug("track deleted", slog.Uint64("frame", tracker.frame), slog.Int64("id", track.id), slog.Int("hits", track.hits))
		}
	}
	for _, detIdx := range unmatchedDetections {
		tracker.initiateTrack(detections[detIdx], detIdx)
	}

	// Materialize next active set instead of removing in place
	active := make([]*Track, 0, len(tracker.tracks))
	for _, track := range tracker.tracks {
		if track.IsCovered() {
			tracker.covered = append(tracker.covered, CoveredEntry{
				ID:   track.id,
				TLWH: track.TLWH(),
			})
			continue
		}
		if track.IsDeleted() {
			continue
		}
		active = append(active, track)
	}
	tracker.tracks = active

	if err := tracker.refitMetric(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "Can't refit appearance metric")
	}

	if n := tracker.kf.Regularizations(); n > tracker.regularizations {
		tracker.logger.Warn("covariance regularized", slog.Uint64("frame", tracker.frame), slog.Uint64("times", n-tracker.regularizations))
		tracker.regularizations = n
	}
	return firstErr
}

// Step is a shorthand for Predict + Update + Snapshot
func (tracker *Tracker) Step(detections []Detection) ([]TrackSnapshot, error) {
	tracker.Predict()
	if err := tracker.Update(detections); err != nil {
		return nil, err
	}
	return tracker.Snapshot(), nil
}

// match runs matching cascade over confirmed tracks and then IoU matching over
// unconfirmed tracks together with tracks missed exactly on previous frame.
func (tracker *Tracker) match(detections []Detection, detectionIndices []int) ([]Match, []int, []int, error) {
	gatedMetric := func(tracks []*Track, dets []Detection, trackIndices, detIndices []int) ([][]float64, error) {
		features := make([][]float64, len(detIndices))
		for col, detIdx := range detIndices {
			features[col] = dets[detIdx].Feature
		}
		targets := make([]int64, len(trackIndices))
		for row, trackIdx := range trackIndices {
			targets[row] = tracks[trackIdx].id
		}
		costMatrix, err := tracker.metric.Distance(features, targets)
		if err != nil {
			return nil, err
		}
		err = GateCostMatrix(tracker.kf, costMatrix, tracks, dets, trackIndices, detIndices, InfeasibleCost, tracker.cfg.GateOnlyPosition)
		if err != nil {
			return nil, err
		}
		return costMatrix, nil
	}

	confirmedTracks := make([]int, 0, len(tracker.tracks))
	unconfirmedTracks := make([]int, 0)
	for i, track := range tracker.tracks {
		if track.IsConfirmed() {
			confirmedTracks = append(confirmedTracks, i)
		} else {
			unconfirmedTracks = append(unconfirmedTracks, i)
		}
	}

	// Associate confirmed tracks using appearance features
	matchesA, unmatchedTracksA, unmatchedDetections, err := MatchingCascade(
		tracker.solver, gatedMetric, tracker.metric.MatchingThreshold(), tracker.cfg.MaxAge,
		tracker.tracks, detections, confirmedTracks, detectionIndices,
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Matching cascade failed")
	}

	// Associate remaining tracks together with unconfirmed tracks using IoU
	iouCandidates := unconfirmedTracks
	stillUnmatched := make([]int, 0, len(unmatchedTracksA))
	for _, trackIdx := range unmatchedTracksA {
		if tracker.tracks[trackIdx].TimeSinceUpdate() == 1 {
			iouCandidates = append(iouCandidates, trackIdx)
		} else {
			stillUnmatched = append(stillUnmatched, trackIdx)
		}
	}
	matchesB, unmatchedTracksB, unmatchedDetections, err := MinCostMatching(
		tracker.solver, IOUCost, tracker.cfg.MaxIOUDistance,
		tracker.tracks, detections, iouCandidates, unmatchedDetections,
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "IoU matching failed")
	}

	matches := append(matchesA, matchesB...)
	unmatchedTracks := append(stillUnmatched, unmatchedTracksB...)
	slices.Sort(unmatchedTracks)
	return matches, unmatchedTracks, unmatchedDetections, nil
}

// solveHungarian is SolveHungarian which reports frames where library assignment has been replaced
func (tracker *Tracker) solveHungarian(costMatrix [][]float64) [][2]int {
	matches, replaced := solveHungarianChecked(costMatrix)
	if replaced {
		tracker.logger.Debug("hungarian assignment replaced by jv", slog.Uint64("frame", tracker.frame), slog.Int("rows", len(costMatrix)))
	}
	return matches
}

// validDetections returns indices of detections which satisfy input contract
func (tracker *Tracker) validDetections(detections []Detection) []int {
	indices := make([]int, 0, len(detections))
	for i, det := range detections {
		if err := det.Validate(); err != nil {
			tracker.logger.Warn("detection dropped", slog.Uint64("frame", tracker.frame), slog.Int("index", i), slog.String("reason", err.Error()))
			continue
		}
		if tracker.featureDim == 0 {
			tracker.featureDim = len(det.Feature)
		}
		if len(det.Feature) != tracker.featureDim {
			err := errors.Wrapf(ErrFeatureDimension, "got %d, expected %d", len(det.Feature), tracker.featureDim)
			tracker.logger.Warn("detection dropped", slog.Uint64("frame", tracker.frame), slog.Int("index", i), slog.String("reason", err.Error()))
			continue
		}
		indices = append(indices, i)
	}
	return indices
}

// initiateTrack creates tentative track. Identity is taken from covered ledger when some
// covered track was last seen nearby, otherwise next sequential identifier is used.
func (tracker *Tracker) initiateTrack(detection Detection, detectionIndex int) {
	mean, covariance := tracker.kf.Initiate(detection.XYAH())
	id, reused := tracker.reuseCoveredID(detection.TLWH)
	if reused {
		tracker.logger.Debug("identity reused", slog.Uint64("frame", tracker.frame), slog.Int64("id", id))
	} else {
		id = tracker.nextID
		tracker.nextID++
		tracker.logger.Debug("track created", slog.Uint64("frame", tracker.frame), slog.Int64("id", id))
	}
	track := NewTrack(mean, covariance, id, tracker.cfg.NInit, tracker.cfg.MaxAge, detection.Feature)
	track.detectionIndex = detectionIndex
	tracker.tracks = append(tracker.tracks, track)
}

// reuseCoveredID pops first ledger entry whose last known center is inside reuse window
func (tracker *Tracker) reuseCoveredID(bbox Rectangle) (int64, bool) {
	center := bbox.Center()
	for i, entry := range tracker.covered {
		d := euclideanDistance(center, entry.TLWH.Center())
		if d > tracker.cfg.ReuseMinDistance && d <= tracker.cfg.ReuseMaxDistance {
			tracker.covered = slices.Delete(tracker.covered, i, i+1)
			return entry.ID, true
		}
	}
	return 0, false
}

// refitMetric feeds features of confirmed tracks to metric and prunes galleries of every other identity
func (tracker *Tracker) refitMetric() error {
	activeTargets := make([]int64, 0, len(tracker.tracks))
	features := make([][]float64, 0)
	targets := make([]int64, 0)
	for _, track := range tracker.tracks {
		if !track.IsConfirmed() {
			continue
		}
		activeTargets = append(activeTargets, track.id)
		for _, feature := range track.takeFeatures() {
			features = append(features, feature)
			targets = append(targets, track.id)
		}
	}
	return tracker.metric.PartialFit(features, targets, activeTargets)
}

// Tracks returns active tracks in creation order. Tracks must not be mutated by caller.
func (tracker *Tracker) Tracks() []*Track {
	return slices.Clone(tracker.tracks)
}

// Snapshot returns copies of all active tracks
func (tracker *Tracker) Snapshot() []TrackSnapshot {
	snapshots := make([]TrackSnapshot, 0, len(tracker.tracks))
	for _, track := range tracker.tracks {
		snapshots = append(snapshots, track.Snapshot())
	}
	return snapshots
}

// Visible returns confirmed tracks which have been updated on the current frame.
// This is conventional output policy; callers may apply their own on top of Snapshot.
func (tracker *Tracker) Visible() []TrackSnapshot {
	snapshots := make([]TrackSnapshot, 0, len(tracker.tracks))
	for _, track := range tracker.tracks {
		if !track.IsConfirmed() || track.timeSinceUpdate > 0 {
			continue
		}
		snapshots = append(snapshots, track.Snapshot())
	}
	return snapshots
}

// Covered returns copy of covered ledger
func (tracker *Tracker) Covered() []CoveredEntry {
	return slices.Clone(tracker.covered)
}

// SessionID returns identifier of tracker instance (used to tag logs)
func (tracker *Tracker) SessionID() uuid.UUID {
	return tracker.sessionID
}

// FrameCount returns number of Predict calls
func (tracker *Tracker) FrameCount() uint64 {
	return tracker.frame
}

// Config returns tracker parameters
func (tracker *Tracker) Config() Config {
	return tracker.cfg
}
