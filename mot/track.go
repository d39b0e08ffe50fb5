package mot

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TrackState is lifecycle state of a track
type TrackState uint16

const (
	// Tentative tracks have not collected enough evidence yet
	Tentative TrackState = iota + 1
	// Confirmed tracks have been matched n_init times in a row
	Confirmed
	// Deleted tracks are dead and should be removed from the set of active tracks
	Deleted
)

func (state TrackState) String() string {
	switch state {
	case Tentative:
		return "tentative"
	case Confirmed:
		return "confirmed"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("TrackState(%d)", state)
	}
}

// Track is a single target with state space (cx, cy, a, h) and associated velocities
type Track struct {
	id    int64
	state TrackState
	// Kalman state and its uncertainty
	mean       *mat.VecDense
	covariance *mat.SymDense
	// Features collected since last metric refit
	features        [][]float64
	hits            int
	age             int
	timeSinceUpdate int
	// Number of consecutive hits needed for confirmation
	nInit int
	// Max number of consecutive misses before deletion
	maxAge int
	// Set when track has been hidden by another track at the moment of miss
	covered bool
	// Index of detection which updated track during current frame, -1 otherwise
	detectionIndex int
}

// NewTrack creates tentative track from initial state and first feature
func NewTrack(mean *mat.VecDense, covariance *mat.SymDense, id int64, nInit, maxAge int, feature []float64) *Track {
	track := Track{
		id:             id,
		state:          Tentative,
		mean:           mean,
		covariance:     covariance,
		features:       make([][]float64, 0, 1),
		hits:           1,
		age:            1,
		nInit:          nInit,
		maxAge:         maxAge,
		detectionIndex: -1,
	}
	if feature != nil {
		track.features = append(track.features, feature)
	}
	// Degenerate case when a single hit is enough
	if track.hits >= track.nInit {
		track.state = Confirmed
	}
	return &track
}

// ID returns track's identifier
func (track *Track) ID() int64 {
	return track.id
}

// State returns lifecycle state
func (track *Track) State() TrackState {
	return track.state
}

// Hits returns total number of measurement updates
func (track *Track) Hits() int {
	return track.hits
}

// Age returns number of frames since first occurrence
func (track *Track) Age() int {
	return track.age
}

// TimeSinceUpdate returns number of frames since last measurement update
func (track *Track) TimeSinceUpdate() int {
	return track.timeSinceUpdate
}

// DetectionIndex returns index of detection which updated track on the current frame, or -1
func (track *Track) DetectionIndex() int {
	return track.detectionIndex
}

// IsCovered reports whether track has been judged as occluded by another track
func (track *Track) IsCovered() bool {
	return track.covered
}

// IsTentative returns true if track is unconfirmed
func (track *Track) IsTentative() bool {
	return track.state == Tentative
}

// IsConfirmed returns true if track is confirmed
func (track *Track) IsConfirmed() bool {
	return track.state == Confirmed
}

// IsDeleted returns true if track is dead
func (track *Track) IsDeleted() bool {
	return track.state == Deleted
}

// TLWH returns current position as (top-left x, top-left y, width, height)
func (track *Track) TLWH() Rectangle {
	return NewRectFromXYAH([4]float64{
		track.mean.AtVec(0),
		track.mean.AtVec(1),
		track.mean.AtVec(2),
		track.mean.AtVec(3),
	})
}

// TLBR returns current position as (min x, min y, max x, max y)
func (track *Track) TLBR() [4]float64 {
	return track.TLWH().TLBR()
}

// Predict propagates state distribution one frame forward
func (track *Track) Predict(kf *KalmanFilter) {
	track.mean, track.covariance = kf.Predict(track.mean, track.covariance)
	track.age++
	track.timeSinceUpdate++
	track.detectionIndex = -1
}

// Update executes Kalman filter correction step with associated detection and does hit accounting.
// Track is left untouched when detection is invalid or correction fails.
func (track *Track) Update(kf *KalmanFilter, detection Detection, detectionIndex int) error {
	if err := detection.Validate(); err != nil {
		return errors.Wrapf(err, "Can't update track %d", track.id)
	}
	mean, covariance, err := kf.Update(track.mean, track.covariance, detection.XYAH())
	if err != nil {
		return errors.Wrapf(err, "Can't update track %d", track.id)
	}
	track.mean, track.covariance = mean, covariance
	track.features = append(track.features, detection.Feature)
	track.hits++
	track.timeSinceUpdate = 0
	track.detectionIndex = detectionIndex
	if track.state == Tentative && track.hits >= track.nInit {
		track.state = Confirmed
	}
	return nil
}

// MarkMissed marks track as missed (no association at the current frame)
func (track *Track) MarkMissed() {
	switch track.state {
	case Tentative:
		track.state = Deleted
	case Confirmed:
		if track.timeSinceUpdate > track.maxAge {
			track.state = Deleted
		}
	}
}

// checkCovered marks confirmed track as covered when some other box in boxes
// contains at least threshold share of track's area. boxes[self] is track's own box.
func (track *Track) checkCovered(boxes []Rectangle, self int, threshold float64) bool {
	if track.state != Confirmed {
		return false
	}
	own := boxes[self]
	for i, box := range boxes {
		if i == self {
			continue
		}
		if Containment(own, box) >= threshold {
			track.covered = true
			return true
		}
	}
	return false
}

// takeFeatures returns features collected since last call and clears accumulator
func (track *Track) takeFeatures() [][]float64 {
	features := track.features
	track.features = make([][]float64, 0, 1)
	return features
}

// TrackSnapshot is an immutable copy of track's public state
type TrackSnapshot struct {
	ID              int64
	TLWH            Rectangle
	State           TrackState
	Hits            int
	Age             int
	TimeSinceUpdate int
	DetectionIndex  int
}

// Snapshot copies public state of the track
func (track *Track) Snapshot() TrackSnapshot {
	return TrackSnapshot{
		ID:              track.id,
		TLWH:            track.TLWH(),
		State:           track.state,
		Hits:            track.hits,
		Age:             track.age,
		TimeSinceUpdate: track.timeSinceUpdate,
		DetectionIndex:  track.detectionIndex,
	}
}
