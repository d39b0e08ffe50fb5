package mot

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// Frame is a set of detections for a single frame. Index must grow strictly from frame to frame.
type Frame struct {
	Index      uint64
	Detections []Detection
}

// FrameResult is tracker output after processing a frame
type FrameResult struct {
	Index uint64
	// Every active track
	Tracks []TrackSnapshot
	// Confirmed tracks updated on this frame
	Visible []TrackSnapshot
}

// Run consumes frames in arrival order until frames is closed or ctx is cancelled.
// It is the only owner of tracker state while running: a producer (detector, embedder)
// may run concurrently and feed a bounded channel, but must not touch tracker.
// Frames whose Index is not greater than the last processed one are dropped and logged.
//
// Returns nil when frames is closed, ctx.Err() on cancellation, or the first Update error.
func (tracker *Tracker) Run(ctx context.Context, frames <-chan Frame, results chan<- FrameResult) error {
	processed := false
	var lastIndex uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if processed && frame.Index <= lastIndex {
				tracker.logger.Warn("out of order frame dropped", slog.Uint64("index", frame.Index), slog.Uint64("last_index", lastIndex))
				continue
			}
			tracker.Predict()
			if err := tracker.Update(frame.Detections); err != nil {
				return errors.Wrapf(err, "Can't process frame %d", frame.Index)
			}
			processed = true
			lastIndex = frame.Index
			result := FrameResult{
				Index:   frame.Index,
				Tracks:  tracker.Snapshot(),
				Visible: tracker.Visible(),
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case results <- result:
			}
		}
	}
}
