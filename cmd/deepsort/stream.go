package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Duy-Cao-Vo/Head-detection-Deep-sort/mot"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// cameraStream owns tracker of a single camera
type cameraStream struct {
	cameraID int64
	tracker  *mot.Tracker
	frames   chan mot.Frame
	pending  chan pendingLine
	logger   *slog.Logger
	// Last accepted frame index
	lastIndex uint64
	started   bool
}

// pendingLine is an input line waiting for its tracking result
type pendingLine struct {
	raw string
	// itemOf[i] is position in "items" of i-th detection passed to tracker
	itemOf []int
}

// trackJSON is output representation of a visible track
type trackJSON struct {
	ID    int64      `json:"id"`
	BBox  [4]float64 `json:"bbox"`
	State string     `json:"state"`
	Hits  int        `json:"hits"`
}

func newCameraStream(cfg mot.Config, cameraID int64, logger *slog.Logger) (*cameraStream, error) {
	metric, err := cfg.NewMetric()
	if err != nil {
		return nil, err
	}
	streamLogger := logger.With(slog.Int64("camera", cameraID))
	tracker, err := mot.NewTracker(metric, cfg, mot.WithLogger(streamLogger))
	if err != nil {
		return nil, err
	}
	streamLogger.Info("tracker started", slog.String("session", tracker.SessionID().String()))
	return &cameraStream{
		cameraID: cameraID,
		tracker:  tracker,
		frames:   make(chan mot.Frame, frameQueueSize),
		pending:  make(chan pendingLine, frameQueueSize),
		logger:   streamLogger,
	}, nil
}

// parse converts input line to tracker frame. Returns false when line must be skipped.
func (s *cameraStream) parse(raw string, minConfidence float64) (mot.Frame, pendingLine, bool) {
	index := s.lastIndex + 1
	if v := gjson.Get(raw, "frame"); v.Exists() {
		index = v.Uint()
	}
	if s.started && index <= s.lastIndex {
		s.logger.Warn("out of order frame skipped", slog.Uint64("frame", index), slog.Uint64("last_frame", s.lastIndex))
		return mot.Frame{}, pendingLine{}, false
	}
	s.started = true
	s.lastIndex = index

	items := gjson.Get(raw, "items").Array()
	detections := make([]mot.Detection, 0, len(items))
	itemOf := make([]int, 0, len(items))
	for k, item := range items {
		bbox := item.Get("bbox").Array()
		if len(bbox) != 4 {
			s.logger.Warn("item without tlwh bbox skipped", slog.Uint64("frame", index), slog.Int("item", k))
			continue
		}
		confidence := 1.0
		if v := item.Get("confidence"); v.Exists() {
			confidence = v.Float()
		}
		if confidence < minConfidence {
			continue
		}
		feature := make([]float64, 0, 128)
		item.Get("feature").ForEach(func(_, value gjson.Result) bool {
			feature = append(feature, value.Float())
			return true
		})
		rect := mot.NewRect(bbox[0].Float(), bbox[1].Float(), bbox[2].Float(), bbox[3].Float())
		detections = append(detections, mot.NewDetection(rect, confidence, feature))
		itemOf = append(itemOf, k)
	}
	return mot.Frame{Index: index, Detections: detections}, pendingLine{raw: raw, itemOf: itemOf}, true
}

// serve runs tracker and writes annotated lines in frame order
func (s *cameraStream) serve(ctx context.Context, lines chan<- string) error {
	results := make(chan mot.FrameResult)
	done := make(chan error, 1)
	go func() {
		done <- s.tracker.Run(ctx, s.frames, results)
		close(results)
	}()
	for result := range results {
		pending := <-s.pending
		line, err := annotate(pending, result)
		if err != nil {
			s.logger.Warn("can't annotate line", slog.Uint64("frame", result.Index), slog.Any("err", err))
			line = pending.raw
		}
		select {
		case lines <- line:
		case <-ctx.Done():
		}
	}
	return <-done
}

// annotate sets "id" of items consumed by visible tracks and adds "tracks" array
func annotate(pending pendingLine, result mot.FrameResult) (string, error) {
	out := pending.raw
	tracks := make([]trackJSON, 0, len(result.Visible))
	for _, track := range result.Visible {
		tracks = append(tracks, trackJSON{
			ID:    track.ID,
			BBox:  [4]float64{track.TLWH.X, track.TLWH.Y, track.TLWH.Width, track.TLWH.Height},
			State: track.State.String(),
			Hits:  track.Hits,
		})
		if track.DetectionIndex < 0 || track.DetectionIndex >= len(pending.itemOf) {
			continue
		}
		var err error
		out, err = sjson.Set(out, fmt.Sprintf("items.%d.id", pending.itemOf[track.DetectionIndex]), track.ID)
		if err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(tracks)
	if err != nil {
		return "", err
	}
	return sjson.SetRaw(out, "tracks", string(raw))
}
