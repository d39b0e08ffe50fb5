package mot

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// Detection is a single object observation on a frame
type Detection struct {
	// Bounding box in (top-left x, top-left y, width, height) format, pixels
	TLWH Rectangle
	// Detector confidence in [0, 1]
	Confidence float64
	// Appearance descriptor. Must have the same length for the whole session
	Feature []float64
}

// NewDetection creates detection from tlwh box
func NewDetection(tlwh Rectangle, confidence float64, feature []float64) Detection {
	return Detection{
		TLWH:       tlwh,
		Confidence: confidence,
		Feature:    feature,
	}
}

// NewDetectionFrom creates detection from integer pixel box, as produced by image detectors
func NewDetectionFrom(rect image.Rectangle, confidence float64, feature []float64) Detection {
	return NewDetection(NewRectFrom(rect), confidence, feature)
}

// XYAH returns box as (center x, center y, aspect ratio, height)
func (det Detection) XYAH() [4]float64 {
	return det.TLWH.XYAH()
}

// Validate checks box geometry and feature values
func (det Detection) Validate() error {
	if !det.TLWH.Valid() {
		return errors.Wrapf(ErrInvalidDetection, "bad box %+v", det.TLWH)
	}
	if len(det.Feature) == 0 {
		return errors.Wrap(ErrFeatureDimension, "empty feature")
	}
	for i, v := range det.Feature {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidDetection, "non-finite feature value at %d", i)
		}
	}
	return nil
}
