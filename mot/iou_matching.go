package mot

// IoU calculates Intersection over Union between two rectangles (tlwh).
func IoU(r1, r2 Rectangle) float64 {
	interArea := intersectionArea(r1, r2)
	if interArea == 0 {
		return 0.0
	}
	unionArea := r1.Area() + r2.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}

// Containment returns the share of inner's area covered by outer, in [0, 1].
func Containment(inner, outer Rectangle) float64 {
	area := inner.Area()
	if area <= 0 {
		return 0.0
	}
	return intersectionArea(inner, outer) / area
}

func intersectionArea(r1, r2 Rectangle) float64 {
	xA := max(r1.X, r2.X)
	yA := max(r1.Y, r2.Y)
	xB := min(r1.X+r1.Width, r2.X+r2.Width)
	yB := min(r1.Y+r1.Height, r2.Y+r2.Height)
	return max(0, xB-xA) * max(0, yB-yA)
}

// IOUCost builds cost matrix of 1 - IoU between predicted track boxes and detections.
// Rows correspond to trackIndices, columns to detectionIndices.
// Tracks which were not updated during previous frame are not IoU candidates: their rows are InfeasibleCost.
func IOUCost(tracks []*Track, detections []Detection, trackIndices, detectionIndices []int) ([][]float64, error) {
	costMatrix := make([][]float64, len(trackIndices))
	for row, trackIdx := range trackIndices {
		costMatrix[row] = make([]float64, len(detectionIndices))
		track := tracks[trackIdx]
		if track.TimeSinceUpdate() > 1 {
			for col := range costMatrix[row] {
				costMatrix[row][col] = InfeasibleCost
			}
			continue
		}
		bbox := track.TLWH()
		for col, detIdx := range detectionIndices {
			iouVal := IoU(bbox, detections[detIdx].TLWH)
			if iouVal <= 0 {
				costMatrix[row][col] = InfeasibleCost
				continue
			}
			costMatrix[row][col] = 1.0 - iouVal
		}
	}
	return costMatrix, nil
}
