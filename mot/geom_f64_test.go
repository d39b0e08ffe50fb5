package mot

import (
	"image"
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestEuclideanDistance(t *testing.T) {
	p1 := Point{X: 341, Y: 264}
	p2 := Point{X: 421, Y: 427}
	correnctAnswer := 181.57367
	answer := euclideanDistance(p1, p2)
	if math.Abs(answer-correnctAnswer) > eps {
		t.Errorf("Wrong answer: %v, correct answer: %v", answer, correnctAnswer)
	}
}

func TestRectangleXYAH(t *testing.T) {
	rect := NewRect(10, 20, 30, 40)
	xyah := rect.XYAH()
	correctAnswer := [4]float64{25, 40, 0.75, 40}
	for i := range xyah {
		if math.Abs(xyah[i]-correctAnswer[i]) > eps {
			t.Errorf("Wrong XYAH[%d]: %v, correct answer: %v", i, xyah[i], correctAnswer[i])
		}
	}
	back := NewRectFromXYAH(xyah)
	if math.Abs(back.X-rect.X) > eps || math.Abs(back.Y-rect.Y) > eps || math.Abs(back.Width-rect.Width) > eps || math.Abs(back.Height-rect.Height) > eps {
		t.Errorf("Round trip failed: %+v, expected %+v", back, rect)
	}
	tlbr := rect.TLBR()
	if tlbr != [4]float64{10, 20, 40, 60} {
		t.Errorf("Wrong TLBR: %v", tlbr)
	}
}

func TestRectangleValid(t *testing.T) {
	cases := []struct {
		rect  Rectangle
		valid bool
	}{
		{NewRect(0, 0, 10, 10), true},
		{NewRect(-5, -5, 10, 10), true},
		{NewRect(0, 0, 0, 10), false},
		{NewRect(0, 0, 10, -1), false},
		{NewRect(math.NaN(), 0, 10, 10), false},
		{NewRect(0, 0, math.Inf(1), 10), false},
	}
	for i, c := range cases {
		if c.rect.Valid() != c.valid {
			t.Errorf("Case %d: expected valid=%v for %+v", i, c.valid, c.rect)
		}
	}
}

func TestNewFromImage(t *testing.T) {
	rect := NewRectFrom(image.Rect(10, 20, 40, 60))
	if rect != NewRect(10, 20, 30, 40) {
		t.Errorf("Wrong rectangle: %+v", rect)
	}
	// Swapped corners are canonicalized
	rect = NewRectFrom(image.Rectangle{Min: image.Pt(40, 60), Max: image.Pt(10, 20)})
	if rect != NewRect(10, 20, 30, 40) {
		t.Errorf("Wrong rectangle: %+v", rect)
	}
	if center := rect.Center(); center != NewPoint(25, 40) {
		t.Errorf("Wrong center: %+v", center)
	}
	det := NewDetectionFrom(image.Rect(10, 20, 40, 60), 0.8, []float64{1, 0})
	if err := det.Validate(); err != nil {
		t.Fatal(err)
	}
	xyah := det.XYAH()
	correctAnswer := [4]float64{25, 40, 0.75, 40}
	for i := range xyah {
		if math.Abs(xyah[i]-correctAnswer[i]) > eps {
			t.Errorf("Wrong XYAH[%d]: %v, correct answer: %v", i, xyah[i], correctAnswer[i])
		}
	}
}
