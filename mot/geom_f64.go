package mot

import (
	"image"
	"math"
)

// Rectangle is a bounding box in top-left, width, height (tlwh) format, pixels.
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectFrom converts integer detector box (Min is top-left corner) to tlwh.
func NewRectFrom(rect image.Rectangle) Rectangle {
	rect = rect.Canon()
	return NewRect(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
}

// NewRectFromXYAH converts (center x, center y, aspect ratio, height) back to tlwh.
func NewRectFromXYAH(xyah [4]float64) Rectangle {
	width := xyah[2] * xyah[3]
	return Rectangle{
		X:      xyah[0] - width/2.0,
		Y:      xyah[1] - xyah[3]/2.0,
		Width:  width,
		Height: xyah[3],
	}
}

// Center returns center of the box
func (r Rectangle) Center() Point {
	return NewPoint(r.X+r.Width/2.0, r.Y+r.Height/2.0)
}

// Area returns width*height
func (r Rectangle) Area() float64 {
	return r.Width * r.Height
}

// XYAH returns (center x, center y, aspect ratio, height) where aspect ratio is width/height.
func (r Rectangle) XYAH() [4]float64 {
	c := r.Center()
	return [4]float64{c.X, c.Y, r.Width / r.Height, r.Height}
}

// TLBR returns (min x, min y, max x, max y)
func (r Rectangle) TLBR() [4]float64 {
	return [4]float64{r.X, r.Y, r.X + r.Width, r.Y + r.Height}
}

// Valid reports whether box has finite coordinates and positive size.
func (r Rectangle) Valid() bool {
	for _, v := range [4]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}
