// Package overlay annotates captured frames with detection boxes and
// occupancy counters before they are streamed to the monitor UI.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresvm/person-counter/pkg/types"
)

var (
	boxColor   = color.RGBA{0, 200, 0, 255}
	labelColor = color.RGBA{0, 200, 0, 255}
	textColor  = color.RGBA{255, 255, 255, 255}
)

const boxThickness = 2

// Annotate draws detection rectangles with labels and the occupancy header
// onto img in place.
func Annotate(img *image.RGBA, detections []types.Detection, stats types.OccupancyStats) {
	for _, det := range detections {
		r := image.Rect(det.BBox.X, det.BBox.Y, det.BBox.X+det.BBox.W, det.BBox.Y+det.BBox.H)
		drawRect(img, r, boxColor, boxThickness)
		drawText(img, det.BBox.X, det.BBox.Y-4,
			fmt.Sprintf("Person %.2f", det.Confidence), labelColor)
	}

	drawText(img, 10, 30, fmt.Sprintf("Persons: %d", stats.CurrentPersons), textColor)
	drawText(img, 10, 60, fmt.Sprintf("Total: %d", stats.TotalCounted), labelColor)
}

// drawRect paints the border of r with the given thickness, clipped to the
// image bounds.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	r = r.Intersect(bounds)
	if r.Empty() {
		return
	}

	src := &image.Uniform{c}
	top := image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness).Intersect(bounds)
	bottom := image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y).Intersect(bounds)
	left := image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y).Intersect(bounds)
	right := image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y).Intersect(bounds)
	for _, edge := range []image.Rectangle{top, bottom, left, right} {
		draw.Draw(img, edge, src, image.Point{}, draw.Src)
	}
}

// drawText renders s with the dot at pixel (x, y). Text outside the image is
// clipped by the drawer.
func drawText(img *image.RGBA, x, y int, s string, c color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{c},
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
