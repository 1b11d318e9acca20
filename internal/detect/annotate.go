package detect

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BoxAnnotator renders detection boxes and captions onto a copy of an image.
type BoxAnnotator struct {
	Color     color.RGBA
	TextColor color.RGBA
	Thickness int
}

// NewBoxAnnotator returns an annotator with a red 2px box and white captions.
func NewBoxAnnotator() *BoxAnnotator {
	return &BoxAnnotator{
		Color:     color.RGBA{R: 255, A: 255},
		TextColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Thickness: 2,
	}
}

// Annotate draws every detection with its label (labels may be nil) and
// returns a new RGBA image; scene is left untouched.
func (a *BoxAnnotator) Annotate(scene image.Image, dets Detections, labels []string) *image.RGBA {
	b := scene.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), scene, b.Min, draw.Src)

	for i, d := range dets {
		r := d.Rect().Intersect(out.Bounds())
		if r.Empty() {
			continue
		}
		a.drawRect(out, r)
		if i < len(labels) && labels[i] != "" {
			a.drawLabel(out, r.Min, labels[i])
		}
	}
	return out
}

func (a *BoxAnnotator) drawRect(dst *image.RGBA, r image.Rectangle) {
	src := image.NewUniform(a.Color)
	t := a.Thickness
	if t < 1 {
		t = 1
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel places the caption above the box, or inside it at the top edge
// when there is no room.
func (a *BoxAnnotator) drawLabel(dst *image.RGBA, at image.Point, label string) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	height := face.Metrics().Height.Ceil() + 2

	top := at.Y - height
	if top < 0 {
		top = at.Y
	}
	bg := image.Rect(at.X, top, at.X+textWidth+4, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(a.Color), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(a.TextColor),
		Face: face,
		Dot:  fixed.P(at.X+2, top+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(label)
}
