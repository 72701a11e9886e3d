package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

var (
	Red  = color.RGBA{R: 255, A: 255}
	Blue = color.RGBA{B: 255, A: 255}
)

// CloneRGBA copies img into a new RGBA image with the same bounds.
func CloneRGBA(img image.Image) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	xdraw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return dst
}

func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	xdraw.Draw(dst, r, image.NewUniform(c), image.Point{}, xdraw.Src)
}

// DrawRect outlines r with a border of the given thickness drawn inward.
func DrawRect(dst *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	t := min(thickness, r.Dx(), r.Dy())
	if t <= 0 {
		return
	}
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// DrawLine draws a straight segment with a square brush.
func DrawLine(dst *image.RGBA, p0, p1 image.Point, c color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2
	dx, dy := abs(p1.X-p0.X), -abs(p1.Y-p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	e := dx + dy
	x, y := p0.X, p0.Y
	for {
		fill(dst, image.Rect(x-half, y-half, x-half+thickness, y-half+thickness), c)
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// Crop copies the part of img inside r. The result has its own pixels and
// bounds starting at (0,0); r is clipped to the image.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	bounds := image.Rect(0, 0, r.Dx(), r.Dy())
	if g, ok := img.(*image.Gray); ok {
		dst := image.NewGray(bounds)
		for y := 0; y < r.Dy(); y++ {
			src := g.PixOffset(r.Min.X, r.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()], g.Pix[src:src+r.Dx()])
		}
		return dst
	}
	dst := image.NewRGBA(bounds)
	xdraw.Draw(dst, bounds, img, r.Min, xdraw.Src)
	return dst
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
