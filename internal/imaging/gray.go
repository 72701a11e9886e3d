// Package imaging holds the pixel operations used by page reconstruction:
// grayscale conversion, thresholding, binary morphology, connected
// components and overlay drawing.
package imaging

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ToGray copies img into a grayscale image whose bounds start at (0,0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Downscale shrinks img so its longer side is at most maxDim. Images that
// already fit, or a non-positive maxDim, are returned unchanged.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// integral returns the summed-area table of g with one row and column of
// zero padding.
func integral(g *image.Gray) []int64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	sum := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(g.Pix[y*g.Stride+x])
			sum[(y+1)*(w+1)+x+1] = sum[y*(w+1)+x+1] + row
		}
	}
	return sum
}

// windowMean averages the clipped square window of radius r around (x,y).
func windowMean(sum []int64, w, h, x, y, r int) float64 {
	x0, y0 := max(x-r, 0), max(y-r, 0)
	x1, y1 := min(x+r+1, w), min(y+r+1, h)
	s := sum[y1*(w+1)+x1] - sum[y0*(w+1)+x1] - sum[y1*(w+1)+x0] + sum[y0*(w+1)+x0]
	return float64(s) / float64((x1-x0)*(y1-y0))
}

// BoxBlur smooths g with a square mean filter of the given radius.
func BoxBlur(g *image.Gray, radius int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if radius <= 0 {
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return dst
	}
	sum := integral(g)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = uint8(windowMean(sum, w, h, x, y, radius) + 0.5)
		}
	}
	return dst
}

// AdaptiveThreshold binarizes g against the local mean of a block x block
// neighbourhood minus c. Pixels brighter than that become paper (255), the
// rest ink (0).
func AdaptiveThreshold(g *image.Gray, block int, c float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	sum := integral(g)
	r := block / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if float64(g.Pix[y*g.Stride+x]) > windowMean(sum, w, h, x, y, r)-c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}
