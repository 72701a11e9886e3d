package imaging

import (
	"image"
	"sort"
)

// Mask is a binary image. True marks foreground (ink).
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Bits: make([]bool, w*h)}
}

func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Bits[y*m.Width+x] = v
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Gray renders the mask with ink black on white paper.
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if !b {
			g.Pix[i] = 255
		}
	}
	return g
}

// InkMask marks every pixel at or below threshold as foreground.
func InkMask(g *image.Gray, threshold uint8) *Mask {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	m := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Bits[y*w+x] = g.Pix[y*g.Stride+x] <= threshold
		}
	}
	return m
}

// And keeps pixels set in both masks. The masks must share dimensions.
func And(a, b *Mask) *Mask {
	out := NewMask(a.Width, a.Height)
	for i := range out.Bits {
		out.Bits[i] = a.Bits[i] && b.Bits[i]
	}
	return out
}

// morph1D runs a flat line structuring element of the given length along
// rows (or columns when vertical). The anchor sits at length/2. Pixels
// outside the image are ignored, so borders never erode.
func morph1D(m *Mask, length int, vertical, erode bool) *Mask {
	out := NewMask(m.Width, m.Height)
	if length <= 1 {
		copy(out.Bits, m.Bits)
		return out
	}
	lines, span := m.Height, m.Width
	index := func(line, pos int) int { return line*m.Width + pos }
	if vertical {
		lines, span = m.Width, m.Height
		index = func(line, pos int) int { return pos*m.Width + line }
	}
	anchor := length / 2
	prefix := make([]int, span+1)
	for line := 0; line < lines; line++ {
		for pos := 0; pos < span; pos++ {
			prefix[pos+1] = prefix[pos]
			if m.Bits[index(line, pos)] {
				prefix[pos+1]++
			}
		}
		for pos := 0; pos < span; pos++ {
			lo := max(pos-anchor, 0)
			hi := min(pos-anchor+length, span)
			n := prefix[hi] - prefix[lo]
			if erode {
				out.Bits[index(line, pos)] = n == hi-lo
			} else {
				out.Bits[index(line, pos)] = n > 0
			}
		}
	}
	return out
}

// Erode applies a width x height rectangular erosion.
func Erode(m *Mask, width, height int) *Mask {
	return morph1D(morph1D(m, width, false, true), height, true, true)
}

// Dilate applies a width x height rectangular dilation.
func Dilate(m *Mask, width, height int) *Mask {
	return morph1D(morph1D(m, width, false, false), height, true, false)
}

// Open erodes iterations times and then dilates iterations times.
func Open(m *Mask, width, height, iterations int) *Mask {
	out := m
	for range iterations {
		out = Erode(out, width, height)
	}
	for range iterations {
		out = Dilate(out, width, height)
	}
	return out
}

// Close dilates then erodes, joining nearby foreground.
func Close(m *Mask, width, height int) *Mask {
	return Erode(Dilate(m, width, height), width, height)
}

// Components returns the bounding boxes of the 8-connected foreground
// components in raster order of their first pixel.
func Components(m *Mask) []image.Rectangle {
	seen := make([]bool, len(m.Bits))
	var boxes []image.Rectangle
	var stack []int
	for start, b := range m.Bits {
		if !b || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		box := image.Rect(start%m.Width, start/m.Width, start%m.Width+1, start/m.Width+1)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%m.Width, p/m.Width
			box = box.Union(image.Rect(x, y, x+1, y+1))
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.Width || ny >= m.Height {
						continue
					}
					q := ny*m.Width + nx
					if m.Bits[q] && !seen[q] {
						seen[q] = true
						stack = append(stack, q)
					}
				}
			}
		}
		boxes = append(boxes, box)
	}
	return boxes
}

// OuterBoxes drops every box that lies inside another one, keeping the
// outermost components only. Input order is preserved.
func OuterBoxes(boxes []image.Rectangle) []image.Rectangle {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	area := func(r image.Rectangle) int { return r.Dx() * r.Dy() }
	sort.SliceStable(order, func(a, b int) bool {
		return area(boxes[order[a]]) > area(boxes[order[b]])
	})

	keep := make([]bool, len(boxes))
	var kept []image.Rectangle
	for _, i := range order {
		inner := false
		for _, k := range kept {
			if boxes[i].In(k) {
				inner = true
				break
			}
		}
		if !inner {
			keep[i] = true
			kept = append(kept, boxes[i])
		}
	}

	out := make([]image.Rectangle, 0, len(kept))
	for i, b := range boxes {
		if keep[i] {
			out = append(out, b)
		}
	}
	return out
}
