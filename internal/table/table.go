// Package table detects ruled tables from the crossings of horizontal and
// vertical lines on a grayscale page.
package table

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/imaging"
	"github.com/dgallion1/docrecon/internal/record"
)

// minPoints is the fewest intersections that can bound a cell.
const minPoints = 4

// DetectionError is returned when the image could not be processed. It is
// recoverable: the page simply has no tables.
type DetectionError struct {
	Stage string
	Err   error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("table detection (%s): %v", e.Stage, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

type Detector struct {
	cfg config.TableDetection
	log *slog.Logger
}

func New(cfg config.TableDetection, log *slog.Logger) *Detector {
	return &Detector{cfg: cfg, log: log}
}

// DetectTables returns at most one table per page. Fewer than four
// intersections is not an error; the result is just empty.
func (d *Detector) DetectTables(gray *image.Gray) ([]record.TableInfo, error) {
	points, err := d.Intersections(gray)
	if err != nil {
		return nil, err
	}
	if len(points) < minPoints {
		d.log.Debug("no table found", "intersections", len(points))
		return []record.TableInfo{}, nil
	}

	info := buildGrid(gray, points, d.cfg.IntersectionThreshold)
	if len(info.Cells) == 0 {
		d.log.Debug("intersections do not form cells", "intersections", len(points))
		return []record.TableInfo{}, nil
	}
	d.log.Info("table detected", "rows", info.NumRows, "columns", info.NumColumns, "cells", len(info.Cells))
	return []record.TableInfo{info}, nil
}

// Intersections isolates the ruling lines and clusters their crossings.
func (d *Detector) Intersections(gray *image.Gray) (points []record.Point, err error) {
	stage := "threshold"
	defer func() {
		if r := recover(); r != nil {
			err = &DetectionError{Stage: stage, Err: fmt.Errorf("%v", r)}
		}
	}()

	if gray == nil || gray.Rect.Empty() {
		return nil, &DetectionError{Stage: stage, Err: errors.New("empty image")}
	}
	ink := imaging.InkMask(gray, uint8(d.cfg.ThresholdValue))

	stage = "lines"
	horizontal := imaging.Open(ink, d.cfg.HorizontalKernelLength, 1, d.cfg.LineDetectionIterations)
	vertical := imaging.Open(ink, 1, d.cfg.VerticalKernelLength, d.cfg.LineDetectionIterations)

	stage = "intersections"
	joints := imaging.And(horizontal, vertical)
	return ClusterPoints(joints, d.cfg.IntersectionThreshold), nil
}

// ClusterPoints groups foreground pixels in row-major order. A pixel joins
// the first cluster whose centroid is closer than threshold, and that
// centroid moves to the midpoint of the two. Otherwise the pixel starts a
// new cluster. The result depends on scan order, and clusters have no size
// cap, so dense line crossings can merge into one point.
func ClusterPoints(m *imaging.Mask, threshold float64) []record.Point {
	var clusters []record.Point
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Bits[y*m.Width+x] {
				continue
			}
			p := record.Point{Row: float64(y), Col: float64(x)}
			joined := false
			for i, c := range clusters {
				if math.Hypot(p.Row-c.Row, p.Col-c.Col) < threshold {
					clusters[i] = record.Point{Row: (c.Row + p.Row) / 2, Col: (c.Col + p.Col) / 2}
					joined = true
					break
				}
			}
			if !joined {
				clusters = append(clusters, p)
			}
		}
	}
	return clusters
}

// axisLines collapses sorted coordinates closer than threshold to the
// first one of their run into a single grid line at the run's mean.
func axisLines(values []float64, threshold float64) []float64 {
	sort.Float64s(values)
	var lines []float64
	for i := 0; i < len(values); {
		j, sum := i, 0.0
		for j < len(values) && values[j]-values[i] < threshold {
			sum += values[j]
			j++
		}
		lines = append(lines, sum/float64(j-i))
		i = j
	}
	return lines
}

// buildGrid sorts the points by (row, col), derives the distinct row and
// column lines and emits a cell for every adjacent pair on both axes.
// Zero-area cells are dropped.
func buildGrid(gray *image.Gray, points []record.Point, threshold float64) record.TableInfo {
	sorted := make([]record.Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	rowVals := make([]float64, len(sorted))
	colVals := make([]float64, len(sorted))
	for i, p := range sorted {
		rowVals[i] = p.Row
		colVals[i] = p.Col
	}
	rows := axisLines(rowVals, threshold)
	cols := axisLines(colVals, threshold)

	info := record.TableInfo{IntersectionPoints: sorted}
	for i := 0; i+1 < len(rows); i++ {
		for j := 0; j+1 < len(cols); j++ {
			y0, y1 := int(rows[i]), int(rows[i+1])
			x0, x1 := int(cols[j]), int(cols[j+1])
			if x1-x0 <= 0 || y1-y0 <= 0 {
				continue
			}
			bbox := record.Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
			info.Cells = append(info.Cells, record.Cell{
				RowIndex: i,
				ColIndex: j,
				BBox:     bbox,
				Image:    imaging.Crop(gray, bbox.Rect().Add(gray.Rect.Min)),
			})
		}
	}
	for _, c := range info.Cells {
		info.NumRows = max(info.NumRows, c.RowIndex+1)
		info.NumColumns = max(info.NumColumns, c.ColIndex+1)
	}
	return info
}

// DrawTableBoundaries outlines every cell in blue and joins intersection
// points that share a row or column. On any failure it returns img as is.
func DrawTableBoundaries(img image.Image, info record.TableInfo) (out image.Image) {
	defer func() {
		if r := recover(); r != nil {
			out = img
		}
	}()

	canvas := imaging.CloneRGBA(img)
	origin := img.Bounds().Min
	for _, c := range info.Cells {
		imaging.DrawRect(canvas, c.BBox.Rect().Add(origin), imaging.Blue, 2)
	}
	pts := info.IntersectionPoints
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			a := image.Pt(int(pts[i].Col), int(pts[i].Row)).Add(origin)
			b := image.Pt(int(pts[j].Col), int(pts[j].Row)).Add(origin)
			if math.Abs(pts[i].Row-pts[j].Row) < 5 || math.Abs(pts[i].Col-pts[j].Col) < 5 {
				imaging.DrawLine(canvas, a, b, imaging.Blue, 2)
			}
		}
	}
	return canvas
}
