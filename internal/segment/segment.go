// Package segment finds text-bearing regions on a binarized page.
package segment

import (
	"image"
	"sort"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/imaging"
	"github.com/dgallion1/docrecon/internal/record"
)

// inkLevel is the highest gray value treated as ink on a binarized page.
const inkLevel = 127

type Segmenter struct {
	cfg config.Segmentation
}

func New(cfg config.Segmentation) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// FindTextRegions returns the bounding boxes of the outermost ink
// components that pass the area and aspect-ratio filters, in reading
// order (ascending y). It returns an empty slice when nothing qualifies.
func (s *Segmenter) FindTextRegions(bin *image.Gray) []record.Region {
	boxes := imaging.OuterBoxes(imaging.Components(imaging.InkMask(bin, inkLevel)))

	regions := make([]record.Region, 0, len(boxes))
	for _, b := range boxes {
		r := record.RegionFromRect(b)
		if r.Height == 0 {
			continue
		}
		aspect := float64(r.Width) / float64(r.Height)
		if r.Area() >= s.cfg.MinContourArea &&
			aspect >= s.cfg.MinAspectRatio && aspect <= s.cfg.MaxAspectRatio {
			regions = append(regions, r)
		}
	}
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Y < regions[j].Y })
	return regions
}

// DrawRegions returns a copy of img with every region outlined in red.
func DrawRegions(img image.Image, regions []record.Region) *image.RGBA {
	out := imaging.CloneRGBA(img)
	for _, r := range regions {
		imaging.DrawRect(out, r.Rect().Add(img.Bounds().Min), imaging.Red, 2)
	}
	return out
}

// ExtractRegions crops each region from img. The crops are returned in the
// same order as regions.
func ExtractRegions(img image.Image, regions []record.Region) []image.Image {
	crops := make([]image.Image, len(regions))
	for i, r := range regions {
		crops[i] = imaging.Crop(img, r.Rect().Add(img.Bounds().Min))
	}
	return crops
}
