package imaging

import (
	"image"

	"github.com/dgallion1/docrecon/internal/config"
)

// Prepared is a page ready for segmentation and table detection.
type Prepared struct {
	Gray   *image.Gray // downscaled grayscale page
	Binary *image.Gray // adaptive threshold, ink 0 on paper 255
	Blocks *image.Gray // Binary with ink closed into text blocks
}

// Preprocessor turns a scanned page into the images the detectors consume.
type Preprocessor struct {
	cfg config.Preprocessing
}

func NewPreprocessor(cfg config.Preprocessing) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

func (p *Preprocessor) Process(img image.Image) Prepared {
	gray := ToGray(Downscale(img, p.cfg.MaxDimension))
	smooth := BoxBlur(gray, p.cfg.BlurRadius)
	binary := AdaptiveThreshold(smooth, p.cfg.AdaptiveBlockSize, p.cfg.AdaptiveC)
	ink := InkMask(binary, 127)
	blocks := Close(ink, p.cfg.MorphKernelWidth, p.cfg.MorphKernelHeight)
	return Prepared{
		Gray:   gray,
		Binary: binary,
		Blocks: blocks.Gray(),
	}
}
