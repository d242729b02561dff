package attachment

import (
	"io"

	"github.com/disintegration/imaging"
)

// Compressor re-encodes images as JPEG, shrinking them to a maximum width.
type Compressor struct {
	MaxWidth int
	Quality  int
}

// Compress decodes the image read from r, resizes it to MaxWidth when it is
// wider (aspect ratio preserved, never upscaled) and writes a JPEG to w.
func (c Compressor) Compress(r io.Reader, w io.Writer) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}

	if c.MaxWidth > 0 && img.Bounds().Dx() > c.MaxWidth {
		img = imaging.Resize(img, c.MaxWidth, 0, imaging.Lanczos)
	}

	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(c.Quality))
}
