package fetch

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Host-platform photo constraints.
const (
	maxPixelSum = 10000 // width + height
	maxRatio    = 20.0
)

// jpegQualities are tried in order until the encoded size fits.
var jpegQualities = []int{90, 80, 70, 55, 40, 30}

// ProcessedImage is the outcome of NormalizeImage.
type ProcessedImage struct {
	Data      []byte
	Width     int
	Height    int
	Reencoded bool
}

// NormalizeImage makes a photo acceptable to the host platform:
// oversized or extreme-ratio images are scaled and cropped, formats the
// platform rejects (webp among them) are transcoded, and anything over
// maxBytes is re-encoded as JPEG at decreasing quality. Images already
// within all limits pass through untouched.
func NormalizeImage(data []byte, maxBytes int64) (*ProcessedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	nativeFormat := format == "jpeg" || format == "png" || format == "gif"
	withinLimits := cfg.Width+cfg.Height <= maxPixelSum &&
		ratio(cfg.Width, cfg.Height) <= maxRatio &&
		(maxBytes <= 0 || int64(len(data)) <= maxBytes)

	if nativeFormat && withinLimits {
		return &ProcessedImage{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img = clampRatio(img)
	img = clampPixelSum(img)

	bounds := img.Bounds()
	out := &ProcessedImage{Width: bounds.Dx(), Height: bounds.Dy(), Reencoded: true}

	for _, quality := range jpegQualities {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		out.Data = buf.Bytes()
		if maxBytes <= 0 || int64(buf.Len()) <= maxBytes {
			return out, nil
		}
	}
	if maxBytes > 0 && int64(len(out.Data)) > maxBytes {
		return nil, fmt.Errorf("image stays over %d bytes at minimum quality", maxBytes)
	}
	return out, nil
}

// clampRatio center-crops images whose long side exceeds maxRatio times
// the short side.
func clampRatio(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if ratio(w, h) <= maxRatio {
		return img
	}
	if w > h {
		return imaging.CropCenter(img, int(float64(h)*maxRatio), h)
	}
	return imaging.CropCenter(img, w, int(float64(w)*maxRatio))
}

// clampPixelSum scales images down until width+height fits.
func clampPixelSum(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w+h <= maxPixelSum {
		return img
	}
	scale := float64(maxPixelSum) / float64(w+h)
	return imaging.Resize(img, int(float64(w)*scale), 0, imaging.Lanczos)
}

func ratio(w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	if w > h {
		return float64(w) / float64(h)
	}
	return float64(h) / float64(w)
}
