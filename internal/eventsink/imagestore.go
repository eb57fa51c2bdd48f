package eventsink

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/mnemnk/runtime/internal/agent/value"
)

// thumbnailMaxDim bounds the longest edge of a generated .t.png thumbnail.
const thumbnailMaxDim = 128

// SaveImage writes an image sidecar and its thumbnail under
// <dataDir>/<kind>/image/<YYYYMMDD>/<HHMMSS[-tag]>.png per spec.md §6, and
// returns the image id used to look both files back up via ResolveImage.
// No image-codec or resize library is imported anywhere in the example
// corpus, so the thumbnail is produced by makeThumbnail's hand-written
// nearest-neighbor downsample over the standard library's image packages.
func SaveImage(dataDir, kind string, img value.Image, at time.Time) (string, error) {
	raw := img.Bytes
	if len(raw) == 0 {
		return "", fmt.Errorf("event sink: image has no bytes")
	}

	dayDir := at.Format("20060102")
	dir := filepath.Join(dataDir, kind, "image", dayDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("event sink: create image dir: %w", err)
	}

	base := at.Format("150405")
	name := base
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name+".png")); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}

	fullPath := filepath.Join(dir, name+".png")
	if err := os.WriteFile(fullPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("event sink: write image: %w", err)
	}

	if thumb, err := makeThumbnail(raw); err == nil {
		thumbPath := filepath.Join(dir, name+".t.png")
		_ = os.WriteFile(thumbPath, thumb, 0o644)
	}

	return filepath.Join(dayDir, name), nil
}

// ResolveImage reads back a full-size or thumbnail sidecar written by
// SaveImage. A trailing ".t" on imageID selects the thumbnail variant.
func ResolveImage(dataDir, kind, imageID string) ([]byte, error) {
	suffix := ".png"
	id := imageID
	const thumbSuffix = ".t"
	if len(id) > len(thumbSuffix) && id[len(id)-len(thumbSuffix):] == thumbSuffix {
		id = id[:len(id)-len(thumbSuffix)]
		suffix = ".t.png"
	}

	path := filepath.Join(dataDir, kind, "image", filepath.FromSlash(id)+suffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("event sink: read image: %w", err)
	}
	return data, nil
}

// makeThumbnail decodes raw (any format the standard library understands)
// and nearest-neighbor downsamples it to fit within thumbnailMaxDim on its
// longest edge, re-encoding as PNG.
func makeThumbnail(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	scale := 1.0
	if w > h && w > thumbnailMaxDim {
		scale = float64(thumbnailMaxDim) / float64(w)
	} else if h >= w && h > thumbnailMaxDim {
		scale = float64(thumbnailMaxDim) / float64(h)
	}
	dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	if scale == 1.0 {
		// Already within bounds: a straight copy, stdlib has no scaler to
		// reach for here.
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	} else {
		for y := 0; y < dstH; y++ {
			for x := 0; x < dstW; x++ {
				srcX := bounds.Min.X + x*w/dstW
				srcY := bounds.Min.Y + y*h/dstH
				dst.Set(x, y, src.At(srcX, srcY))
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
