package eventsink

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveImageWritesFullSizeAndThumbnail(t *testing.T) {
	dir := t.TempDir()
	raw := encodedTestPNG(t, 300, 200)
	at := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	id, err := SaveImage(dir, "camera", value.Image{Bytes: raw, MimeType: "image/png"}, at)
	require.NoError(t, err)
	assert.Equal(t, "20260305/143000", id)

	full, err := ResolveImage(dir, "camera", id)
	require.NoError(t, err)
	assert.Equal(t, raw, full)

	thumb, err := ResolveImage(dir, "camera", id+".t")
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	bounds := decoded.Bounds()
	assert.LessOrEqual(t, bounds.Dx(), thumbnailMaxDim)
	assert.LessOrEqual(t, bounds.Dy(), thumbnailMaxDim)
}

func TestSaveImageDisambiguatesSameSecondWrites(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	id1, err := SaveImage(dir, "camera", value.Image{Bytes: encodedTestPNG(t, 10, 10)}, at)
	require.NoError(t, err)
	id2, err := SaveImage(dir, "camera", value.Image{Bytes: encodedTestPNG(t, 10, 10)}, at)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestResolveImageNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := ResolveImage(dir, "camera", "20260101/000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
