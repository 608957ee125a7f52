package transform

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

func gradient() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	return img
}

func TestOptimize(t *testing.T) {
	var fastPNG bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&fastPNG, gradient()))

	var bigJPEG bytes.Buffer
	require.NoError(t, jpeg.Encode(&bigJPEG, gradient(), &jpeg.Options{Quality: 100}))

	files := []*pipe.File{
		pipe.NewFile("app/images", "a.png", fastPNG.Bytes()),
		pipe.NewFile("app/images", "b.jpg", bigJPEG.Bytes()),
		pipe.NewFile("app/images", "broken.png", []byte("not a png")),
		pipe.NewFile("app/images", "c.svg", []byte("<svg/>")),
	}

	out := run(t, Optimize(OptimizeOptions{JPEGQuality: 60}), files...)
	require.Len(t, out, 4)

	assert.Less(t, len(out[0].Contents), fastPNG.Len())
	decoded, err := png.Decode(bytes.NewReader(out[0].Contents))
	require.NoError(t, err)
	assert.Equal(t, gradient().Bounds(), decoded.Bounds())

	assert.Less(t, len(out[1].Contents), bigJPEG.Len())
	assert.Equal(t, "not a png", string(out[2].Contents))
	assert.Equal(t, "<svg/>", string(out[3].Contents))
}

func TestOptimizeKeepsSmallerOriginal(t *testing.T) {
	var small bytes.Buffer
	require.NoError(t, jpeg.Encode(&small, gradient(), &jpeg.Options{Quality: 10}))

	out := run(t, Optimize(OptimizeOptions{JPEGQuality: 95}), pipe.NewFile("app", "x.jpeg", small.Bytes()))
	assert.Equal(t, small.Bytes(), out[0].Contents)
}

func TestWebP(t *testing.T) {
	// cwebp -quiet -q N in -o out
	cwebp := fakeTool(t, "cwebp", `printf "q=%s " "$3" > "$6"; cat "$4" >> "$6"`)
	files := []*pipe.File{
		pipe.NewFile("app/images", "photos/cat.jpg", []byte("JPEG")),
		pipe.NewFile("app/images", "logo.svg", []byte("<svg/>")),
	}

	out := run(t, WebP(WebPOptions{Binary: cwebp, Quality: 80}), files...)
	require.Len(t, out, 1)
	assert.Equal(t, "photos/cat.webp", out[0].Relative())
	assert.Equal(t, "q=80 JPEG", string(out[0].Contents))
	assert.Equal(t, "JPEG", string(files[0].Contents))

	kept := run(t, WebP(WebPOptions{Binary: cwebp, Keep: true}), files[1])
	require.Len(t, kept, 1)
	assert.Equal(t, "logo.svg", kept[0].Relative())
}

func TestWebPMatchesPictureRewrite(t *testing.T) {
	cwebp := fakeTool(t, "cwebp", `cat "$4" > "$6"`)
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.gif", "e.svg", "f.bmp"} {
		converted := run(t, WebP(WebPOptions{Binary: cwebp}), pipe.NewFile("app/images", name, []byte("IMG")))
		page, err := RewritePictures([]byte(`<img src="images/` + name + `">`))
		require.NoError(t, err)

		rewritten := strings.Contains(string(page), "<picture>")
		assert.Equal(t, len(converted) == 1, rewritten,
			"%s: pages point at a .webp exactly when one is produced", name)
	}
}

func TestWebPFailure(t *testing.T) {
	cwebp := fakeTool(t, "cwebp", `echo "Could not process file" >&2; exit 1`)
	_, err := WebP(WebPOptions{Binary: cwebp}).Transform(t.Context(), []*pipe.File{
		pipe.NewFile("app/images", "cat.png", []byte("PNG")),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not process file")
	assert.Contains(t, err.Error(), "cat.png")
}
