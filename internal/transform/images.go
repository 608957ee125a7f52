package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	// Register the GIF decoder for image.Decode.
	_ "image/gif"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// webpSources lists the image extensions WebP converts. WebPHTML points only
// these at a .webp sibling, so pages never reference a file that is not made.
var webpSources = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// WebPOptions configures WebP conversion.
type WebPOptions struct {
	// Binary is the cwebp executable, "cwebp" by default.
	Binary string
	// Quality is the lossy quality factor, 75 by default.
	Quality int
	// Keep forwards files that are not converted instead of dropping them.
	Keep bool
}

// WebP converts JPEG and PNG images to WebP with the cwebp encoder. The
// converted file replaces the source in the stream with a .webp extension.
func WebP(opts WebPOptions) pipe.Transform {
	if opts.Binary == "" {
		opts.Binary = "cwebp"
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 75
	}
	tool := Tool{Command: opts.Binary}

	return pipe.Each("webp", func(ctx context.Context, f *pipe.File) (*pipe.File, error) {
		if !webpSources[strings.ToLower(f.Ext())] {
			if opts.Keep {
				return f, nil
			}
			return nil, nil
		}

		dir, err := os.MkdirTemp("", "assetpipe-webp-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)

		in := filepath.Join(dir, "in"+f.Ext())
		out := filepath.Join(dir, "out.webp")
		if err := os.WriteFile(in, f.Contents, 0o600); err != nil {
			return nil, err
		}
		if _, err := tool.Run(ctx, nil, "-quiet", "-q", strconv.Itoa(opts.Quality), in, "-o", out); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			return nil, fmt.Errorf("%s: reading encoder output: %w", f.Path, err)
		}

		webp := f.Clone()
		webp.Contents = data
		webp.SetExt(".webp")
		return webp, nil
	})
}

// OptimizeOptions configures lossless-ish recompression.
type OptimizeOptions struct {
	// JPEGQuality is used when re-encoding JPEG files, 90 by default.
	JPEGQuality int
}

// Optimize re-encodes JPEG files at the configured quality and PNG files at
// the best compression level. A result is only kept when it is smaller than
// the original; undecodable files pass through unchanged.
func Optimize(opts OptimizeOptions) pipe.Transform {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	return pipe.Each("optimize", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		var encode func(img image.Image) ([]byte, error)
		switch f.Ext() {
		case ".jpg", ".jpeg":
			encode = func(img image.Image) ([]byte, error) {
				var buf bytes.Buffer
				err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality})
				return buf.Bytes(), err
			}
		case ".png":
			encode = func(img image.Image) ([]byte, error) {
				var buf bytes.Buffer
				enc := png.Encoder{CompressionLevel: png.BestCompression}
				err := enc.Encode(&buf, img)
				return buf.Bytes(), err
			}
		default:
			return f, nil
		}

		img, _, err := image.Decode(bytes.NewReader(f.Contents))
		if err != nil {
			return f, nil
		}
		data, err := encode(img)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		if len(data) < len(f.Contents) {
			f.Contents = data
		}
		return f, nil
	})
}
