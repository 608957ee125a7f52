package transform

import (
	"context"
	"fmt"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

var mediaTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".html": "text/html",
	".htm":  "text/html",
	".svg":  "image/svg+xml",
}

// NewMinifier returns a minifier configured for every type assetpipe emits.
func NewMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// Minify compresses CSS, JavaScript, HTML and SVG files selected by
// extension. Other files pass through untouched.
func Minify() pipe.Transform {
	m := NewMinifier()
	return pipe.Each("minify", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		mediaType, ok := mediaTypes[f.Ext()]
		if !ok {
			return f, nil
		}
		out, err := m.Bytes(mediaType, f.Contents)
		if err != nil {
			return nil, fmt.Errorf("minify %s: %w", f.Path, err)
		}
		f.Contents = out
		return f, nil
	})
}
