package transform

import (
	"bytes"
	"context"
	"html"
	"io"
	"path"
	"strings"

	nethtml "golang.org/x/net/html"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// WebPHTML wraps <img> tags pointing at raster images in a <picture> with a
// WebP <source>. Images already inside a <picture>, SVGs and images with an
// unknown extension are left alone. All other markup is copied byte for byte.
func WebPHTML() pipe.Transform {
	return pipe.Each("webp-html", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		out, err := RewritePictures(f.Contents)
		if err != nil {
			return nil, err
		}
		f.Contents = out
		return f, nil
	})
}

// RewritePictures applies the <picture> rewrite to an HTML document or fragment.
func RewritePictures(src []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src) + len(src)/8)

	z := nethtml.NewTokenizer(bytes.NewReader(src))
	pictureDepth := 0
	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			if z.Err() == io.EOF {
				return out.Bytes(), nil
			}
			return nil, z.Err()
		}
		// TagName and TagAttr lower-case the token buffer in place.
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "picture":
				if tt == nethtml.StartTagToken {
					pictureDepth++
				}
			case "img":
				if pictureDepth == 0 && hasAttr {
					if webp, ok := webpSrc(z); ok {
						out.WriteString(`<picture><source srcset="`)
						out.WriteString(html.EscapeString(webp))
						out.WriteString(`" type="image/webp">`)
						out.Write(raw)
						out.WriteString(`</picture>`)
						continue
					}
				}
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "picture" && pictureDepth > 0 {
				pictureDepth--
			}
		}
		out.Write(raw)
	}
}

// webpSrc reads the src attribute of the current <img> token.
func webpSrc(z *nethtml.Tokenizer) (string, bool) {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "src" {
			return toWebP(string(val))
		}
		if !more {
			return "", false
		}
	}
}

func toWebP(src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		return "", false
	}
	// Keep query strings and fragments out of the extension check.
	clean := src
	suffix := ""
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean, suffix = clean[:i], clean[i:]
	}
	ext := strings.ToLower(path.Ext(clean))
	if !webpSources[ext] {
		return "", false
	}
	return strings.TrimSuffix(clean, path.Ext(clean)) + ".webp" + suffix, true
}
