package transform

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// SpriteOptions configures the SVG sprite.
type SpriteOptions struct {
	// File is the name of the generated sprite, "sprite.svg" by default.
	File string
	// IDPrefix is prepended to every symbol id.
	IDPrefix string
}

// Sprite combines every SVG of the stream into one <svg> made of <symbol>
// elements, referenced from pages as <use href="sprite.svg#id">. The symbol
// id is derived from the file name. Non-SVG files are ignored.
func Sprite(opts SpriteOptions) pipe.Transform {
	if opts.File == "" {
		opts.File = "sprite.svg"
	}
	return pipe.TransformFunc("sprite", func(_ context.Context, files []*pipe.File) ([]*pipe.File, error) {
		var icons []*pipe.File
		for _, f := range files {
			if f.Ext() == ".svg" {
				icons = append(icons, f)
			}
		}
		if len(icons) == 0 {
			return nil, nil
		}

		var buf bytes.Buffer
		buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" style="display:none">`)
		buf.WriteByte('\n')

		ids := make(map[string]string)
		latest := time.Time{}
		for _, icon := range icons {
			id := opts.IDPrefix + SymbolID(icon.Stem())
			if prev, dup := ids[id]; dup {
				return nil, fmt.Errorf("duplicate symbol id %q from %s and %s", id, prev, icon.Path)
			}
			ids[id] = icon.Path

			symbol, err := svgSymbol(icon.Contents, id)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", icon.Path, err)
			}
			buf.Write(symbol)
			buf.WriteByte('\n')
			if icon.ModTime.After(latest) {
				latest = icon.ModTime
			}
		}
		buf.WriteString("</svg>\n")

		base := icons[0].Base
		return []*pipe.File{{
			Path:     filepath.Join(base, opts.File),
			Base:     base,
			Contents: buf.Bytes(),
			Mode:     0o644,
			ModTime:  latest,
		}}, nil
	})
}

var lower = cases.Lower(language.Und)

// SymbolID turns a file stem into a valid fragment identifier: lower case,
// every character outside [a-z0-9_-] replaced by "-".
func SymbolID(stem string) string {
	stem = lower.String(strings.TrimSpace(stem))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	id := b.String()
	if id == "" || (id[0] >= '0' && id[0] <= '9') || id[0] == '-' {
		id = "icon-" + id
	}
	return id
}

// svgSymbol extracts the root <svg> element of an icon and re-emits its
// children inside a <symbol> carrying the icon's viewBox.
func svgSymbol(src []byte, id string) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(src))
	dec.Strict = false

	var (
		viewBox    string
		width      string
		height     string
		innerStart int64 = -1
		innerEnd   int64 = -1
		depth      int
	)

	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse svg: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if t.Name.Local != "svg" {
					return nil, fmt.Errorf("root element is <%s>, want <svg>", t.Name.Local)
				}
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "viewBox":
						viewBox = a.Value
					case "width":
						width = a.Value
					case "height":
						height = a.Value
					}
				}
				innerStart = dec.InputOffset()
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				innerEnd = before
			}
		}
	}
	if innerStart < 0 || innerEnd < innerStart {
		return nil, fmt.Errorf("no <svg> element found")
	}

	if viewBox == "" {
		w, errW := strconv.ParseFloat(strings.TrimSuffix(width, "px"), 64)
		h, errH := strconv.ParseFloat(strings.TrimSuffix(height, "px"), 64)
		if errW == nil && errH == nil {
			viewBox = fmt.Sprintf("0 0 %s %s", strconv.FormatFloat(w, 'f', -1, 64), strconv.FormatFloat(h, 'f', -1, 64))
		}
	}

	var out bytes.Buffer
	out.WriteString(`<symbol id="`)
	out.WriteString(html.EscapeString(id))
	out.WriteString(`"`)
	if viewBox != "" {
		out.WriteString(` viewBox="`)
		out.WriteString(html.EscapeString(viewBox))
		out.WriteString(`"`)
	}
	out.WriteString(">")
	out.Write(bytes.TrimSpace(src[innerStart:innerEnd]))
	out.WriteString("</symbol>")
	return out.Bytes(), nil
}
