package transform

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// Concat joins every file of the stream, in order, into a single file named
// name. The result sits at the base of the first file so Dest writes it
// directly into the destination directory. An empty stream stays empty.
func Concat(name string) pipe.Transform {
	return pipe.TransformFunc("concat", func(_ context.Context, files []*pipe.File) ([]*pipe.File, error) {
		if len(files) == 0 {
			return files, nil
		}
		var buf bytes.Buffer
		latest := files[0].ModTime
		for i, f := range files {
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(f.Contents)
			if f.ModTime.After(latest) {
				latest = f.ModTime
			}
		}
		base := files[0].Base
		out := &pipe.File{
			Path:     filepath.Join(base, name),
			Base:     base,
			Contents: buf.Bytes(),
			Mode:     0o644,
			ModTime:  latest,
		}
		if out.ModTime.IsZero() {
			out.ModTime = time.Now()
		}
		return []*pipe.File{out}, nil
	})
}

// RenameOptions selects how files are renamed. Empty fields are kept.
type RenameOptions struct {
	Name   string
	Prefix string
	Suffix string
	Ext    string
}

// Rename changes the base name of every file.
func Rename(opts RenameOptions) pipe.Transform {
	return pipe.Each("rename", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		if opts.Name != "" {
			f.SetName(opts.Name)
		}
		ext := filepath.Ext(f.Path)
		if opts.Ext != "" {
			ext = opts.Ext
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
		}
		f.SetName(opts.Prefix + f.Stem() + opts.Suffix + ext)
		return f, nil
	})
}

// NewerOptions configures the newer filter.
type NewerOptions struct {
	// Dest is the directory the files will be written to.
	Dest string
	// Ext maps the destination extension, e.g. ".woff" for fonts.
	Ext string
}

// Newer drops files whose destination counterpart is at least as recent as
// the source, so unchanged inputs are not processed again.
func Newer(opts NewerOptions) pipe.Transform {
	return pipe.Filter("newer", func(f *pipe.File) bool {
		target := filepath.Join(opts.Dest, f.Relative())
		if opts.Ext != "" {
			target = strings.TrimSuffix(target, filepath.Ext(target)) + opts.Ext
		}
		info, err := os.Stat(target)
		if err != nil {
			return true
		}
		return f.ModTime.After(info.ModTime())
	})
}
