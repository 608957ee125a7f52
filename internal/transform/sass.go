package transform

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/pipe"
)

// SassOptions configures the dart-sass compiler.
type SassOptions struct {
	// Binary is the sass executable, "sass" by default.
	Binary string
	// Style is "expanded" or "compressed".
	Style string
	// IncludePaths are extra load paths for @use and @import.
	IncludePaths []string
}

// Sass compiles .scss and .sass files to CSS by piping them through the
// dart-sass binary. Partials (names starting with "_") are dropped from the
// stream, they only exist to be imported.
func Sass(opts SassOptions) pipe.Transform {
	if opts.Binary == "" {
		opts.Binary = "sass"
	}
	if opts.Style == "" {
		opts.Style = "expanded"
	}
	tool := Tool{Command: opts.Binary}
	parser := builderrors.NewErrorParser()

	return pipe.Each("sass", func(ctx context.Context, f *pipe.File) (*pipe.File, error) {
		ext := f.Ext()
		if ext != ".scss" && ext != ".sass" {
			return f, nil
		}
		if strings.HasPrefix(filepath.Base(f.Path), "_") {
			return nil, nil
		}

		args := []string{"--stdin", "--no-source-map", "--style=" + opts.Style}
		if ext == ".sass" {
			args = append(args, "--indented")
		}
		args = append(args, "--load-path="+filepath.Dir(f.Path))
		for _, p := range opts.IncludePaths {
			args = append(args, "--load-path="+p)
		}

		css, err := tool.Run(ctx, f.Contents, args...)
		if err != nil {
			var toolErr *ToolError
			if errors.As(err, &toolErr) {
				be := parser.Parse(toolErr.Output, f.Path)
				be.Step = "sass"
				be.Err = err
				return nil, be
			}
			return nil, err
		}
		f.Contents = css
		f.SetExt(".css")
		return f, nil
	})
}
