package transform

import (
	"context"
	"errors"
	"strings"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/pipe"
)

// AutoprefixerOptions configures vendor prefixing through postcss.
type AutoprefixerOptions struct {
	// Command runs postcss, "postcss" by default ("npx postcss" also works).
	Command string
	// Browsers is the browserslist query list.
	Browsers []string
	// Grid enables CSS grid prefixes for IE ("autoplace").
	Grid bool
}

// Autoprefixer adds vendor prefixes to CSS files using the postcss CLI with
// the autoprefixer plugin. The target browsers are passed via BROWSERSLIST.
func Autoprefixer(opts AutoprefixerOptions) pipe.Transform {
	if opts.Command == "" {
		opts.Command = "postcss"
	}
	if len(opts.Browsers) == 0 {
		opts.Browsers = []string{"last 10 version"}
	}
	env := []string{"BROWSERSLIST=" + strings.Join(opts.Browsers, ", ")}
	if opts.Grid {
		env = append(env, "AUTOPREFIXER_GRID=autoplace")
	}
	tool := Tool{Command: opts.Command, Env: env}
	parser := builderrors.NewErrorParser()

	return pipe.Each("autoprefixer", func(ctx context.Context, f *pipe.File) (*pipe.File, error) {
		if f.Ext() != ".css" {
			return f, nil
		}
		out, err := tool.Run(ctx, f.Contents, "--use", "autoprefixer", "--no-map")
		if err != nil {
			var toolErr *ToolError
			if errors.As(err, &toolErr) {
				be := parser.Parse(toolErr.Output, f.Path)
				be.Step = "autoprefixer"
				be.Err = err
				return nil, be
			}
			return nil, err
		}
		f.Contents = out
		return f, nil
	})
}
