package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/pipe"
)

func TestGroupMediaQueries(t *testing.T) {
	src := `
.a { color: red; }
@media (max-width:600px) { .a { color: blue; } }
.b { margin: 0 auto; }
@media print { .b { display: none; } }
@media (max-width:600px) { .b { padding: 1px; } }
`
	out, err := GroupMediaQueries([]byte(src))
	require.NoError(t, err)
	css := string(out)

	assert.Equal(t, 1, strings.Count(css, "@media (max-width:600px)"))
	assert.Equal(t, 1, strings.Count(css, "@media print"))

	small := strings.Index(css, "@media (max-width:600px)")
	printAt := strings.Index(css, "@media print")
	assert.Greater(t, small, strings.Index(css, ".b{"), "media blocks follow plain rules")
	assert.Less(t, small, printAt, "first appearance order is kept")

	smallBlock := css[small:printAt]
	assert.Contains(t, smallBlock, "color:blue")
	assert.Contains(t, smallBlock, "padding:1px")
}

func TestGroupMediaKeepsNestedAndAtRules(t *testing.T) {
	src := `@import url("x.css");
@supports (display:grid) { @media (min-width:1px) { .g { display: grid; } } }
:root { --gap: 4px; }
h1, h2 { font-weight: bold !important; }`

	out, err := GroupMediaQueries([]byte(src))
	require.NoError(t, err)
	css := string(out)

	assert.True(t, strings.HasPrefix(css, "@import"))
	assert.Contains(t, css, "@supports")
	assert.Contains(t, css, "@media (min-width:1px)")
	assert.Contains(t, css, "--gap:")
	assert.Contains(t, css, "h1,")
}

func TestGroupMediaTransformSkipsOtherFiles(t *testing.T) {
	f := pipe.NewFile("dist", "a.js", []byte("@media"))
	out := run(t, GroupMedia(), f)
	assert.Equal(t, "@media", string(out[0].Contents))
}

func TestMinify(t *testing.T) {
	files := []*pipe.File{
		pipe.NewFile("dist", "style.css", []byte("body {\n  color: #ff0000;\n}\n")),
		pipe.NewFile("dist", "app.js", []byte("function add(a, b) {\n  return a + b;\n}\n")),
		pipe.NewFile("dist", "image.png", []byte("binary  data")),
	}
	out := run(t, Minify(), files...)

	require.Len(t, out, 3)
	assert.Equal(t, "body{color:red}", string(out[0].Contents))
	assert.NotContains(t, string(out[1].Contents), "\n  ")
	assert.Less(t, len(out[1].Contents), len("function add(a, b) {\n  return a + b;\n}\n"))
	assert.Equal(t, "binary  data", string(out[2].Contents))
}

func TestSassCompiles(t *testing.T) {
	sass := fakeTool(t, "sass", `echo "/* $* */"; cat`)
	files := []*pipe.File{
		pipe.NewFile("app/scss", "style.scss", []byte("$c: red; a { color: $c; }")),
		pipe.NewFile("app/scss", "_vars.scss", []byte("$c: red;")),
		pipe.NewFile("app/scss", "plain.css", []byte("a{}")),
	}

	out := run(t, Sass(SassOptions{Binary: sass, Style: "compressed", IncludePaths: []string{"node_modules"}}), files...)

	require.Len(t, out, 2, "partials are dropped")
	assert.Equal(t, ".css", out[0].Ext())
	css := string(out[0].Contents)
	assert.Contains(t, css, "--stdin")
	assert.Contains(t, css, "--style=compressed")
	assert.Contains(t, css, "--load-path=node_modules")
	assert.Contains(t, css, "a { color: $c; }")
	assert.Equal(t, "a{}", string(out[1].Contents))
}

func TestSassReportsLocation(t *testing.T) {
	sass := fakeTool(t, "sass", `cat >/dev/null
echo "Error: Undefined variable." >&2
echo "  - 3:10  root stylesheet" >&2
exit 65`)

	f := pipe.NewFile("app/scss", "style.scss", []byte("a { color: $nope; }"))
	_, err := Sass(SassOptions{Binary: sass}).Transform(context.Background(), []*pipe.File{f})
	require.Error(t, err)

	be, ok := builderrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "sass", be.Step)
	assert.Equal(t, "Undefined variable.", be.Message)
	assert.Equal(t, filepath.Join("app/scss", "style.scss"), be.File)
	assert.Equal(t, 3, be.Line)
	assert.Equal(t, 10, be.Column)
}

func TestAutoprefixer(t *testing.T) {
	postcss := fakeTool(t, "postcss", `echo "/* $BROWSERSLIST|$AUTOPREFIXER_GRID|$* */"; cat`)
	f := pipe.NewFile("dist", "style.css", []byte("a{display:grid}"))

	out := run(t, Autoprefixer(AutoprefixerOptions{Command: postcss, Grid: true}), f)
	css := string(out[0].Contents)
	assert.Contains(t, css, "last 10 version|autoplace|--use autoprefixer --no-map")
	assert.Contains(t, css, "a{display:grid}")
}

func TestToolMissingBinary(t *testing.T) {
	tool := Tool{Command: filepath.Join(t.TempDir(), "does-not-exist")}

	_, err := tool.Run(context.Background(), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)

	_, err = Tool{}.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestToolRunsWithArguments(t *testing.T) {
	script := fakeTool(t, "echoer", `echo "$@"`)
	tool := Tool{Command: script + " --first"}

	out, err := tool.Run(context.Background(), nil, "second")
	require.NoError(t, err)
	assert.Equal(t, "--first second\n", string(out))

	_, statErr := os.Stat(script)
	require.NoError(t, statErr)
}
