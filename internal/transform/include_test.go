package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

func loadFile(t *testing.T, path string) *pipe.File {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return &pipe.File{Path: path, Base: filepath.Dir(path), Contents: data}
}

func TestIncludeResolvesNestedPartials(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"),
		"<html>@@include('html/head.html', {\"title\": \"Home\"})<body>@@include(\"html/footer.html\")</body></html>")
	writeFile(t, filepath.Join(dir, "html/head.html"), "<head><title>@@title</title>@@include('meta.html')</head>")
	writeFile(t, filepath.Join(dir, "html/meta.html"), `<meta name="t" content="@@title">`)
	writeFile(t, filepath.Join(dir, "html/footer.html"), "<footer>v@@version</footer>")

	tr := Include(IncludeOptions{
		Context:     map[string]interface{}{"site": "demo"},
		ContextFunc: func() map[string]interface{} { return map[string]interface{}{"version": "123"} },
	})
	out := run(t, tr, loadFile(t, filepath.Join(dir, "index.html")))

	require.Len(t, out, 1)
	assert.Equal(t,
		`<html><head><title>Home</title><meta name="t" content="Home"></head><body><footer>v123</footer></body></html>`,
		string(out[0].Contents))
}

func TestIncludeContextValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "card.html"), "@@user.name is @@age, admin=@@admin, @@missing, @@user.name.html")
	writeFile(t, filepath.Join(dir, "page.html"),
		`@@include('card.html', {
			"user": {"name": "Ann"},
			"age": 30,
			"admin": true
		})`)

	out := run(t, Include(IncludeOptions{}), loadFile(t, filepath.Join(dir, "page.html")))
	assert.Equal(t, "Ann is 30, admin=true, @@missing, Ann.html", string(out[0].Contents))
}

func TestIncludeCustomPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.html"), "[%include('b.html', {\"x\": \"1\"})]")
	writeFile(t, filepath.Join(dir, "b.html"), "x=%x")

	out := run(t, Include(IncludeOptions{Prefix: "%"}), loadFile(t, filepath.Join(dir, "a.html")))
	assert.Equal(t, "[x=1]", string(out[0].Contents))
}

func TestIncludeErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing partial",
			files:   map[string]string{"index.html": "a\n@@include('nope.html')"},
			wantErr: ":2: cannot include nope.html",
		},
		{
			name:    "cycle",
			files:   map[string]string{"index.html": "@@include('a.html')", "a.html": "@@include('b.html')", "b.html": "@@include('a.html')"},
			wantErr: "include cycle",
		},
		{
			name:    "unquoted path",
			files:   map[string]string{"index.html": "@@include(a.html)"},
			wantErr: "quoted string",
		},
		{
			name:    "bad json",
			files:   map[string]string{"index.html": "@@include('a.html', {x: 1})", "a.html": ""},
			wantErr: "invalid include context",
		},
		{
			name:    "unterminated",
			files:   map[string]string{"index.html": "@@include('a.html'"},
			wantErr: "missing closing parenthesis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}
			_, err := Include(IncludeOptions{}).Transform(context.Background(),
				[]*pipe.File{loadFile(t, filepath.Join(dir, "index.html"))})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIncludeSelfCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), "@@include('index.html')")

	_, err := Include(IncludeOptions{}).Transform(context.Background(),
		[]*pipe.File{loadFile(t, filepath.Join(dir, "index.html"))})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cycle"))
}
