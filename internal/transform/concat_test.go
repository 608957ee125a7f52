package transform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

func TestConcat(t *testing.T) {
	now := time.Now()
	a := pipe.NewFile("app", "js/a.js", []byte("var a = 1;"))
	a.ModTime = now.Add(-time.Hour)
	b := pipe.NewFile("app", "vendor/b.js", []byte("var b = 2;"))
	b.ModTime = now

	out := run(t, Concat("script.min.js"), a, b)
	require.Len(t, out, 1)
	assert.Equal(t, "script.min.js", out[0].Relative())
	assert.Equal(t, "var a = 1;\nvar b = 2;", string(out[0].Contents))
	assert.True(t, out[0].ModTime.Equal(now))

	assert.Empty(t, run(t, Concat("x.js")))
}

func TestRename(t *testing.T) {
	tests := []struct {
		name string
		opts RenameOptions
		want string
	}{
		{name: "suffix", opts: RenameOptions{Suffix: ".min"}, want: "css/style.min.css"},
		{name: "prefix and ext", opts: RenameOptions{Prefix: "x-", Ext: "scss"}, want: "css/x-style.scss"},
		{name: "full name", opts: RenameOptions{Name: "main.css"}, want: "css/main.css"},
		{name: "noop", opts: RenameOptions{}, want: "css/style.css"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := pipe.NewFile("dist", "css/style.css", nil)
			out := run(t, Rename(tt.opts), f)
			assert.Equal(t, filepath.FromSlash(tt.want), out[0].Relative())
		})
	}
}

func TestNewer(t *testing.T) {
	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "fresh.png"), "x")
	writeFile(t, filepath.Join(dest, "stale.png"), "x")
	writeFile(t, filepath.Join(dest, "font.woff"), "x")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dest, "stale.png"), past, past))

	mk := func(rel string) *pipe.File {
		f := pipe.NewFile("app", rel, nil)
		f.ModTime = time.Now().Add(-time.Minute)
		return f
	}

	out := run(t, Newer(NewerOptions{Dest: dest}), mk("fresh.png"), mk("stale.png"), mk("new.png"))
	var names []string
	for _, f := range out {
		names = append(names, f.Relative())
	}
	assert.Equal(t, []string{"stale.png", "new.png"}, names)

	fonts := run(t, Newer(NewerOptions{Dest: dest, Ext: ".woff"}), mk("font.ttf"), mk("other.ttf"))
	require.Len(t, fonts, 1)
	assert.Equal(t, "other.ttf", fonts[0].Relative())
}
