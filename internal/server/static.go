package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/templ"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
)

// staticHandler serves the output directory. HTML documents get the live
// reload client injected; missing paths render the not-found page.
type staticHandler struct {
	root      string
	files     http.Handler
	collector *builderrors.ErrorCollector
}

func newStaticHandler(root string, collector *builderrors.ErrorCollector) *staticHandler {
	return &staticHandler{
		root:      root,
		files:     http.FileServer(http.Dir(root)),
		collector: collector,
	}
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	urlPath := path.Clean("/" + r.URL.Path)
	name := filepath.Join(s.root, filepath.FromSlash(urlPath))

	info, err := os.Stat(name)
	if err != nil {
		s.notFound(w, r)
		return
	}
	if info.IsDir() {
		// Let the file server redirect to the trailing slash form.
		if !strings.HasSuffix(r.URL.Path, "/") {
			s.files.ServeHTTP(w, r)
			return
		}
		index := filepath.Join(name, "index.html")
		indexInfo, err := os.Stat(index)
		if err != nil || indexInfo.IsDir() {
			s.notFound(w, r)
			return
		}
		name, info = index, indexInfo
	}

	if isHTML(name) {
		s.serveHTML(w, r, name, info.ModTime())
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.files.ServeHTTP(w, r)
}

func (s *staticHandler) serveHTML(w http.ResponseWriter, r *http.Request, name string, modTime time.Time) {
	f, err := os.Open(name)
	if err != nil {
		s.notFound(w, r)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(name), modTime, strings.NewReader(string(InjectScript(data))))
}

func (s *staticHandler) notFound(w http.ResponseWriter, r *http.Request) {
	var latest *builderrors.BuildError
	if s.collector != nil {
		latest = s.collector.Latest()
	}
	templ.Handler(notFoundPage(r.URL.Path, latest), templ.WithStatus(http.StatusNotFound)).ServeHTTP(w, r)
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// notFoundPage lists the missing path and, when a task is failing, the
// build error that is the likely cause.
func notFoundPage(urlPath string, latest *builderrors.BuildError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Not found</title>`)
		b.WriteString(`<style>body{font:16px/1.5 system-ui,sans-serif;margin:3em;color:#222}`)
		b.WriteString(`pre{background:#fff0f0;color:#b00020;padding:1em;white-space:pre-wrap}</style></head><body>`)
		b.WriteString(`<h1>404</h1><p>Nothing is built at <code>`)
		b.WriteString(templ.EscapeString(urlPath))
		b.WriteString(`</code>.</p>`)
		if latest != nil {
			b.WriteString(`<h2>Build failing: `)
			b.WriteString(templ.EscapeString(latest.Task))
			b.WriteString(`</h2><pre>`)
			b.WriteString(templ.EscapeString(latest.Error()))
			b.WriteString(`</pre>`)
		}
		b.WriteString(`</body></html>`)

		html := InjectScript([]byte(b.String()))
		if _, err := w.Write(html); err != nil {
			return fmt.Errorf("write not found page: %w", err)
		}
		return nil
	})
}
