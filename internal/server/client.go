package server

import (
	"bytes"
	"net/http"
)

const (
	routePrefix = "/__assetpipe/"
	wsPath      = routePrefix + "ws"
	clientPath  = routePrefix + "client.js"
	healthPath  = routePrefix + "health"
)

var scriptTag = []byte(`<script src="` + clientPath + `"></script>`)

// clientJS is the live reload client. It reconnects with backoff, swaps
// stylesheets in place on "css" and shows an overlay on "error".
const clientJS = `(function () {
  if (window.__assetpipe) { return; }
  window.__assetpipe = true;

  var overlayId = "__assetpipe-overlay";
  var delay = 500;

  function showError(err) {
    var el = document.getElementById(overlayId);
    if (!el) {
      el = document.createElement("pre");
      el.id = overlayId;
      el.style.cssText = "position:fixed;inset:0;margin:0;padding:2em;z-index:2147483647;" +
        "background:rgba(20,20,20,.92);color:#ff6b6b;font:14px/1.5 monospace;white-space:pre-wrap;overflow:auto";
      document.body.appendChild(el);
    }
    var where = err.file ? err.file + (err.line ? ":" + err.line + (err.column ? ":" + err.column : "") : "") + "\n\n" : "";
    el.textContent = "[" + err.task + (err.step ? "/" + err.step : "") + "]\n" + where + err.message;
  }

  function hideError() {
    var el = document.getElementById(overlayId);
    if (el) { el.parentNode.removeChild(el); }
  }

  function swapCSS(paths) {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var stamp = Date.now();
    links.forEach(function (link) {
      var href = link.getAttribute("href");
      if (!href) { return; }
      var clean = href.replace(/[?&]__ap=\d+/, "");
      var match = !paths || paths.length === 0 || paths.some(function (p) {
        return clean.split("?")[0].slice(-p.length) === p || p.slice(-clean.split("?")[0].length) === clean.split("?")[0];
      });
      if (!match) { return; }
      link.href = clean + (clean.indexOf("?") >= 0 ? "&" : "?") + "__ap=" + stamp;
    });
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "` + wsPath + `");
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (event) {
      var msg;
      try { msg = JSON.parse(event.data); } catch (e) { return; }
      switch (msg.type) {
        case "reload": location.reload(); break;
        case "css": hideError(); swapCSS(msg.paths); break;
        case "error": if (msg.error) { showError(msg.error); } break;
        case "resolved": hideError(); break;
      }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }

  connect();
})();
`

func serveClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(clientJS))
}

// InjectScript inserts the live reload script tag before the last </body>,
// or appends it when the document has none.
func InjectScript(html []byte) []byte {
	if bytes.Contains(html, scriptTag) {
		return html
	}
	idx := lastIndexFold(html, []byte("</body>"))
	if idx < 0 {
		out := make([]byte, 0, len(html)+len(scriptTag))
		out = append(out, html...)
		return append(out, scriptTag...)
	}
	out := make([]byte, 0, len(html)+len(scriptTag))
	out = append(out, html[:idx]...)
	out = append(out, scriptTag...)
	return append(out, html[idx:]...)
}

// lastIndexFold is bytes.LastIndex with ASCII case folding; byte offsets
// stay valid for the original slice.
func lastIndexFold(s, sep []byte) int {
	return bytes.LastIndex(asciiLower(s), asciiLower(sep))
}

func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
