// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

// --- HTML templates ---

const pageStyle = `<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 760px;
         margin: 0 auto; padding: 48px 20px 0; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 8px; font-weight: 700; }
  h2 { color: #2d5016; font-size: 1.1em; margin-top: 32px; }
  code { font-family: monospace; background: #f0ece0; padding: 2px 6px;
         border-radius: 3px; font-size: 0.9em; }
  a { color: #2d5016; }
  p { line-height: 1.6; color: #6b6b5a; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #f0ece0; }
  .empty { font-style: italic; }
</style>`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>404 &mdash; tablerpc endpoint</title>
%s
</head>
<body>
<h1>404 &mdash; Not Found</h1>
<p>This is a <code>tablerpc</code> service endpoint.</p>
<p>Clients connect with a WebSocket to <code>%s/ws</code>.</p>
</body>
</html>`

// writeLandingPage renders the registries as HTML.
func writeLandingPage(w *strings.Builder, prefix string, d Description) {
	w.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	w.WriteString("<title>tablerpc</title>\n")
	w.WriteString(pageStyle)
	w.WriteString("\n</head>\n<body>\n<h1>tablerpc</h1>\n")

	fmt.Fprintf(w, `<p>Server <code>%s</code> &middot; WebSocket <code>%s/ws</code> &middot; <a href="%s/describe">describe</a>`,
		html.EscapeString(d.ServerID), html.EscapeString(prefix), html.EscapeString(prefix))
	if d.Locked {
		w.WriteString(" &middot; <strong>locked</strong>")
	}
	w.WriteString("</p>\n")

	w.WriteString("<h2>Tables</h2>\n")
	if len(d.Tables) == 0 {
		w.WriteString(`<p class="empty">No tables</p>`)
	} else {
		w.WriteString(`<table><tr><th>Name</th><th>Schema</th></tr>`)
		for _, t := range d.Tables {
			schema := t.Error
			if schema == "" {
				b, _ := json.Marshal(t.Schema)
				schema = string(b)
			}
			fmt.Fprintf(w, `<tr><td><code>%s</code></td><td><code>%s</code></td></tr>`,
				html.EscapeString(t.Name), html.EscapeString(schema))
		}
		w.WriteString(`</table>`)
	}

	w.WriteString("\n<h2>Views</h2>\n")
	if len(d.Views) == 0 {
		w.WriteString(`<p class="empty">No views</p>`)
	} else {
		w.WriteString(`<table><tr><th>Name</th><th>Client</th></tr>`)
		for _, v := range d.Views {
			client := v.ClientID
			if client == "" {
				client = "hosted"
			}
			fmt.Fprintf(w, `<tr><td><code>%s</code></td><td>%s</td></tr>`,
				html.EscapeString(v.Name), html.EscapeString(client))
		}
		w.WriteString(`</table>`)
	}
	fmt.Fprintf(w, "\n<p>%d live callbacks</p>\n</body>\n</html>\n", d.Callbacks)
}

// --- HTTP handlers ---

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	writeLandingPage(&b, h.prefix, h.manager.Describe(r.Context()))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, notFoundHTMLTemplate, pageStyle, html.EscapeString(h.prefix))
}
