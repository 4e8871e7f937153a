package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// DocsHandler serves an interactive Swagger UI with the spec inlined and
// role presets sent as headers.
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := openAPILoad()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI not available", err.Error(), r.URL.Path)
		return
	}
	js, err := json.Marshal(doc)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI encode failed", err.Error(), r.URL.Path)
		return
	}
	b64 := base64.StdEncoding.EncodeToString(js)
	html := `<!DOCTYPE html><html lang="en"><head>
    <title>wastetrack API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1">
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
    <style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
    </head><body>
    <div class="cfg">
      <div><strong>Caller</strong></div>
      <div><label>Role: <input id="role" value="admin"></label></div>
      <div><label>Collector id: <input id="collector" style="width:240px"></label></div>
      <button onclick="saveAuth()">Save</button>
    </div>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
    const spec = JSON.parse(atob('` + b64 + `'));
    function loadAuth(){
      const r=localStorage.getItem('role')||'admin'; const c=localStorage.getItem('collector')||'';
      document.getElementById('role').value=r; document.getElementById('collector').value=c;
      return {role:r, collector:c};
    }
    function saveAuth(){ localStorage.setItem('role',document.getElementById('role').value); localStorage.setItem('collector',document.getElementById('collector').value); }
    loadAuth();
    SwaggerUIBundle({
        spec: spec,
        dom_id: '#swagger-ui',
        deepLinking: true,
        requestInterceptor: (req) => {
            const p = loadAuth();
            if (p.role) req.headers['X-Role'] = p.role;
            if (p.collector) req.headers['X-Collector-Id'] = p.collector;
            return req;
        }
    });
    </script>
    </body></html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
