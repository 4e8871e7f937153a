package api

import (
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIRaw []byte

var (
	openAPIOnce sync.Once
	openAPIDoc  map[string]any
	openAPIErr  error
)

// openAPILoad parses the embedded document once and checks it is an OpenAPI 3 spec.
func openAPILoad() (map[string]any, error) {
	openAPIOnce.Do(func() {
		var doc map[string]any
		if err := yaml.Unmarshal(openAPIRaw, &doc); err != nil {
			openAPIErr = fmt.Errorf("parse openapi.yaml: %w", err)
			return
		}
		if v, _ := doc["openapi"].(string); len(v) < 1 || v[0] != '3' {
			openAPIErr = fmt.Errorf("openapi.yaml: unsupported openapi version %q", v)
			return
		}
		if _, ok := doc["paths"].(map[string]any); !ok {
			openAPIErr = fmt.Errorf("openapi.yaml: missing paths")
			return
		}
		openAPIDoc = doc
	})
	return openAPIDoc, openAPIErr
}

// OpenAPIHandler serves the OpenAPI spec
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := openAPILoad(); err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI not available", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIRaw)
}
