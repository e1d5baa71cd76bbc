package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

// APIDocs serves the OpenAPI document directory. Missing files are 404s.
func APIDocs(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		if filepath.Ext(path) == ".yaml" {
			w.Header().Set("Content-Type", "application/yaml")
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		http.ServeFile(w, r, path)
	})
}
