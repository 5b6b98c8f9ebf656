// Package web embeds the agent console page. Files are served with a content
// hash ETag so a browser revalidates instead of refetching after an upgrade.
package web

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// ConsoleHandler serves the console page from dist/. Unknown paths outside
// /api/ and /ws/ get index.html so client-side routes survive a reload.
func ConsoleHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	etags, err := hashFiles(subFS)
	if err != nil {
		panic("web: failed to hash embedded files: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		if _, ok := etags[name]; !ok {
			if name != "" {
				slog.Debug("web: serving console page for client route", "path", r.URL.Path)
			}
			name = indexFile
			r.URL.Path = "/"
		}

		w.Header().Set("ETag", etags[name])
		if path.Ext(name) == ".html" {
			w.Header().Set("Cache-Control", "no-cache")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=300")
		}
		fileServer.ServeHTTP(w, r)
	})
}

// hashFiles returns a quoted ETag per file path.
func hashFiles(fsys fs.FS) (map[string]string, error) {
	etags := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		etags[p] = `"` + hex.EncodeToString(sum[:8]) + `"`
		return nil
	})
	return etags, err
}
