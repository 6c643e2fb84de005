package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

const indexFile = "index.html"

// StaticFileHandler serves the built single page app. Unknown routes without
// a file extension fall back to index.html so client-side routing works.
type StaticFileHandler struct {
	staticDir string
	logger    *logger.Logger
}

// NewStaticFileHandler creates a new static file handler
func NewStaticFileHandler(staticDir string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		staticDir: staticDir,
		logger:    log.Named("static-handler"),
	}
}

// ServeHTTP serves static files
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Clean as a URL path first so ".." cannot climb out of the root
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if rel == "" {
		rel = indexFile
	}

	absStaticDir, err := filepath.Abs(h.staticDir)
	if err != nil {
		h.logger.Error("Failed to get absolute path for static directory", logger.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	fullPath := filepath.Join(absStaticDir, filepath.FromSlash(rel))
	if fullPath != absStaticDir && !strings.HasPrefix(fullPath, absStaticDir+string(filepath.Separator)) {
		h.logger.Warn("Attempted directory traversal",
			logger.String("requested_path", r.URL.Path),
			logger.String("full_path", fullPath))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	fileInfo, err := os.Stat(fullPath)
	switch {
	case err == nil && fileInfo.IsDir():
		fullPath = filepath.Join(fullPath, indexFile)
		if _, err := os.Stat(fullPath); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	case os.IsNotExist(err):
		if filepath.Ext(rel) != "" {
			h.logger.Debug("File not found", logger.String("path", fullPath))
			http.NotFound(w, r)
			return
		}
		fullPath = filepath.Join(absStaticDir, indexFile)
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, r)
			return
		}
	case err != nil:
		h.logger.Error("Failed to stat file", logger.Error(err), logger.String("path", fullPath))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if filepath.Base(fullPath) == indexFile {
		// index.html is revalidated on every load
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	h.logger.Debug("Serving static file",
		logger.String("requested_path", r.URL.Path),
		logger.String("file_path", fullPath))
	http.ServeFile(w, r, fullPath)
}
