package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/library/log"
)

// staticAssetExts are the extensions answered with 404 when missing. Other
// unknown paths are client routes and get index.html, including routes with
// dots such as /apps/com.example.app.
var staticAssetExts = map[string]struct{}{
	".js": {}, ".css": {}, ".html": {}, ".json": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".webp": {}, ".avif": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// FrontendHandler serves the built admin and client frontend from a dist
// directory, falling back to index.html for client side routes.
type FrontendHandler struct {
	root   string
	index  []byte
	logger logSDK.Logger
}

// NewFrontendHandler loads index.html from distDir.
func NewFrontendHandler(distDir string, logger logSDK.Logger) (*FrontendHandler, error) {
	if logger == nil {
		logger = log.Logger.Named("frontend")
	}

	root, err := filepath.Abs(distDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve frontend dist %q", distDir)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "stat frontend dist %q", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("frontend dist %q is not a directory", root)
	}

	indexPath := filepath.Join(root, "index.html")
	index, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read frontend index %q", indexPath)
	}

	logger.Info("frontend assets located", zap.String("path", root))
	return &FrontendHandler{
		root:   root,
		index:  index,
		logger: logger,
	}, nil
}

func (h *FrontendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestPath := r.URL.Path
	for _, seg := range strings.FieldsFunc(requestPath, func(c rune) bool { return c == '/' || c == '\\' }) {
		if seg == ".." {
			h.logger.Warn("reject potential path traversal", zap.String("path", requestPath))
			http.NotFound(w, r)
			return
		}
	}

	clean := strings.TrimPrefix(path.Clean("/"+requestPath), "/")
	if clean == "" {
		h.serveIndex(w, r)
		return
	}

	fsPath := filepath.Join(h.root, filepath.FromSlash(clean))
	if info, err := os.Stat(fsPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fsPath)
		return
	}

	if _, ok := staticAssetExts[strings.ToLower(path.Ext(clean))]; ok {
		h.logger.Debug("frontend asset not found", zap.String("path", requestPath))
		http.NotFound(w, r)
		return
	}

	h.serveIndex(w, r)
}

func (h *FrontendHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	// gin presets 404 on NoRoute handlers
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(h.index); err != nil {
		h.logger.Warn("write frontend index", zap.Error(err))
	}
}
