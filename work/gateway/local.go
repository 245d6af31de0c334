package gateway

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"svp-gateway/work/client"
	"svp-gateway/work/logger"
	"svp-gateway/work/metrics"
	"svp-gateway/work/ranges"
	"svp-gateway/work/utils"
)

// resolveLocalPath maps a source URL under the configured storage base URL to
// a filesystem path under the storage root. URLs outside the storage base are
// not local; paths that would escape the root after cleaning are rejected.
func (g *Gateway) resolveLocalPath(sourceURL string) (string, bool) {
	base := g.Config.StorageBaseURL + "/"
	if !strings.HasPrefix(sourceURL, base) {
		return "", false
	}

	rel := strings.TrimPrefix(sourceURL, base)
	if idx := strings.IndexAny(rel, "?#"); idx >= 0 {
		rel = rel[:idx]
	}

	path := filepath.Join(g.Config.StorageRoot, filepath.FromSlash(rel))

	// the joined path must stay inside the storage root
	root := filepath.Clean(g.Config.StorageRoot)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", false
	}

	return path, true
}

// serveLocal emits a local file as a full (200) or partial (206) content
// response, streaming the requested span in fixed-size chunks. The Range
// header of this request is honored independently of the token: one token
// legitimately covers many range fetches during a playback session.
func (g *Gateway) serveLocal(hrw *client.HardenedResponseWriter, r *http.Request, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		sendError(hrw, "Video file not found", http.StatusNotFound)
		metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusNotFound)).Inc()
		return
	}

	fileSize := info.Size()
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	hrw.Header().Set("Content-Type", contentTypeForExt(ext))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		g.serveFullFile(hrw, path, fileSize)
		return
	}

	start, end, err := ranges.Resolve(rangeHeader, fileSize)
	if err != nil {
		// 416 terminates without a body
		hrw.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusRequestedRangeNotSatisfiable)).Inc()
		return
	}

	g.serveFileRange(hrw, path, fileSize, start, end)
}

// serveFullFile streams the entire file with status 200.
func (g *Gateway) serveFullFile(hrw *client.HardenedResponseWriter, path string, fileSize int64) {
	file, err := os.Open(path)
	if err != nil {
		sendError(hrw, "Video file not found", http.StatusNotFound)
		metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusNotFound)).Inc()
		return
	}
	defer file.Close()

	hrw.Header().Set("Content-Length", fmt.Sprintf("%d", fileSize))
	hrw.Header().Set("Accept-Ranges", "bytes")
	hrw.WriteHeader(http.StatusOK)

	written, err := g.copyChunks(hrw, file, -1)
	metrics.BytesTransferred.WithLabelValues("local").Add(float64(written))
	metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusOK)).Inc()
	if err != nil {
		logger.Debug("{gateway - serveFullFile} Copy ended early after %s: %v", utils.FormatBytes(written), err)
	}
}

// serveFileRange streams one byte span with status 206.
func (g *Gateway) serveFileRange(hrw *client.HardenedResponseWriter, path string, fileSize, start, end int64) {
	file, err := os.Open(path)
	if err != nil {
		sendError(hrw, "Video file not found", http.StatusNotFound)
		metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusNotFound)).Inc()
		return
	}
	defer file.Close()

	if _, err := file.Seek(start, 0); err != nil {
		sendError(hrw, "Internal error", http.StatusInternalServerError)
		metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusInternalServerError)).Inc()
		return
	}

	contentLength := end - start + 1
	hrw.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	hrw.Header().Set("Content-Length", fmt.Sprintf("%d", contentLength))
	hrw.Header().Set("Accept-Ranges", "bytes")
	hrw.WriteHeader(http.StatusPartialContent)

	written, err := g.copyChunks(hrw, file, contentLength)
	metrics.BytesTransferred.WithLabelValues("local").Add(float64(written))
	metrics.StreamsServed.WithLabelValues("local", statusLabel(http.StatusPartialContent)).Inc()
	if err != nil {
		logger.Debug("{gateway - serveFileRange} Copy ended early after %s: %v", utils.FormatBytes(written), err)
	}
}
