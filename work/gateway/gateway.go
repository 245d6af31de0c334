package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/ratelimit"

	"svp-gateway/work/client"
	"svp-gateway/work/config"
	"svp-gateway/work/logger"
	"svp-gateway/work/metrics"
	"svp-gateway/work/secrets"
	"svp-gateway/work/token"
	"svp-gateway/work/utils"
)

// Gateway verifies capability tokens and delivers the bytes they grant access
// to, either from local storage or by proxying a trusted remote origin. Each
// request is handled independently; no gateway state outlives a request apart
// from the per-host upstream limiters.
type Gateway struct {
	Config           *config.Config
	Secrets          *secrets.Keeper
	HttpClient       *client.HeaderSettingClient
	upstreamLimiters map[string]ratelimit.Limiter // per-host leaky buckets for the proxy path
	limiterMutex     sync.RWMutex                 // protects concurrent access to the limiter map
}

// New creates a Gateway over the given configuration, secret keeper and
// upstream HTTP client.
func New(cfg *config.Config, keeper *secrets.Keeper, httpClient *client.HeaderSettingClient) *Gateway {
	return &Gateway{
		Config:           cfg,
		Secrets:          keeper,
		HttpClient:       httpClient,
		upstreamLimiters: make(map[string]ratelimit.Limiter),
	}
}

// Handle serves one streaming request: verify the token, check the address
// binding, resolve the target, then serve or proxy. Every token failure maps
// to the same client-facing rejection so a caller probing with forged tokens
// learns nothing about which check failed.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	hrw := client.NewHardenedResponseWriter(w)

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		sendError(hrw, "Access denied", http.StatusForbidden)
		return
	}

	secret, err := g.Secrets.Secret()
	if err != nil {
		logger.Error("{gateway - Handle} Secret unavailable: %v", err)
		sendError(hrw, "Internal error", http.StatusInternalServerError)
		return
	}

	claims, err := token.Decode(tokenStr, secret)
	if err != nil {
		logger.Debug("{gateway - Handle} Token rejected: %v", err)
		sendError(hrw, "Invalid or expired token", http.StatusForbidden)
		return
	}

	// address binding: a token minted for one client address is unusable
	// from any other. Clients behind rotating proxies will trip this; that
	// is the documented trade-off, not a bug.
	if claims.IP != "" && claims.IP != utils.ClientIP(r) {
		logger.Debug("{gateway - Handle} Address binding mismatch for video %d", claims.VideoID)
		sendError(hrw, "Request verification failed", http.StatusForbidden)
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// classify the token's source URL as local storage or a remote origin
	if localPath, ok := g.resolveLocalPath(claims.URL); ok {
		g.serveLocal(hrw, r, localPath)
		return
	}

	if target, ok := resolveRemote(claims.URL); ok {
		g.proxyRemote(hrw, r, target)
		return
	}

	sendError(hrw, "Video file not found", http.StatusNotFound)
}

// resolveRemote accepts any well-formed absolute http/https URL with a host.
func resolveRemote(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	return u, true
}

// limiterForHost returns the upstream rate limiter for a host, creating it
// on first use.
func (g *Gateway) limiterForHost(host string) ratelimit.Limiter {
	g.limiterMutex.RLock()
	limiter, exists := g.upstreamLimiters[host]
	g.limiterMutex.RUnlock()
	if exists {
		return limiter
	}

	g.limiterMutex.Lock()
	defer g.limiterMutex.Unlock()
	if limiter, exists = g.upstreamLimiters[host]; exists {
		return limiter
	}
	limiter = ratelimit.New(g.Config.UpstreamPerSecond)
	g.upstreamLimiters[host] = limiter
	return limiter
}

// copyChunks streams from src to dst in fixed-size chunks, flushing after
// each write so bytes reach the client without buffering delays. A write
// error means the client went away; the copy stops immediately and the
// caller releases the source. limit < 0 copies until EOF.
func (g *Gateway) copyChunks(dst *client.HardenedResponseWriter, src io.Reader, limit int64) (int64, error) {
	chunk := make([]byte, g.Config.ChunkSize)
	var written int64

	for limit < 0 || written < limit {
		readSize := int64(len(chunk))
		if limit >= 0 && limit-written < readSize {
			readSize = limit - written
		}

		n, readErr := src.Read(chunk[:readSize])
		if n > 0 {
			if _, writeErr := dst.Write(chunk[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			dst.Flush()
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}

	return written, nil
}

// sendError writes a minimal JSON error body. Streaming failures after the
// first byte cannot be reported this way; the copy just stops.
func sendError(w *client.HardenedResponseWriter, message string, code int) {
	if w.WroteHeader {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// contentTypeForExt maps a file extension (without the dot, lower-cased) to
// the media type served for it.
func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "ogg":
		return "video/ogg"
	case "avi":
		return "video/x-msvideo"
	case "mov":
		return "video/quicktime"
	}
	return "application/octet-stream"
}

// statusLabel renders a status code for the streams-served metric.
func statusLabel(code int) string {
	return strconv.Itoa(code)
}
