package gateway

import (
	"net/http"
	"net/url"

	"svp-gateway/work/client"
	"svp-gateway/work/logger"
	"svp-gateway/work/metrics"
	"svp-gateway/work/utils"
)

// relayedHeaders is the safe subset of upstream response headers passed
// through to the client. Everything else the origin sends is dropped.
var relayedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
}

// proxyRemote relays a streaming request to a trusted remote origin. The
// client's Range header is forwarded so the origin handles seeking natively;
// the upstream response flows back verbatim in bounded chunks with only the
// allow-listed headers relayed.
func (g *Gateway) proxyRemote(hrw *client.HardenedResponseWriter, r *http.Request, target *url.URL) {
	// only configured origin domains may be proxied, no matter how valid
	// the token is
	if !g.Config.IsDomainAllowed(target.Hostname()) {
		logger.Warn("{gateway - proxyRemote} Origin not allow-listed: %s", target.Hostname())
		sendError(hrw, "Origin not allowed", http.StatusForbidden)
		metrics.StreamsServed.WithLabelValues("proxy", statusLabel(http.StatusForbidden)).Inc()
		return
	}

	// pace requests per origin host
	g.limiterForHost(target.Host).Take()

	// the request context cancels the upstream fetch when the client
	// disconnects mid-stream
	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		sendError(hrw, "Upstream unavailable", http.StatusBadGateway)
		metrics.StreamsServed.WithLabelValues("proxy", statusLabel(http.StatusBadGateway)).Inc()
		return
	}
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		upstreamReq.Header.Set("Range", rangeHeader)
	}

	resp, err := g.HttpClient.Do(upstreamReq)
	if err != nil {
		logger.Warn("{gateway - proxyRemote} Upstream request failed for %s: %v", utils.LogURL(g.Config, target.String()), err)
		sendError(hrw, "Upstream unavailable", http.StatusBadGateway)
		metrics.StreamsServed.WithLabelValues("proxy", statusLabel(http.StatusBadGateway)).Inc()
		return
	}
	defer resp.Body.Close()

	for _, name := range relayedHeaders {
		if value := resp.Header.Get(name); value != "" {
			hrw.Header().Set(name, value)
		}
	}
	hrw.WriteHeader(resp.StatusCode)

	// a 416 from the origin propagates as-is and carries no body
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		metrics.StreamsServed.WithLabelValues("proxy", statusLabel(resp.StatusCode)).Inc()
		return
	}

	written, err := g.copyChunks(hrw, resp.Body, -1)
	metrics.BytesTransferred.WithLabelValues("proxy").Add(float64(written))
	metrics.StreamsServed.WithLabelValues("proxy", statusLabel(resp.StatusCode)).Inc()
	if err != nil {
		logger.Debug("{gateway - proxyRemote} Relay ended early after %s: %v", utils.FormatBytes(written), err)
	}
}
