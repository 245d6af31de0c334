package client

import (
	"fmt"
	"net/http"
	"time"

	"svp-gateway/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set upstream headers
// and to bound redirect chasing on proxied origin requests.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the upstream client used by the proxy path.
// There is no overall request timeout: bodies may stream for the length of a
// video. The response header timeout and the redirect cap bound how long a
// slow or malicious upstream can hold a connection before any bytes flow.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: cfg.ProxyTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.ProxyMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.ProxyMaxRedirects)
			}
			return nil
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// setHeaders applies the fixed identifying headers: our user agent and a
// referer equal to the gateway's own origin, so trusted origins can pin
// their access rules to us.
func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", hsc.config.BaseURL+"/")
}

// HardenedResponseWriter wraps http.ResponseWriter to stamp every streamed
// response with the gateway's hardening headers exactly once, and to expose
// Flush for incremental delivery.
type HardenedResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
}

// NewHardenedResponseWriter wraps a response writer for a streaming response.
func NewHardenedResponseWriter(w http.ResponseWriter) *HardenedResponseWriter {
	return &HardenedResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (hrw *HardenedResponseWriter) WriteHeader(statusCode int) {
	if hrw.WroteHeader {
		return
	}

	// keep media responses out of search indexes and sniffers, and allow
	// only bounded private caching
	hrw.Header().Set("X-Robots-Tag", "noindex, nofollow")
	hrw.Header().Set("X-Content-Type-Options", "nosniff")
	hrw.Header().Set("Cache-Control", "private, max-age=3600")

	hrw.statusCode = statusCode
	hrw.ResponseWriter.WriteHeader(statusCode)
	hrw.WroteHeader = true
}

func (hrw *HardenedResponseWriter) Write(b []byte) (int, error) {
	if !hrw.WroteHeader {
		hrw.WriteHeader(http.StatusOK)
	}
	return hrw.ResponseWriter.Write(b)
}

// StatusCode returns the status written so far, 0 when headers are unsent.
func (hrw *HardenedResponseWriter) StatusCode() int {
	return hrw.statusCode
}

// Flush implements http.Flusher.
func (hrw *HardenedResponseWriter) Flush() {
	if flusher, ok := hrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
