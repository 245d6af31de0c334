package gateway

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svp-gateway/work/client"
	"svp-gateway/work/config"
	"svp-gateway/work/database"
	"svp-gateway/work/secrets"
	"svp-gateway/work/token"
)

type memSaltStore struct {
	data map[string]string
}

func (m *memSaltStore) GetSetting(key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", database.ErrSettingNotFound
}

func (m *memSaltStore) SetSetting(key, value string) error {
	m.data[key] = value
	return nil
}

type testEnv struct {
	gateway *Gateway
	keeper  *secrets.Keeper
	cfg     *config.Config
	body    []byte
}

// newTestEnv stands up a gateway over a temp storage root holding one
// 1000 byte video file.
func newTestEnv(t *testing.T, allowedDomains []string) *testEnv {
	t.Helper()

	root := t.TempDir()
	body := make([]byte, 1000)
	for i := range body {
		body[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "video.mp4"), body, 0644))

	cfg := &config.Config{
		BaseURL:             "http://gateway.test",
		StorageRoot:         root,
		StorageBaseURL:      "http://gateway.test/media",
		AllowedProxyDomains: allowedDomains,
		TokenTTL:            60 * time.Second,
		ProxyTimeout:        5 * time.Second,
		ProxyMaxRedirects:   3,
		UpstreamPerSecond:   100,
		UserAgent:           "SVP-Gateway/1.0",
		ChunkSize:           8192,
	}

	keeper := secrets.NewKeeper("gateway-test-secret", &memSaltStore{data: make(map[string]string)})

	return &testEnv{
		gateway: New(cfg, keeper, client.NewHeaderSettingClient(cfg)),
		keeper:  keeper,
		cfg:     cfg,
		body:    body,
	}
}

// mint encodes a valid token for the given source URL.
func (e *testEnv) mint(t *testing.T, sourceURL, clientIP string) string {
	t.Helper()
	now := time.Now().Unix()
	secret, err := e.keeper.Secret()
	require.NoError(t, err)
	tokenStr, err := token.Encode(&token.Claims{
		VideoID: 7,
		Quality: "sd",
		URL:     sourceURL,
		Exp:     now + 60,
		Iat:     now,
		IP:      clientIP,
	}, secret)
	require.NoError(t, err)
	return tokenStr
}

func (e *testEnv) request(t *testing.T, tokenStr, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/stream?token="+url.QueryEscape(tokenStr), nil)
	if rangeHeader != "" {
		r.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	e.gateway.Handle(w, r)
	return w
}

func TestRangedLocalStream(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	w := env.request(t, tokenStr, "bytes=0-99")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 0-99/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "100", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, env.body[:100], w.Body.Bytes())
}

func TestMidFileRange(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	w := env.request(t, tokenStr, "bytes=10-19")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 10-19/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, env.body[10:20], w.Body.Bytes())
}

func TestOpenEndedRange(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	w := env.request(t, tokenStr, "bytes=900-")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 900-999/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, env.body[900:], w.Body.Bytes())
}

func TestFullLocalStream(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, env.body, w.Body.Bytes())
}

func TestUnsatisfiableRangeHasNoBody(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	for _, header := range []string{"bytes=500-400", "bytes=0-1000", "bytes=-100", "items=0-99"} {
		w := env.request(t, tokenStr, header)
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code, "header %q", header)
		assert.Zero(t, w.Body.Len(), "header %q", header)
	}
}

func TestHardeningHeadersOnEveryResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "")

	for name, w := range map[string]*httptest.ResponseRecorder{
		"success":   env.request(t, tokenStr, ""),
		"rejection": env.request(t, "not-a-token", ""),
	} {
		assert.Equal(t, "noindex, nofollow", w.Header().Get("X-Robots-Tag"), name)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), name)
		assert.Equal(t, "private, max-age=3600", w.Header().Get("Cache-Control"), name)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	w := httptest.NewRecorder()
	env.gateway.Handle(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokenRejectionsAreUniform(t *testing.T) {
	env := newTestEnv(t, nil)
	valid := env.mint(t, "http://gateway.test/media/video.mp4", "")

	// flip one signature byte
	tampered := valid[:len(valid)-1]
	if strings.HasSuffix(valid, "0") {
		tampered += "1"
	} else {
		tampered += "0"
	}

	// expired token, otherwise well formed
	secret, err := env.keeper.Secret()
	require.NoError(t, err)
	now := time.Now().Unix()
	expired, err := token.Encode(&token.Claims{
		VideoID: 7,
		Quality: "sd",
		URL:     "http://gateway.test/media/video.mp4",
		Exp:     now - 10,
		Iat:     now - 70,
	}, secret)
	require.NoError(t, err)

	// every failure class surfaces the same status and message
	for name, tokenStr := range map[string]string{
		"malformed": "garbage",
		"tampered":  tampered,
		"expired":   expired,
	} {
		w := env.request(t, tokenStr, "")
		assert.Equal(t, http.StatusForbidden, w.Code, name)
		assert.Contains(t, w.Body.String(), "Invalid or expired token", name)
	}
}

func TestAddressBindingMismatchRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "203.0.113.10")

	// httptest requests arrive from 192.0.2.1
	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Request verification failed")
}

func TestAddressBindingMatchAccepted(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "http://gateway.test/media/video.mp4", "203.0.113.10")

	r := httptest.NewRequest(http.MethodGet, "/stream?token="+url.QueryEscape(tokenStr), nil)
	r.RemoteAddr = "203.0.113.10:41000"
	w := httptest.NewRecorder()
	env.gateway.Handle(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPathTraversalNeverServesLocalFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	// plant a file one level above the storage root
	outside := filepath.Join(filepath.Dir(env.cfg.StorageRoot), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("sentinel"), 0644))

	tokenStr := env.mint(t, "http://gateway.test/media/../outside.txt", "")
	w := env.request(t, tokenStr, "")

	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sentinel")
}

func TestUnresolvableSourceIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	tokenStr := env.mint(t, "ftp://elsewhere/video.mp4", "")

	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Video file not found")
}

func TestProxyRelaysAllowedOrigin(t *testing.T) {
	var gotUserAgent, gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("X-Upstream-Internal", "leaky")
		w.Write([]byte("remote-bytes"))
	}))
	defer upstream.Close()

	env := newTestEnv(t, []string{"127.0.0.1"})
	tokenStr := env.mint(t, upstream.URL+"/video.mp4", "")

	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "remote-bytes", w.Body.String())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Header().Get("X-Upstream-Internal"), "only allow-listed headers relay")
	assert.Equal(t, "SVP-Gateway/1.0", gotUserAgent)
	assert.Equal(t, "http://gateway.test/", gotReferer)
}

func TestProxyForwardsRangeHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-4" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("full"))
			return
		}
		w.Header().Set("Content-Range", "bytes 0-4/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("01234"))
	}))
	defer upstream.Close()

	env := newTestEnv(t, []string{"127.0.0.1"})
	tokenStr := env.mint(t, upstream.URL+"/video.mp4", "")

	w := env.request(t, tokenStr, "bytes=0-4")

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 0-4/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "01234", w.Body.String())
}

func TestProxyPropagatesUpstream416(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer upstream.Close()

	env := newTestEnv(t, []string{"127.0.0.1"})
	tokenStr := env.mint(t, upstream.URL+"/video.mp4", "")

	w := env.request(t, tokenStr, "bytes=2000-")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestProxyRejectsUnknownOrigin(t *testing.T) {
	env := newTestEnv(t, []string{"cdn.example.com"})
	tokenStr := env.mint(t, "http://127.0.0.1:1/video.mp4", "")

	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Origin not allowed")
}

func TestProxyAllowsSubdomainsOfAllowedDomain(t *testing.T) {
	env := newTestEnv(t, []string{"example.com"})

	assert.True(t, env.cfg.IsDomainAllowed("example.com"))
	assert.True(t, env.cfg.IsDomainAllowed("media.example.com"))
	assert.False(t, env.cfg.IsDomainAllowed("notexample.com"))
}

func TestProxyUpstreamFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, []string{"127.0.0.1"})
	// nothing listens on port 1
	tokenStr := env.mint(t, "http://127.0.0.1:1/video.mp4", "")

	w := env.request(t, tokenStr, "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Upstream unavailable")
}
