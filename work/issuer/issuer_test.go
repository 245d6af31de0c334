package issuer

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svp-gateway/work/config"
	"svp-gateway/work/database"
	"svp-gateway/work/nonce"
	"svp-gateway/work/ratelimit"
	"svp-gateway/work/secrets"
	"svp-gateway/work/token"
)

type mapStore struct {
	videos map[int64]*database.Video
}

func (s *mapStore) Get(id int64) (*database.Video, error) {
	if v, ok := s.videos[id]; ok {
		return v, nil
	}
	return nil, database.ErrVideoNotFound
}

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

type fixture struct {
	issuer  *Issuer
	nonces  *nonce.Service
	keeper  *secrets.Keeper
	limiter *ratelimit.Limiter
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()

	cfg := &config.Config{
		BaseURL:           "http://gateway.test",
		TokenTTL:          60 * time.Second,
		NonceTTL:          12 * time.Hour,
		RateLimitRequests: rateLimit,
		RateLimitWindow:   time.Minute,
	}

	store := &mapStore{videos: map[int64]*database.Video{
		7: {
			ID:         7,
			Title:      "Seven",
			Visibility: "public",
			HDURL:      "http://cdn.example.com/seven-hd.mp4",
			SDURL:      "http://cdn.example.com/seven-sd.mp4",
		},
		8: {
			ID:         8,
			Title:      "Eight",
			Visibility: "private",
			HDURL:      "http://cdn.example.com/eight-hd.mp4",
		},
	}}

	keeper := secrets.NewKeeper("issuer-test-secret", &memSaltStore{data: make(map[string]string)})
	nonces := nonce.NewService("svp_video", cfg.NonceTTL, keeper)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)

	return &fixture{
		issuer:  New(cfg, store, nonces, limiter, keeper),
		nonces:  nonces,
		keeper:  keeper,
		limiter: limiter,
	}
}

func (f *fixture) nonceFor(t *testing.T, ip string) string {
	t.Helper()
	value, err := f.nonces.Create(ip)
	require.NoError(t, err)
	return value
}

const clientIP = "203.0.113.10"

func TestIssueHappyPath(t *testing.T) {
	f := newFixture(t, 60)

	grant, err := f.issuer.Issue(7, "sd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(grant.URL, "http://gateway.test/stream?token="), "got %s", grant.URL)
	assert.Greater(t, grant.Expires, time.Now().Unix())
	assert.LessOrEqual(t, grant.Expires, time.Now().Add(61*time.Second).Unix())

	// the embedded token decodes to the requested claims
	parsed, err := url.Parse(grant.URL)
	require.NoError(t, err)
	secret, err := f.keeper.Secret()
	require.NoError(t, err)
	claims, err := token.Decode(parsed.Query().Get("token"), secret)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.VideoID)
	assert.Equal(t, "sd", claims.Quality)
	assert.Equal(t, "http://cdn.example.com/seven-sd.mp4", claims.URL)
	assert.Equal(t, clientIP, claims.IP)
}

func TestIssueMissingNonce(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.issuer.Issue(7, "sd", "", Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 400, issueErr.Status)
	assert.Equal(t, "missing_nonce", issueErr.Reason)
}

func TestIssueInvalidNonce(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.issuer.Issue(7, "sd", "ffffffffffff", Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 403, issueErr.Status)
	assert.Equal(t, "invalid_nonce", issueErr.Reason)
}

func TestIssueNonceBoundToClient(t *testing.T) {
	f := newFixture(t, 60)

	// a nonce minted for one client is useless to another
	_, err := f.issuer.Issue(7, "sd", f.nonceFor(t, "203.0.113.99"), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, "invalid_nonce", issueErr.Reason)
}

func TestIssueRateLimited(t *testing.T) {
	f := newFixture(t, 3)

	for i := 0; i < 3; i++ {
		_, err := f.issuer.Issue(7, "sd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
		require.NoError(t, err, "request %d", i+1)
	}

	_, err := f.issuer.Issue(7, "sd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 429, issueErr.Status)
	assert.Equal(t, "rate_limited", issueErr.Reason)
}

func TestIssueVideoNotFound(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.issuer.Issue(999, "sd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 404, issueErr.Status)
	assert.Equal(t, "not_found", issueErr.Reason)
}

func TestIssueInvalidQuality(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.issuer.Issue(7, "uhd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 400, issueErr.Status)
}

func TestIssueQualityNotFound(t *testing.T) {
	f := newFixture(t, 60)

	// video 7 has no LD variant
	_, err := f.issuer.Issue(7, "ld", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 404, issueErr.Status)
	assert.Equal(t, "quality_not_found", issueErr.Reason)
}

func TestIssuePrivateVideoForbidden(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.issuer.Issue(8, "hd", f.nonceFor(t, clientIP), Requester{IP: clientIP})
	var issueErr *Error
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, 403, issueErr.Status)
	assert.Equal(t, "forbidden", issueErr.Reason)
}

func TestIssuePrivateVideoAllowedForAdmin(t *testing.T) {
	f := newFixture(t, 60)

	grant, err := f.issuer.Issue(8, "hd", f.nonceFor(t, clientIP), Requester{IP: clientIP, Admin: true, UserID: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.URL)
}
