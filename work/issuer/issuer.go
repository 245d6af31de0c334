package issuer

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"svp-gateway/work/config"
	"svp-gateway/work/database"
	"svp-gateway/work/logger"
	"svp-gateway/work/metrics"
	"svp-gateway/work/nonce"
	"svp-gateway/work/ratelimit"
	"svp-gateway/work/resource"
	"svp-gateway/work/secrets"
	"svp-gateway/work/token"
)

// Requester carries what the session layer knows about the caller at
// issuance time.
type Requester struct {
	IP     string // client network address, empty when it could not be determined
	UserID int64  // authenticated identity, 0 for anonymous
	Admin  bool   // whether the caller authenticated against the admin API
}

// Grant is a successful issuance result: a one-time streaming URL and the
// unix time at which the embedded token stops verifying.
type Grant struct {
	URL     string `json:"url"`
	Expires int64  `json:"expires"`
}

// Error is a rejected issuance, typed with the HTTP status the handler layer
// should surface and a stable reason label for metrics.
type Error struct {
	Status  int    // HTTP status code
	Reason  string // metric label (missing_nonce, rate_limited, ...)
	Message string // client-facing message
}

func (e *Error) Error() string {
	return e.Message
}

var (
	errMissingNonce    = &Error{Status: http.StatusBadRequest, Reason: "missing_nonce", Message: "Missing nonce parameter"}
	errInvalidNonce    = &Error{Status: http.StatusForbidden, Reason: "invalid_nonce", Message: "Invalid nonce. Please refresh and try again"}
	errRateLimited     = &Error{Status: http.StatusTooManyRequests, Reason: "rate_limited", Message: "Rate limit exceeded. Please try again later"}
	errInvalidRequest  = &Error{Status: http.StatusBadRequest, Reason: "invalid_request", Message: "Invalid video or quality parameter"}
	errVideoNotFound   = &Error{Status: http.StatusNotFound, Reason: "not_found", Message: "Invalid video"}
	errForbidden       = &Error{Status: http.StatusForbidden, Reason: "forbidden", Message: "Insufficient permissions"}
	errQualityNotFound = &Error{Status: http.StatusNotFound, Reason: "quality_not_found", Message: "Video not found for requested quality"}
	errInternal        = &Error{Status: http.StatusInternalServerError, Reason: "internal", Message: "Internal error"}
)

// Issuer orchestrates capability token issuance: anti-forgery check, rate
// limiting, resource resolution, authorization, and minting. Aside from the
// rate limiter's counter it has no side effects.
type Issuer struct {
	Config  *config.Config
	Store   resource.Store
	Nonces  *nonce.Service
	Limiter *ratelimit.Limiter
	Secrets *secrets.Keeper
	now     func() time.Time
}

// New wires an Issuer from its collaborators.
func New(cfg *config.Config, store resource.Store, nonces *nonce.Service, limiter *ratelimit.Limiter, keeper *secrets.Keeper) *Issuer {
	return &Issuer{
		Config:  cfg,
		Store:   store,
		Nonces:  nonces,
		Limiter: limiter,
		Secrets: keeper,
		now:     time.Now,
	}
}

// Issue validates an issuance request and mints a capability token bound to
// the requested video, quality and requester context. Check order is fixed:
// nonce, rate limit, resource, authorization, quality. Failures return a
// typed *Error; callers should not retry internally.
func (i *Issuer) Issue(videoID int64, quality, nonceStr string, req Requester) (*Grant, error) {

	// anti-forgery nonce from the session layer
	if nonceStr == "" {
		metrics.IssueErrors.WithLabelValues(errMissingNonce.Reason).Inc()
		return nil, errMissingNonce
	}
	if err := i.Nonces.Verify(nonceStr, req.IP); err != nil {
		logger.Debug("{issuer - Issue} Nonce rejected for %s: %v", req.IP, err)
		metrics.IssueErrors.WithLabelValues(errInvalidNonce.Reason).Inc()
		return nil, errInvalidNonce
	}

	// per-client issuance budget
	if !i.Limiter.Allow(req.IP) {
		metrics.RateLimited.Inc()
		metrics.IssueErrors.WithLabelValues(errRateLimited.Reason).Inc()
		return nil, errRateLimited
	}

	if videoID <= 0 || !resource.ValidQuality(quality) {
		metrics.IssueErrors.WithLabelValues(errInvalidRequest.Reason).Inc()
		return nil, errInvalidRequest
	}

	// resolve the resource descriptor
	video, err := i.Store.Get(videoID)
	if errors.Is(err, database.ErrVideoNotFound) {
		metrics.IssueErrors.WithLabelValues(errVideoNotFound.Reason).Inc()
		return nil, errVideoNotFound
	}
	if err != nil {
		logger.Error("{issuer - Issue} Resource lookup failed for video %d: %v", videoID, err)
		metrics.IssueErrors.WithLabelValues(errInternal.Reason).Inc()
		return nil, errInternal
	}

	// authorization: can this requester view the video at all
	if !resource.CanView(video, req.Admin) {
		metrics.IssueErrors.WithLabelValues(errForbidden.Reason).Inc()
		return nil, errForbidden
	}

	// quality variant must have a stored source URL
	sourceURL := resource.URLForQuality(video, quality)
	if sourceURL == "" {
		metrics.IssueErrors.WithLabelValues(errQualityNotFound.Reason).Inc()
		return nil, errQualityNotFound
	}

	// mint the capability token
	secret, err := i.Secrets.Secret()
	if err != nil {
		logger.Error("{issuer - Issue} Secret unavailable: %v", err)
		metrics.IssueErrors.WithLabelValues(errInternal.Reason).Inc()
		return nil, errInternal
	}

	now := i.now()
	expires := now.Add(i.Config.TokenTTL).Unix()
	claims := &token.Claims{
		VideoID: videoID,
		Quality: quality,
		URL:     sourceURL,
		Exp:     expires,
		Iat:     now.Unix(),
		IP:      req.IP,
		UserID:  req.UserID,
	}

	tokenStr, err := token.Encode(claims, secret)
	if err != nil {
		logger.Error("{issuer - Issue} Token encode failed: %v", err)
		metrics.IssueErrors.WithLabelValues(errInternal.Reason).Inc()
		return nil, errInternal
	}

	metrics.TokensIssued.WithLabelValues(quality).Inc()

	return &Grant{
		URL:     i.Config.BaseURL + "/stream?token=" + url.QueryEscape(tokenStr),
		Expires: expires,
	}, nil
}
