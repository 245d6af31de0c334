package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TokensIssued counts capability tokens minted by the issuer, labeled by the
// requested quality variant. This metric is a counter and only increases.
var TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "svp_gateway_tokens_issued",
	Help: "Number of capability tokens issued",
}, []string{"quality"})

// IssueErrors counts failed issuance requests. The "reason" label categorizes
// the failure (missing_nonce, invalid_nonce, rate_limited, not_found, forbidden).
var IssueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "svp_gateway_issue_errors",
	Help: "Number of rejected token issuance requests",
}, []string{"reason"})

// StreamsServed counts streaming responses by delivery mode ("local" or "proxy")
// and final HTTP status code.
var StreamsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "svp_gateway_streams_served",
	Help: "Number of streaming requests served",
}, []string{"mode", "status"})

// BytesTransferred tracks the total number of bytes streamed to clients.
// The "mode" label distinguishes local file serving from upstream proxying.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "svp_gateway_bytes_transferred",
	Help: "Total bytes transferred to clients",
}, []string{"mode"})

// ActiveStreams tracks the number of in-flight streaming responses.
// This metric is a gauge that increases and decreases in real-time.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "svp_gateway_active_streams",
	Help: "Number of streaming responses currently in flight",
})

// RateLimited counts issuance requests denied by the per-client rate limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "svp_gateway_rate_limited",
	Help: "Number of requests denied by the rate limiter",
})
