package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"svp-gateway/work/gateway"
	"svp-gateway/work/issuer"
	"svp-gateway/work/nonce"
	"svp-gateway/work/utils"
)

// AdminCheck reports whether a request carries valid admin credentials. The
// admin API wiring in main supplies the real implementation.
type AdminCheck func(r *http.Request) bool

// HandleToken serves the issuance endpoint: it collects the request
// parameters and requester context, delegates to the issuer, and shapes the
// result as JSON.
func HandleToken(iss *issuer.Issuer, isAdmin AdminCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID, _ := strconv.ParseInt(r.URL.Query().Get("video"), 10, 64)
		quality := r.URL.Query().Get("quality")
		nonceStr := r.URL.Query().Get("nonce")

		req := issuer.Requester{
			IP: utils.ClientIP(r),
		}
		if isAdmin != nil && isAdmin(r) {
			req.Admin = true
			req.UserID = 1
		}

		grant, err := iss.Issue(videoID, quality, nonceStr, req)
		if err != nil {
			writeIssueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"url":     grant.URL,
			"expires": grant.Expires,
		})
	}
}

// HandleNonce serves anti-forgery nonce refreshes for the player, bound to
// the requesting client's address.
func HandleNonce(nonces *nonce.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := nonces.Create(utils.ClientIP(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"nonce":   value,
		})
	}
}

// HandleStream serves the streaming endpoint.
func HandleStream(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.Handle(w, r)
	}
}

// writeIssueError maps a typed issuance error onto its HTTP status.
func writeIssueError(w http.ResponseWriter, err error) {
	var issueErr *issuer.Error
	if errors.As(err, &issueErr) {
		writeJSON(w, issueErr.Status, map[string]string{"error": issueErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
