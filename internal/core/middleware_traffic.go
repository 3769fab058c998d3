package core

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"paysched/internal/ratelimit"
	"paysched/internal/types"
)

// maxPeekBodySize bounds how much of a request body the rate limiter reads
// when resolving the owning account of a create request.
const maxPeekBodySize = 64 << 10 // 64 KB

// rateRule is the resolved admission rule for one request: the scope the
// caller is counted under and the per-window budget for the route.
type rateRule struct {
	scope string
	id    string
	limit int
}

// RateLimit enforces the per-route fixed-window limits.
//
// Account-owned routes (create, list, upcoming) are counted per account so
// one tenant cannot exhaust another's budget; destructive and unclassified
// routes fall back to the caller's IP. On every decision the standard
// X-RateLimit-* headers are set; denials get a 429 with Retry-After.
//
// If no limiter is configured or rate limiting is disabled, the middleware
// passes through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil || !s.Config.RateLimit.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		rule := s.resolveRateRule(r)
		key := ratelimit.Key(rule.scope, rule.id, r.URL.Path, r.Method)
		result := s.Limiter.Allow(key, rule.limit)

		setRateLimitHeaders(w, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("scope", rule.scope),
				slog.String("id", rule.id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := result.ResetInSeconds
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry after the reset time.",
					RequestID: types.GetRequestID(r.Context()),
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveRateRule classifies the request into one of the configured route
// budgets and picks the scope identity.
func (s *Server) resolveRateRule(r *http.Request) rateRule {
	cfg := s.Config.RateLimit

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segs) > 0 && segs[0] == "v1" {
		segs = segs[1:]
	}

	if len(segs) > 0 && segs[0] == "scheduled-payments" {
		rest := segs[1:]
		switch {
		case r.Method == http.MethodPost && len(rest) == 0:
			// Creation is always account-scoped. Bodies without a parseable
			// accountId share one bucket (the limiter keys an empty id as
			// "unknown") so malformed requests cannot dodge the budget by
			// rotating source addresses.
			return rateRule{scope: "acct", id: peekAccountID(r), limit: cfg.CreatePerWindow}

		case r.Method == http.MethodGet && len(rest) >= 2 && rest[0] == "accounts":
			limit := cfg.ListPerWindow
			if len(rest) == 3 && rest[2] == "upcoming" {
				limit = cfg.UpcomingPerWindow
			}
			return rateRule{scope: "acct", id: rest[1], limit: limit}

		case r.Method == http.MethodDelete && len(rest) == 1:
			return rateRule{scope: "ip", id: extractClientIP(r), limit: cfg.DeletePerWindow}
		}
	}

	return rateRule{scope: "ip", id: extractClientIP(r), limit: cfg.DefaultPerWindow}
}

// peekAccountID reads the accountId field out of a JSON request body without
// consuming it: the read prefix is replayed ahead of whatever remains unread,
// so the handler sees the body exactly as sent regardless of its size.
// Returns "" when the body is missing, oversized, or not JSON.
func peekAccountID(r *http.Request) string {
	if r.Body == nil {
		return ""
	}

	orig := r.Body
	prefix, err := io.ReadAll(io.LimitReader(orig, maxPeekBodySize+1))
	r.Body = &replayedBody{
		Reader: io.MultiReader(bytes.NewReader(prefix), orig),
		closer: orig,
	}
	if err != nil || len(prefix) > maxPeekBodySize {
		return ""
	}

	var peek struct {
		AccountID string `json:"accountId"`
	}
	if err := json.Unmarshal(prefix, &peek); err != nil {
		return ""
	}
	return peek.AccountID
}

// replayedBody chains a buffered prefix with the unread remainder of the
// original body while keeping the original closer.
type replayedBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayedBody) Close() error { return b.closer.Close() }

// setRateLimitHeaders writes the standard X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(result.ResetInSeconds))
}
