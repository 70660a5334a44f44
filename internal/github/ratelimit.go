package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

const rateLimitQuery = `query { rateLimit { limit remaining used resetAt } }`

type rateLimitNode struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Used      int    `json:"used"`
	ResetAt   string `json:"resetAt"`
}

func (r rateLimitNode) status() models.RateLimitStatus {
	return models.RateLimitStatus{Limit: r.Limit, Remaining: r.Remaining, Used: r.Used, ResetAt: r.ResetAt}
}

// GetRateLimitStatus reports the GraphQL quota. The check itself costs no
// points.
func (c *Client) GetRateLimitStatus(ctx context.Context) (models.RateLimitStatus, error) {
	resp, err := c.query(ctx, rateLimitQuery, nil)
	if err != nil {
		return models.RateLimitStatus{}, err
	}
	var data struct {
		RateLimit rateLimitNode `json:"rateLimit"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return models.RateLimitStatus{}, err
	}
	return data.RateLimit.status(), nil
}

// detectRateLimit recognises quota exhaustion from the status code, the
// quota headers, GraphQL error types and, as a last resort, the message
// text. It must run before any other error handling.
func detectRateLimit(status int, h http.Header, errs []gqlError, body []byte) *apperrors.RateLimitError {
	rl := &apperrors.RateLimitError{ResetAt: resetTime(h)}

	if status == http.StatusTooManyRequests {
		rl.Message = "HTTP 429"
		return rl
	}
	if remaining, ok := headerInt(h, "X-RateLimit-Remaining"); ok && remaining == 0 && status == http.StatusForbidden {
		rl.Message = "quota exhausted (X-RateLimit-Remaining: 0)"
		return rl
	}
	for _, e := range errs {
		if e.Type == "RATE_LIMITED" || isRateLimitText(e.Message) {
			rl.Message = e.Message
			return rl
		}
	}
	if status == http.StatusForbidden && isRateLimitText(string(body)) {
		rl.Message = snippet(body)
		return rl
	}
	return nil
}

func isRateLimitText(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") || strings.Contains(s, "ratelimit")
}

func resetTime(h http.Header) time.Time {
	if reset, ok := headerInt(h, "X-RateLimit-Reset"); ok {
		return time.Unix(int64(reset), 0)
	}
	return time.Time{}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
