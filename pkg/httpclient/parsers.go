package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIRateLimitHeaders reads the rate-limit hints emitted by
// OpenAI-compatible endpoints.
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	var info RateLimitInfo

	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			info.RetryAfter = time.Until(t)
		}
	}

	if v := headers.Get("X-Ratelimit-Reset-Requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			info.RetryAfter = maxDuration(info.RetryAfter, d)
		}
	}

	return info
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
