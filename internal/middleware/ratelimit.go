package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// anonymousKey is the identity of requests that carry no usable key.
const anonymousKey = "anonymous"

// KeyFunc derives the rate limit identity of a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey keys requests by client IP. Whether forwarding headers are
// honored is decided by the engine's trusted proxy settings.
func ClientIPKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return anonymousKey
}

// HeaderKey keys requests by the value of header, falling back to the
// client IP when the header is absent.
func HeaderKey(header string) KeyFunc {
	return func(c *gin.Context) string {
		if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
			return "h:" + v
		}
		return ClientIPKey(c)
	}
}

// Admitter decides whether an identity may proceed.
type Admitter interface {
	Allow(ctx context.Context, identity string) (*ratelimit.Result, error)
}

// RateLimit returns a middleware that admits requests through limiter. A
// rejected request is answered with 429 and never reaches later handlers;
// a limiter failure is answered with 500.
func RateLimit(limiter Admitter, key KeyFunc, logger observability.Logger) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}

	return func(c *gin.Context) {
		identity := key(c)

		res, err := limiter.Allow(c.Request.Context(), identity)
		if err != nil {
			// The limiter throttles its own store failure logs.
			_ = c.Error(err)
			c.AbortWithStatusJSON(util.Failure(util.NewInternalError(err)))
			return
		}

		setRateLimitHeaders(c, res)

		if !res.Allowed {
			logger.WithContext(c.Request.Context()).Debug("rate limit exceeded",
				observability.String("identity", identity),
				observability.String("path", c.Request.URL.Path),
				observability.Int64("count", res.Count),
			)
			c.Header(HeaderRetryAfter, strconv.FormatInt(ceilSeconds(res.RetryAfter), 10))
			c.AbortWithStatusJSON(util.Failure(util.NewRateLimitError(res.Limit, res.RetryAfter)))
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, res *ratelimit.Result) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(ceilSeconds(res.ResetAfter), 10))
}

// ceilSeconds rounds d up to whole seconds, at least 1.
func ceilSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
