package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	limiterIdleExpiry = 5 * time.Minute

	// Players behind one NAT share an address, so the burst covers a rack.
	heartbeatBurst = 5

	// Remote commands per operator; a dashboard clicking refresh on a wall
	// of screens stays well under this.
	controlRatePerSecond = 2
	controlBurst         = 10
)

// limitKey picks the bucket a request draws from and the field name used to
// report it on a 429.
type limitKey struct {
	field   string
	extract func(c echo.Context) (string, error)
}

var (
	byClientIP = limitKey{
		field:   "client_ip",
		extract: func(c echo.Context) (string, error) { return c.RealIP(), nil },
	}
	// byOperator must run after requireOperator; anonymous callers share a bucket.
	byOperator = limitKey{
		field: "user_id",
		extract: func(c echo.Context) (string, error) {
			op, ok := c.Get(operatorKey).(domain.Operator)
			if !ok {
				return "anonymous", nil
			}
			return strconv.FormatInt(op.UserID, 10), nil
		},
	}
)

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	return newKeyedRateLimiter(byClientIP, ratePerSecond, burst)
}

func newKeyedRateLimiter(key limitKey, ratePerSecond float64, burst int) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(1 / ratePerSecond)))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: key.extract,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: limiterIdleExpiry,
		}),
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").WithField(key.field, identifier))
		},
	})
}
