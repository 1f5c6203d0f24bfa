package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	"github.com/tirtabiz/tirta/internal/principal"
	"go.uber.org/zap"
)

// The API sits behind a gateway that authenticates the caller and
// forwards their customer ID in this header.
const principalHeader = "X-Principal-ID"

const (
	rateLimitReasonMeterRate    = "meter-rate"
	rateLimitReasonEndpointRate = "endpoint-rate"
)

func (s *Server) PrincipalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(principalHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(principal.WithID(c.Request.Context(), id))
		c.Next()
	}
}

func principalFrom(c *gin.Context) (snowflake.ID, bool) {
	return principal.FromContext(c.Request.Context())
}

type readingIngestRateLimitKey struct {
	AccountNumber string `json:"account_number"`
}

// ReadingIngestRateLimit throttles telemetry: a shared bucket for the
// endpoint, then a per-meter bucket keyed by the account number in the
// request body.
func (s *Server) ReadingIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.ingestLimiter.AllowEndpoint(ctx)
		if err != nil {
			s.log.Warn("reading ingest endpoint rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyReadingIngest(c, endpoint, rateLimitReasonEndpointRate, res.RetryAfter)
			return
		}

		accountNumber, err := readReadingIngestKey(c)
		if err != nil {
			s.log.Warn("reading ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		if accountNumber != "" {
			res, err = s.ingestLimiter.AllowMeter(ctx, accountNumber)
			if err != nil {
				s.log.Warn("reading ingest meter rate limit check failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !res.Allowed {
				s.denyReadingIngest(c, endpoint, rateLimitReasonMeterRate, res.RetryAfter)
				return
			}
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func (s *Server) denyReadingIngest(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	s.log.Warn("reading ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, s.obsMetrics)

	seconds := int(retryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func readReadingIngestKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload readingIngestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.AccountNumber), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
