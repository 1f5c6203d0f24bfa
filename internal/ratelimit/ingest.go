package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/tirtabiz/tirta/internal/config"
)

const (
	keyReadingIngestMeter    = "readings:ingest:meter:%s"
	keyReadingIngestEndpoint = "readings:ingest:endpoint"
)

// ReadingIngestLimiter shields the telemetry ingestion endpoint: one
// bucket per meter against chatty devices, one shared bucket for the
// endpoint as a whole. A nil limiter admits everything.
type ReadingIngestLimiter struct {
	enabled bool

	bucket *TokenBucket

	meterRate     float64
	meterBurst    int
	endpointRate  float64
	endpointBurst int
}

func NewReadingIngestLimiter(cfg config.Config) (*ReadingIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ReadingIngestRate <= 0 || limitCfg.ReadingIngestBurst <= 0 {
		return nil, errors.New("reading ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ReadingIngestLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		meterRate:     limitCfg.ReadingIngestRate,
		meterBurst:    limitCfg.ReadingIngestBurst,
		endpointRate:  limitCfg.ReadingIngestRate * 100,
		endpointBurst: limitCfg.ReadingIngestBurst * 100,
	}, nil
}

func (l *ReadingIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ReadingIngestLimiter) AllowMeter(ctx context.Context, accountNumber string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyReadingIngestMeter, strings.TrimSpace(accountNumber))
	return l.bucket.Allow(ctx, key, l.meterRate, l.meterBurst)
}

func (l *ReadingIngestLimiter) AllowEndpoint(ctx context.Context) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyReadingIngestEndpoint, l.endpointRate, l.endpointBurst)
}
