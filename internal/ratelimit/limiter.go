package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ipWindow      = 15 * time.Minute
	ipMaxRequests = 10
	emailCooldown = 2 * time.Minute
)

// Limiter throttles sensitive auth endpoints per client IP, with an
// additional per-email cooldown for endpoints that send mail. Counters
// live in Redis so limits hold across instances.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func ipKey(ip, purpose string) string {
	if purpose == "" {
		return fmt.Sprintf("ratelimit:ip:%s", ip)
	}
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func cooldownKey(email string) string {
	return fmt.Sprintf("ratelimit:email_cooldown:%s", email)
}

// CheckIPRateLimit reports whether the IP has exhausted its window
func (l *Limiter) CheckIPRateLimit(ctx context.Context, ip string) (bool, error) {
	return l.CheckIPRateLimitWithPurpose(ctx, ip, "")
}

// CheckIPRateLimitWithPurpose scopes the window to one endpoint so
// register attempts do not consume the forgot-password budget
func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	count, err := l.client.Get(ctx, ipKey(ip, purpose)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return count >= ipMaxRequests, nil
}

// RecordIPRequest counts one request against the IP's window
func (l *Limiter) RecordIPRequest(ctx context.Context, ip string) error {
	return l.RecordIPRequestWithPurpose(ctx, ip, "")
}

// RecordIPRequestWithPurpose counts one request against a scoped window
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	key := ipKey(ip, purpose)

	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ipWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}

	return nil
}

// CheckEmailCooldown reports whether an email was targeted too recently
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	exists, err := l.client.Exists(ctx, cooldownKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check email cooldown: %w", err)
	}
	return exists > 0, nil
}

// SetEmailCooldown starts the cooldown window for an email
func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if err := l.client.Set(ctx, cooldownKey(email), "1", emailCooldown).Err(); err != nil {
		return fmt.Errorf("failed to set email cooldown: %w", err)
	}
	return nil
}
