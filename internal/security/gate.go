// Package security protects the guest-payment endpoint: per-IP rate
// limiting, failure tracking, and temporary blocks for abusive
// clients, all without requiring authentication.
package security

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gescom/backoffice/internal/config"
)

var (
	ErrMissingClientInfo = errors.New("client IP and user agent are required")
	ErrInvalidIPFormat   = errors.New("invalid IP address format")
	ErrBlockedIP         = errors.New("IP address blocked for suspicious activity")
	ErrRateLimited       = errors.New("too many attempts, try again later")
)

const (
	rateLimitPrefix  = "payment_rate_limit:"
	failedPrefix     = "payment_failed:"
	suspiciousPrefix = "suspicious_ip:"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{32,64}$`)

type Gate struct {
	store Store
	cfg   config.SecurityConfig
}

func NewGate(store Store, cfg config.SecurityConfig) *Gate {
	return &Gate{store: store, cfg: cfg}
}

// ValidateRequest runs the pre-flight checks for a guest payment and,
// when they pass, counts the attempt against the IP's sliding window.
func (g *Gate) ValidateRequest(ctx context.Context, clientIP, userAgent string) error {
	if strings.TrimSpace(clientIP) == "" || strings.TrimSpace(userAgent) == "" {
		return ErrMissingClientInfo
	}
	if !validIP(clientIP) {
		log.Warn().Str("client_ip", clientIP).Msg("security: invalid IP in payment request")
		return ErrInvalidIPFormat
	}

	suspicious, err := g.store.Exists(ctx, suspiciousPrefix+clientIP)
	if err != nil {
		return fmt.Errorf("security: failed to check suspicious flag: %w", err)
	}
	if suspicious {
		log.Warn().Str("client_ip", clientIP).Msg("security: payment attempt from blocked IP")
		return ErrBlockedIP
	}

	// Increment first and judge the returned value; a separate read
	// before the increment would let concurrent requests all observe a
	// sub-threshold count.
	attempts, err := g.store.Increment(ctx, rateLimitPrefix+clientIP, g.cfg.RateLimitWindow)
	if err != nil {
		return fmt.Errorf("security: failed to record attempt: %w", err)
	}
	if attempts > g.cfg.MaxAttemptsPerIP {
		log.Warn().Str("client_ip", clientIP).Int("attempts", attempts).Msg("security: rate limit exceeded")
		return ErrRateLimited
	}
	return nil
}

// RecordFailedAttempt counts a failed payment against the IP and blocks
// it once failures reach the suspicious threshold.
func (g *Gate) RecordFailedAttempt(ctx context.Context, clientIP, reason string) {
	log.Warn().Str("client_ip", clientIP).Str("reason", reason).Msg("security: failed payment recorded")

	failed, err := g.store.Increment(ctx, failedPrefix+clientIP, g.cfg.RateLimitWindow)
	if err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("security: failed to record failed attempt")
		return
	}
	if failed >= g.cfg.SuspiciousThreshold {
		g.MarkSuspicious(ctx, clientIP, fmt.Sprintf("too many failed attempts: %d", failed))
	}
}

// RecordSuccess clears the failure counter after a completed payment.
func (g *Gate) RecordSuccess(ctx context.Context, clientIP string) {
	if err := g.store.Delete(ctx, failedPrefix+clientIP); err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("security: failed to reset failure counter")
	}
}

func (g *Gate) MarkSuspicious(ctx context.Context, clientIP, reason string) {
	log.Warn().Str("client_ip", clientIP).Str("reason", reason).Msg("security: IP marked suspicious")

	value := reason + "|" + time.Now().UTC().Format(time.RFC3339)
	if err := g.store.Set(ctx, suspiciousPrefix+clientIP, value, g.cfg.SuspiciousBlockFor); err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("security: failed to mark IP suspicious")
	}
}

func (g *Gate) IsSuspicious(ctx context.Context, clientIP string) bool {
	suspicious, err := g.store.Exists(ctx, suspiciousPrefix+clientIP)
	if err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("security: failed to check suspicious flag")
		return false
	}
	return suspicious
}

// Unblock is the administrative override: it clears the block and both
// counters regardless of how they got there.
func (g *Gate) Unblock(ctx context.Context, clientIP, adminReason string) {
	log.Info().Str("client_ip", clientIP).Str("reason", adminReason).Msg("security: IP unblocked by admin")

	for _, key := range []string{suspiciousPrefix + clientIP, failedPrefix + clientIP, rateLimitPrefix + clientIP} {
		if err := g.store.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("security: failed to delete key during unblock")
		}
	}
}

// ValidTokenFormat checks a payment security token's shape: URL-safe
// base64 of 32 random bytes lands in the 32-64 character range.
func (g *Gate) ValidTokenFormat(token string) bool {
	return tokenPattern.MatchString(token)
}

// CleanupExpired exists for stores without native expiry; both the
// in-memory store's janitor and a TTL-keyed external store already
// reclaim expired entries on their own.
func (g *Gate) CleanupExpired(ctx context.Context) {
	log.Debug().Msg("security: cleanup tick, store handles expiry natively")
}

func validIP(ip string) bool {
	// Dev convenience, the literal hostname has no netip form.
	if ip == "localhost" {
		return true
	}
	_, err := netip.ParseAddr(ip)
	return err == nil
}
