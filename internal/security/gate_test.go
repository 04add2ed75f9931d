package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gescom/backoffice/internal/config"
	"github.com/gescom/backoffice/internal/security"
)

const userAgent = "Mozilla/5.0"

func newTestGate(t *testing.T, cfg config.SecurityConfig) *security.Gate {
	t.Helper()
	store := security.NewMemoryStore(time.Minute)
	t.Cleanup(store.Close)
	return security.NewGate(store, cfg)
}

func TestGate_ValidateRequest(t *testing.T) {
	cfg := config.SecurityConfig{
		MaxAttemptsPerIP:    3,
		RateLimitWindow:     time.Minute,
		SuspiciousThreshold: 5,
		SuspiciousBlockFor:  time.Hour,
	}

	t.Run("missing_client_info", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), "", userAgent), security.ErrMissingClientInfo)
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), "192.0.2.1", ""), security.ErrMissingClientInfo)
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), "  ", userAgent), security.ErrMissingClientInfo)
	})

	t.Run("invalid_ip_format", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), "not-an-ip", userAgent), security.ErrInvalidIPFormat)
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), "999.1.1.1", userAgent), security.ErrInvalidIPFormat)
	})

	t.Run("accepts_valid_addresses", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		assert.NoError(t, gate.ValidateRequest(context.Background(), "192.0.2.1", userAgent))
		assert.NoError(t, gate.ValidateRequest(context.Background(), "2001:db8::1", userAgent))
		assert.NoError(t, gate.ValidateRequest(context.Background(), "localhost", userAgent))
	})

	t.Run("rate_limits_after_max_attempts", func(t *testing.T) {
		gate := newTestGate(t, cfg)
		ip := "198.51.100.7"

		for i := 0; i < cfg.MaxAttemptsPerIP; i++ {
			require.NoError(t, gate.ValidateRequest(context.Background(), ip, userAgent))
		}
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), ip, userAgent), security.ErrRateLimited)

		// Another IP is unaffected.
		assert.NoError(t, gate.ValidateRequest(context.Background(), "198.51.100.8", userAgent))
	})

	t.Run("concurrent_requests_cannot_exceed_the_cap", func(t *testing.T) {
		gate := newTestGate(t, cfg)
		ip := "198.51.100.20"

		// Every call increments atomically before judging the count, so
		// no interleaving lets more than MaxAttemptsPerIP through.
		const callers = 20
		results := make(chan error, callers)
		for i := 0; i < callers; i++ {
			go func() {
				results <- gate.ValidateRequest(context.Background(), ip, userAgent)
			}()
		}

		allowed := 0
		for i := 0; i < callers; i++ {
			if err := <-results; err == nil {
				allowed++
			} else {
				assert.ErrorIs(t, err, security.ErrRateLimited)
			}
		}
		assert.Equal(t, cfg.MaxAttemptsPerIP, allowed)
	})

	t.Run("window_expiry_resets_the_counter", func(t *testing.T) {
		store := security.NewMemoryStore(time.Minute)
		t.Cleanup(store.Close)
		shortWindow := cfg
		shortWindow.RateLimitWindow = 50 * time.Millisecond
		gate := security.NewGate(store, shortWindow)
		ip := "198.51.100.9"

		for i := 0; i < shortWindow.MaxAttemptsPerIP; i++ {
			require.NoError(t, gate.ValidateRequest(context.Background(), ip, userAgent))
		}
		require.ErrorIs(t, gate.ValidateRequest(context.Background(), ip, userAgent), security.ErrRateLimited)

		time.Sleep(60 * time.Millisecond)
		assert.NoError(t, gate.ValidateRequest(context.Background(), ip, userAgent))
	})

	t.Run("blocked_ip_is_rejected_before_rate_limit", func(t *testing.T) {
		gate := newTestGate(t, cfg)
		ip := "203.0.113.4"

		gate.MarkSuspicious(context.Background(), ip, "manual block")
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), ip, userAgent), security.ErrBlockedIP)
	})
}

func TestGate_FailureTracking(t *testing.T) {
	cfg := config.SecurityConfig{
		MaxAttemptsPerIP:    100,
		RateLimitWindow:     time.Minute,
		SuspiciousThreshold: 3,
		SuspiciousBlockFor:  time.Hour,
	}
	ip := "203.0.113.10"

	t.Run("failures_reaching_threshold_block_the_ip", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		assert.False(t, gate.IsSuspicious(context.Background(), ip))

		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		assert.True(t, gate.IsSuspicious(context.Background(), ip))
		assert.ErrorIs(t, gate.ValidateRequest(context.Background(), ip, userAgent), security.ErrBlockedIP)
	})

	t.Run("success_resets_the_failure_counter", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		gate.RecordSuccess(context.Background(), ip)

		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		assert.False(t, gate.IsSuspicious(context.Background(), ip))
	})

	t.Run("unblock_clears_everything", func(t *testing.T) {
		gate := newTestGate(t, cfg)

		for i := 0; i < cfg.SuspiciousThreshold; i++ {
			gate.RecordFailedAttempt(context.Background(), ip, "card declined")
		}
		require.True(t, gate.IsSuspicious(context.Background(), ip))

		gate.Unblock(context.Background(), ip, "customer support ticket")
		assert.False(t, gate.IsSuspicious(context.Background(), ip))
		assert.NoError(t, gate.ValidateRequest(context.Background(), ip, userAgent))
	})
}

func TestGate_ValidTokenFormat(t *testing.T) {
	gate := newTestGate(t, config.SecurityConfig{})

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"43_char_urlsafe_base64", "Ae3_x-0123456789abcdefghijklmnopqrstuvwxyZ1", true},
		{"32_chars", "abcdefghijklmnopqrstuvwxyz012345", true},
		{"64_chars", "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz01", true},
		{"too_short", "abc", false},
		{"too_long", "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz012", false},
		{"illegal_characters", "abcdefghijklmnopqrstuvwxyz01234+", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.ValidTokenFormat(tt.token))
		})
	}
}
