package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/config"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitFlow(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	ctx := context.Background()

	t.Run("denies after max and reopens after the window", func(t *testing.T) {
		limits := config.RateLimitsConfig{
			ChallengeRequest: config.RateLimitRule{
				Enabled: true,
				Max:     3,
				Window:  300 * time.Millisecond,
			},
		}
		rl := NewRateLimitFlow(rc, limits, testCacheCfg())

		for i := 0; i < 3; i++ {
			decision, err := rl.AllowChallengeRequest(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d should pass", i+1)
			assert.Equal(t, int64(3-(i+1)), decision.Remaining)
		}

		decision, err := rl.AllowChallengeRequest(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		// A denied caller learns when the window reopens
		assert.True(t, decision.ResetAt.After(utils.UTCNow()))
		assert.WithinDuration(t, utils.UTCNow().Add(300*time.Millisecond), decision.ResetAt, 200*time.Millisecond)

		// Another key is an independent window
		decision, err = rl.AllowChallengeRequest(ctx, "10.0.0.2")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		time.Sleep(400 * time.Millisecond)

		decision, err = rl.AllowChallengeRequest(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("allowed decisions also carry the reset time", func(t *testing.T) {
		limits := config.RateLimitsConfig{
			ChallengeRequest: config.RateLimitRule{Enabled: true, Max: 5, Window: time.Minute},
		}
		rl := NewRateLimitFlow(rc, limits, testCacheCfg())

		decision, err := rl.AllowChallengeRequest(ctx, "10.0.0.9")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(4), decision.Remaining)
		assert.True(t, decision.ResetAt.After(utils.UTCNow()))
	})

	t.Run("actions have separate windows", func(t *testing.T) {
		limits := config.RateLimitsConfig{
			ChallengeRequest: config.RateLimitRule{Enabled: true, Max: 1, Window: time.Minute},
			LeadSubmit:       config.RateLimitRule{Enabled: true, Max: 1, Window: time.Minute},
		}
		rl := NewRateLimitFlow(rc, limits, testCacheCfg())

		decision, err := rl.AllowChallengeRequest(ctx, "shared-key")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		// The challenge window is exhausted but lead submission is not
		decision, err = rl.AllowChallengeRequest(ctx, "shared-key")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		decision, err = rl.AllowLeadSubmit(ctx, "shared-key")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("disabled rule always allows", func(t *testing.T) {
		rl := NewRateLimitFlow(rc, config.RateLimitsConfig{}, testCacheCfg())
		for i := 0; i < 20; i++ {
			decision, err := rl.AllowLogin(ctx, "merchant@example.com")
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}
	})

	t.Run("empty key always allows", func(t *testing.T) {
		limits := config.RateLimitsConfig{
			Login: config.RateLimitRule{Enabled: true, Max: 1, Window: time.Minute},
		}
		rl := NewRateLimitFlow(rc, limits, testCacheCfg())
		for i := 0; i < 5; i++ {
			decision, err := rl.AllowLogin(ctx, "")
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Run("reads the reset time through wrapping", func(t *testing.T) {
		rle := &RateLimitExceededError{ResetAt: utils.UTCNow().Add(30 * time.Second)}
		err := NewBusinessError("CHALLENGE_RATE_LIMITED", "Too many challenge requests", rle)

		assert.True(t, IsRateLimitExceeded(err))
		secs := RetryAfterSeconds(err)
		assert.GreaterOrEqual(t, secs, 29)
		assert.LessOrEqual(t, secs, 31)
	})

	t.Run("elapsed reset clamps to one second", func(t *testing.T) {
		rle := &RateLimitExceededError{ResetAt: utils.UTCNow().Add(-time.Minute)}
		assert.Equal(t, 1, RetryAfterSeconds(rle))
	})

	t.Run("plain errors carry no reset", func(t *testing.T) {
		assert.Equal(t, 0, RetryAfterSeconds(errors.New("boom")))
		assert.Equal(t, 0, RetryAfterSeconds(ErrRateLimitExceeded))
	})
}
