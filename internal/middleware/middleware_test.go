package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/utils"
)

const secret = "test-secret"

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func newContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/showtimes/:id/holds")
	return c, rec
}

func TestJWTAuth(t *testing.T) {
	tok, err := utils.NewAccessToken(secret, 7, "CUSTOMER", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.Token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			c, rec := newContext(req)
			var seen uint64
			h := JWTAuth(secret)(func(c echo.Context) error {
				seen, _ = UserID(c)
				return okHandler(c)
			})
			require.NoError(t, h(c))
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, uint64(7), seen)
				assert.Equal(t, "CUSTOMER", Role(c))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	c, rec := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	c.Set(ctxRole, "CUSTOMER")
	require.NoError(t, RequireRole("ADMIN")(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	c.Set(ctxRole, "ADMIN")
	require.NoError(t, RequireRole("ADMIN")(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRateKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/showtimes/1/holds", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c, _ := newContext(req)
	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/showtimes/:id/holds", buildRateKey(cfg, c))

	c.Set(ctxUserID, uint64(9))
	cfg.KeyStrategy = "ip_user"
	assert.Equal(t, "rl:ip:10.0.0.1:user:9", buildRateKey(cfg, c))
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true, Capacity: 20, RefillTokens: 1, RefillInterval: time.Second,
		TTL: time.Minute, KeyStrategy: "user", Prefix: "rl",
	}
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(now)
	cfg := rateConfig()
	args := bucketArgs(cfg, now)

	t.Run("allowed", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectEvalSha(limiterScript.Hash(), []string{"rl:user:anon"}, args...).
			SetVal([]interface{}{int64(1), int64(19), int64(0)})

		c, rec := newContext(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, NewTokenBucket(cfg, db, clk, nil)(okHandler)(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectEvalSha(limiterScript.Hash(), []string{"rl:user:anon"}, args...).
			SetVal([]interface{}{int64(0), int64(0), int64(1500)})

		c, rec := newContext(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, NewTokenBucket(cfg, db, clk, nil)(okHandler)(c))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails open", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectEvalSha(limiterScript.Hash(), []string{"rl:user:anon"}, args...).
			SetErr(errors.New("connection refused"))

		c, rec := newContext(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, NewTokenBucket(cfg, db, clk, nil)(okHandler)(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled", func(t *testing.T) {
		c, rec := newContext(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, NewTokenBucket(cfg, nil, clk, nil)(okHandler)(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
