package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/snapvault/backend/internal/config"
)

func newRateLimitedRouter(t *testing.T, requests int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.New()
	cfg.RateLimitRequests = requests

	router := gin.New()
	router.Use(RateLimiter(client, cfg))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router, mr
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	router, _ := newRateLimitedRouter(t, 3)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimiter_WindowExpiryResetsCounter(t *testing.T) {
	router, mr := newRateLimitedRouter(t, 1)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", w.Code)
	}

	mr.FastForward(config.New().RateLimitDuration * 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("after window expiry: status %d, want 200", w.Code)
	}
}

func TestRateLimiter_BypassesWhenRedisDown(t *testing.T) {
	router, mr := newRateLimitedRouter(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d with redis down: status %d, want 200", i+1, w.Code)
		}
	}
}

func TestUploadRateLimit_PerUserDailyCap(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.New()
	cfg.UploadMaxPerDay = 2

	alice := uuid.New()
	bob := uuid.New()

	router := gin.New()
	router.POST("/upload/:user", func(c *gin.Context) {
		// stand-in for Auth: the route param picks the acting user
		id, err := uuid.Parse(c.Param("user"))
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		c.Set(ContextUserIDKey, id)
	}, UploadRateLimit(client, cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	post := func(user uuid.UUID) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload/"+user.String(), nil))
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := post(alice); code != http.StatusOK {
			t.Fatalf("alice upload %d: status %d", i+1, code)
		}
	}
	if code := post(alice); code != http.StatusTooManyRequests {
		t.Fatalf("alice over daily cap: status %d, want 429", code)
	}

	// the cap is per user, so bob is unaffected
	if code := post(bob); code != http.StatusOK {
		t.Fatalf("bob first upload: status %d, want 200", code)
	}
}
