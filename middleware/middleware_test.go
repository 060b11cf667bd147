package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSPARewrite(t *testing.T) {
	cases := []struct {
		path      string
		want      string
		rewritten bool
	}{
		{"/api/vehicles", "/api/vehicles", false},
		{"/dashboard", "/index.html", true},
		{"/logo.png", "/logo.png", false},
		{"/", "/", false},
		{"/reportes/mensual", "/index.html", true},
		{"/api/", "/api/", false},
		{"/assets/app.3f2a.js", "/assets/app.3f2a.js", false},
		{"/apiary", "/index.html", true},
	}
	for _, tc := range cases {
		got, rewritten := SPARewrite(tc.path)
		assert.Equal(t, tc.want, got, tc.path)
		assert.Equal(t, tc.rewritten, rewritten, tc.path)
	}
}

func newSPAEngine() *gin.Engine {
	r := gin.New()
	r.GET("/index.html", func(c *gin.Context) {
		c.String(http.StatusOK, "shell for %s", c.GetHeader("X-Client"))
	})
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.NoRoute(SPAFallback(r), func(c *gin.Context) {
		c.String(http.StatusNotFound, "missing %s", c.Request.URL.Path)
	})
	return r
}

func TestSPAFallback(t *testing.T) {
	r := newSPAEngine()

	serve := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-Client", "pwa")
		r.ServeHTTP(w, req)
		return w
	}

	w := serve(http.MethodGet, "/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shell for pwa", w.Body.String())

	w = serve(http.MethodGet, "/health")
	assert.Equal(t, "ok", w.Body.String())

	w = serve(http.MethodGet, "/logo.png")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "missing /logo.png", w.Body.String())

	w = serve(http.MethodGet, "/api/vehicles")
	assert.Equal(t, "missing /api/vehicles", w.Body.String())

	w = serve(http.MethodPost, "/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shell for pwa", w.Body.String())

	w = serve(http.MethodDelete, "/reportes/mensual?mes=10")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(http.MethodPost, "/api/vehicles")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, retry := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)

	rl.cleanup()
	assert.Equal(t, 1, rl.tracked())
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	r := gin.New()
	r.POST("/send", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "retry_after")
}

func TestRateLimiter_CleanupStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	rl.Allow("10.0.0.1")
	assert.Eventually(t, func() bool { return rl.tracked() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestOptionalAuth(t *testing.T) {
	const secret = "s3cret"
	r := gin.New()
	r.POST("/vehiculos", OptionalAuth(secret), func(c *gin.Context) {
		c.String(http.StatusCreated, c.GetString("user_id"))
	})

	call := func(auth string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/vehiculos", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	wrongKey := signed(t, "other", jwt.RegisteredClaims{Subject: "u1"})
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+wrongKey).Code)

	expired := signed(t, secret, jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	w := call("Bearer " + expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token expired")

	good := signed(t, secret, jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	w = call("Bearer " + good)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestOptionalAuth_Disabled(t *testing.T) {
	r := gin.New()
	r.DELETE("/vehiculos/:placa", OptionalAuth(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/vehiculos/ABC123", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
