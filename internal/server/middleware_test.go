package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mosswell/kith/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
}

func TestRequireAuthDevelopmentBypass(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "development"
	handler := RequireAuth(okHandler(), cfg)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/persons", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAuthProduction(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "production"
	cfg.Security.APIToken = "sekrit"
	handler := RequireAuth(okHandler(), cfg)

	// No token.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/persons", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/api/persons", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/api/persons", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAuthProductionWithoutConfiguredToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.Mode = "production"
	handler := RequireAuth(okHandler(), cfg)

	// No configured token means nothing can authenticate.
	req := httptest.NewRequest(http.MethodGet, "/api/persons", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(okHandler(), NewRateLimiter(1.0, 2))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code, "request %d within burst", i)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
