package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loandesk/config"
	"loandesk/services"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.Mode = "debug"
	cfg.DB.Driver = "memory"
	cfg.JWT.SecretKey = "test-secret"
	cfg.JWT.ExpiresIn = 1
	cfg.FX.Provider = "exchangerate_host"
	cfg.FX.BaseURL = "http://127.0.0.1:0"
	cfg.FX.Timeout = time.Second
	cfg.Admin.Email = "admin@loandesk.local"
	cfg.Admin.Password = "Admin12345"
	cfg.IdempotencyTTL = time.Hour
	return cfg
}

func TestNewAppServesHealthAndSeededAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a, err := newApp(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.scheduler)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())

	// Сид администратора позволяет сразу войти
	body := `{"email":"ADMIN@loandesk.local","password":"Admin12345"}`
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/signIn", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token struct {
			Token string `json:"token"`
		} `json:"token"`
		User struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token.Token)
	assert.Equal(t, "admin", resp.User.Role)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token.Token)
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewConverterSelection(t *testing.T) {
	cfg := testConfig()

	fx := newConverter(cfg, nil, zap.NewNop())
	assert.IsType(t, &services.ExchangeRateHostConverter{}, fx)

	cfg.FX.Provider = "cbr"
	fx = newConverter(cfg, nil, zap.NewNop())
	assert.IsType(t, &services.CentralBankConverter{}, fx)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg.FX.CacheTTL = time.Hour
	fx = newConverter(cfg, rdb, zap.NewNop())
	assert.IsType(t, &services.CachedConverter{}, fx)
	assert.Implements(t, (*services.RatesProvider)(nil), fx)
}

func TestNewNotifierSelection(t *testing.T) {
	cfg := testConfig()
	assert.IsType(t, &services.LogNotifier{}, newNotifier(cfg, zap.NewNop()))

	cfg.SMTP.Enabled = true
	cfg.SMTP.Host = "localhost"
	cfg.SMTP.Port = 25
	assert.IsType(t, &services.EmailService{}, newNotifier(cfg, zap.NewNop()))
}
