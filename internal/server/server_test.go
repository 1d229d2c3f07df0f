package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ubuygold/gosparklio/internal/coordinator"
	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/logger"
	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/model"
	"github.com/ubuygold/gosparklio/internal/quota"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req model.GenerationRequest, userID string) (coordinator.Batch, error) {
	args := m.Called(req, userID)
	return args.Get(0).(coordinator.Batch), args.Error(1)
}

type MockVault struct {
	mock.Mock
}

func (m *MockVault) Persist(ctx context.Context, userID, secret string) error {
	return m.Called(userID, secret).Error(0)
}

func (m *MockVault) Remove(ctx context.Context, userID string) error {
	return m.Called(userID).Error(0)
}

func (m *MockVault) HasCredential(ctx context.Context, userID string) bool {
	return m.Called(userID).Bool(0)
}

type MockUsage struct {
	mock.Mock
}

func (m *MockUsage) Stats(ctx context.Context, key string, personal bool) (quota.Usage, error) {
	args := m.Called(key, personal)
	return args.Get(0).(quota.Usage), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(runner *MockRunner, vault *MockVault, usage *MockUsage, limiter *RateLimiter) *gin.Engine {
	h := NewHandler(runner, vault, usage, nil, logger.Discard())
	return NewRouter(h, limiter, nil, logger.Discard(), false)
}

func doRequest(router http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGenerateHandler(t *testing.T) {
	runner := &MockRunner{}
	batch := coordinator.Batch{RequestID: "req-1", Results: []model.GenerationResult{{Variant: 1, Hook: "hi"}}}
	runner.On("Run", mock.MatchedBy(func(req model.GenerationRequest) bool {
		return req.Topic == "cold brew at home" && req.ID == "" && req.VariantCount == 2
	}), "user-1").Return(batch, nil)

	router := newTestRouter(runner, &MockVault{}, &MockUsage{}, nil)
	w := doRequest(router, http.MethodPost, "/api/generate", "user-1", map[string]any{"id": "client-chosen", "topic": "cold brew at home", "variant_count": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	var got coordinator.Batch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "hi", got.Results[0].Hook)
	runner.AssertExpectations(t)
}

func TestGenerateHandler_BadBody(t *testing.T) {
	router := newTestRouter(&MockRunner{}, &MockVault{}, &MockUsage{}, nil)
	req, _ := http.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    string
		onboard bool
	}{
		{"needs credential", failure.ErrNeedsCredential, http.StatusUnauthorized, "needs_credential", true},
		{"invalid credential", failure.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential", true},
		{"quota denied", failure.QuotaDenied("Per-minute limit reached. Wait 10 seconds."), http.StatusTooManyRequests, "quota_denied", false},
		{"quota exceeded", failure.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded", false},
		{"network", failure.ErrNetwork, http.StatusBadGateway, "network", false},
		{"validation", failure.Validationf("topic too short"), http.StatusBadRequest, "validation", false},
		{"generic", errors.New("boom"), http.StatusInternalServerError, "generic", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{}
			runner.On("Run", mock.Anything, "user-1").Return(coordinator.Batch{}, tt.err)
			router := newTestRouter(runner, &MockVault{}, &MockUsage{}, nil)

			w := doRequest(router, http.MethodPost, "/api/generate", "user-1", map[string]any{"topic": "cold brew at home"})
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Equal(t, failure.UserMessage(tt.err), body["error"])
			if tt.onboard {
				assert.Equal(t, "onboard", body["action"])
			} else {
				assert.NotContains(t, body, "action")
			}
		})
	}
}

func TestUserMiddleware_RejectsMalformedID(t *testing.T) {
	router := newTestRouter(&MockRunner{}, &MockVault{}, &MockUsage{}, nil)
	w := doRequest(router, http.MethodPost, "/api/generate", "bad id with spaces", map[string]any{"topic": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutCredentialHandler(t *testing.T) {
	vault := &MockVault{}
	vault.On("Persist", "user-1", "AIzaKEY").Return(nil).Once()
	vault.On("Persist", "user-1", "bogus").Return(failure.Validationf("API key format is invalid")).Once()
	router := newTestRouter(&MockRunner{}, vault, &MockUsage{}, nil)

	w := doRequest(router, http.MethodPut, "/api/credential", "user-1", CredentialRequest{APIKey: "AIzaKEY"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPut, "/api/credential", "user-1", CredentialRequest{APIKey: "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "API key format is invalid", decode(t, w)["error"])
	vault.AssertExpectations(t)
}

func TestCredentialRoutesRequireUser(t *testing.T) {
	vault := &MockVault{}
	router := newTestRouter(&MockRunner{}, vault, &MockUsage{}, nil)

	w := doRequest(router, http.MethodPut, "/api/credential", "", CredentialRequest{APIKey: "AIzaKEY"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doRequest(router, http.MethodDelete, "/api/credential", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	vault.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	vault.AssertNotCalled(t, "Remove", mock.Anything)
}

func TestDeleteCredentialHandler(t *testing.T) {
	vault := &MockVault{}
	vault.On("Remove", "user-1").Return(nil).Once()
	vault.On("Remove", "user-2").Return(errors.New("db down")).Once()
	router := newTestRouter(&MockRunner{}, vault, &MockUsage{}, nil)

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodDelete, "/api/credential", "user-1", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, doRequest(router, http.MethodDelete, "/api/credential", "user-2", nil).Code)
}

func TestUsageHandler(t *testing.T) {
	vault := &MockVault{}
	vault.On("HasCredential", "user-1").Return(true)
	usage := &MockUsage{}
	usage.On("Stats", "user-1", true).Return(quota.Usage{
		PerMinute:  quota.Counter{Used: 1, Limit: 50, Remaining: 49},
		Daily:      quota.Counter{Used: 14, Limit: 1400, Remaining: 1386},
		Percentage: 1,
	}, nil)
	router := newTestRouter(&MockRunner{}, vault, usage, nil)

	w := doRequest(router, http.MethodGet, "/api/usage", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got UsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Personal)
	assert.Equal(t, 14, got.Daily.Used)
	assert.Equal(t, 49, got.PerMinute.Remaining)
}

func TestHealthHandler(t *testing.T) {
	ok := NewRouter(NewHandler(nil, nil, nil, func(context.Context) error { return nil }, logger.Discard()), nil, nil, logger.Discard(), false)
	assert.Equal(t, http.StatusOK, doRequest(ok, http.MethodGet, "/healthz", "", nil).Code)

	down := NewRouter(NewHandler(nil, nil, nil, func(context.Context) error { return errors.New("db down") }, logger.Discard()), nil, nil, logger.Discard(), false)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(down, http.MethodGet, "/healthz", "", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg).RecordRetry()
	router := NewRouter(NewHandler(nil, nil, nil, nil, logger.Discard()), nil, reg, logger.Discard(), false)

	w := doRequest(router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sparklio_provider_retries_total 1")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2, time.Minute)
	defer limiter.Stop()

	runner := &MockRunner{}
	runner.On("Run", mock.Anything, mock.Anything).Return(coordinator.Batch{}, nil)
	router := newTestRouter(runner, &MockVault{}, &MockUsage{}, limiter)

	body := map[string]any{"topic": "cold brew at home"}
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/generate", "user-1", body).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/generate", "user-1", body).Code)
	w := doRequest(router, http.MethodPost, "/api/generate", "user-1", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/generate", "user-2", body).Code)
	assert.Equal(t, 2, limiter.Clients())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	limiter.get("a")
	limiter.cleanup(time.Now().Add(30 * time.Second))
	assert.Equal(t, 1, limiter.Clients())
	limiter.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, limiter.Clients())
	limiter.Stop()
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(logger.Discard()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := doRequest(router, http.MethodGet, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
