package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commentaryapp/internal/config"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/services"
	contextutils "commentaryapp/internal/utils"
	"commentaryapp/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) RunOnce(ctx context.Context) (*models.ProcessResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessResult), args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Process(ctx context.Context) (*models.ProcessResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessResult), args.Error(1)
}

func (m *mockDispatcher) Stats(ctx context.Context) (*models.QueueStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueueStats), args.Error(1)
}

func (m *mockDispatcher) LimiterStats() []services.RateLimiterStats {
	return []services.RateLimiterStats{{Name: "A", MaxConcurrent: 2}}
}

func (m *mockDispatcher) BackgroundCounts() (running, succeeded, failed int64) {
	return 0, 3, 1
}

func (m *mockDispatcher) Wait(context.Context) error { return nil }

type mockRequeuer struct{ mock.Mock }

func (m *mockRequeuer) Requeue(ctx context.Context, ids []int64, statuses []models.CommentaryStatus) (int64, error) {
	args := m.Called(ctx, ids, statuses)
	return args.Get(0).(int64), args.Error(1)
}

type mockSettings struct{ mock.Mock }

func (m *mockSettings) Load(ctx context.Context) (*models.ProcessingSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// hand out a copy so an update does not mutate the fixture
	s := *args.Get(0).(*models.ProcessingSettings)
	flags := models.ProviderFlags{}
	for k, v := range s.ProvidersEnabled {
		flags[k] = v
	}
	s.ProvidersEnabled = flags
	return &s, args.Error(1)
}

func (m *mockSettings) Update(ctx context.Context, settings *models.ProcessingSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

type routerFixture struct {
	router     *gin.Engine
	runner     *mockRunner
	dispatcher *mockDispatcher
	requeuer   *mockRequeuer
	settings   *mockSettings
	worker     *worker.Worker
}

func testRouterConfig() *config.Config {
	return &config.Config{
		Commentary: config.CommentaryConfig{
			Slots: []config.SlotConfig{
				{Name: "A", Fallback: config.FallbackNone, Chain: []config.ChainEntry{{Provider: "openai", Model: "gpt-4o-mini"}}},
				{Name: "B", Fallback: config.FallbackAnyError, Chain: []config.ChainEntry{{Provider: "anthropic", Model: "claude-haiku"}}},
			},
			Synthesis:    config.SlotConfig{Name: "synthesis", Chain: []config.ChainEntry{{Provider: "openai", Model: "gpt-4o"}}},
			PollInterval: time.Hour,
		},
	}
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	return newRouterFixtureWithConfig(t, testRouterConfig())
}

func newRouterFixtureWithConfig(t *testing.T, cfg *config.Config) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &routerFixture{
		runner:     &mockRunner{},
		dispatcher: &mockDispatcher{},
		requeuer:   &mockRequeuer{},
		settings:   &mockSettings{},
	}
	logger := observability.NewNopLogger()
	f.worker = worker.NewWorker(f.dispatcher, "test", cfg, logger)
	f.router = NewRouter(cfg, RouterDeps{
		Runner:     f.runner,
		Dispatcher: f.dispatcher,
		Limiters:   f.dispatcher,
		Requeuer:   f.requeuer,
		Settings:   f.settings,
		Worker:     f.worker,
	}, logger)
	return f
}

func (f *routerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndVersion(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/v1/version", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ServiceName, decode(t, w)["service"])
}

func TestRouter_CircuitBreakerFromConfig(t *testing.T) {
	cfg := testRouterConfig()
	cfg.Server.CircuitBreaker = config.CircuitBreakerConfig{Enabled: true, Threshold: 2, Timeout: time.Hour}
	f := newRouterFixtureWithConfig(t, cfg)
	f.dispatcher.On("Stats", mock.Anything).Return(nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "connection reset"))

	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/v1/commentary/stats", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/v1/commentary/stats", nil).Code)

	w := f.do(http.MethodGet, "/v1/version", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(contextutils.ErrorCodeServiceUnavailable), decode(t, w)["code"])
	f.dispatcher.AssertNumberOfCalls(t, "Stats", 2)
}

func TestCommentaryHandler_Process(t *testing.T) {
	t.Run("work done", func(t *testing.T) {
		f := newRouterFixture(t)
		f.runner.On("RunOnce", mock.Anything).Return(&models.ProcessResult{
			RunID: "r1", Message: models.MessageProcessingCompleted, Processed: 2, Claimed: 2,
		}, nil)

		w := f.do(http.MethodPost, "/v1/commentary/process", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, models.MessageProcessingCompleted, body["message"])
		assert.Equal(t, float64(2), body["processed"])
	})

	t.Run("disabled is still a 200", func(t *testing.T) {
		f := newRouterFixture(t)
		f.runner.On("RunOnce", mock.Anything).Return(&models.ProcessResult{Message: models.MessageProcessingDisabled}, nil)

		w := f.do(http.MethodPost, "/v1/commentary/process", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.MessageProcessingDisabled, decode(t, w)["message"])
	})

	t.Run("settings failure is a 500 with error", func(t *testing.T) {
		f := newRouterFixture(t)
		f.runner.On("RunOnce", mock.Anything).Return(nil,
			contextutils.WrapError(contextutils.ErrConfiguration, "processing settings unavailable"))

		w := f.do(http.MethodPost, "/v1/commentary/process", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, decode(t, w)["error"], "processing settings unavailable")
	})
}

func TestCommentaryHandler_Stats(t *testing.T) {
	f := newRouterFixture(t)
	f.dispatcher.On("Stats", mock.Anything).Return(&models.QueueStats{
		Statuses:       models.StatusCounts{"pending": 4, "completed": 10},
		WithCommentary: 10,
	}, nil).Once()

	w := f.do(http.MethodGet, "/v1/commentary/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(10), body["with_commentary"])

	f.dispatcher.On("Stats", mock.Anything).Return(nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "stats failed")).Once()
	w = f.do(http.MethodGet, "/v1/commentary/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(contextutils.ErrorCodeDatabaseQuery), decode(t, w)["code"])
}

func TestCommentaryHandler_Requeue(t *testing.T) {
	f := newRouterFixture(t)
	f.requeuer.On("Requeue", mock.Anything, []int64{1, 2}, []models.CommentaryStatus(nil)).Return(int64(2), nil)

	w := f.do(http.MethodPost, "/v1/commentary/requeue", RequeueRequest{IDs: []int64{1, 2}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["requeued"])

	w = f.do(http.MethodPost, "/v1/commentary/requeue", RequeueRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/v1/commentary/requeue", RequeueRequest{Statuses: []models.CommentaryStatus{"archived"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.requeuer.AssertNumberOfCalls(t, "Requeue", 1)
}

func TestSettingsHandler(t *testing.T) {
	stored := &models.ProcessingSettings{
		FeatureEnabled:         true,
		BatchSize:              10,
		ProcessingDelayMinutes: 60,
		ProvidersEnabled:       models.ProviderFlags{"A": true, "B": false},
	}

	t.Run("get", func(t *testing.T) {
		f := newRouterFixture(t)
		f.settings.On("Load", mock.Anything).Return(stored, nil)

		w := f.do(http.MethodGet, "/v1/commentary/settings", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(10), decode(t, w)["batch_size"])
	})

	t.Run("partial update merges slot flags", func(t *testing.T) {
		f := newRouterFixture(t)
		f.settings.On("Load", mock.Anything).Return(stored, nil)
		f.settings.On("Update", mock.Anything, mock.MatchedBy(func(s *models.ProcessingSettings) bool {
			return s.BatchSize == 25 && s.FeatureEnabled && s.SlotEnabled("A") && s.SlotEnabled("B")
		})).Return(nil)

		batch := 25
		w := f.do(http.MethodPut, "/v1/commentary/settings", SettingsUpdateRequest{
			BatchSize:        &batch,
			ProvidersEnabled: map[string]bool{"B": true},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		f.settings.AssertExpectations(t)
	})

	t.Run("unknown slot rejected", func(t *testing.T) {
		f := newRouterFixture(t)
		f.settings.On("Load", mock.Anything).Return(stored, nil)

		w := f.do(http.MethodPut, "/v1/commentary/settings", SettingsUpdateRequest{ProvidersEnabled: map[string]bool{"Z": true}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		f.settings.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("empty update rejected", func(t *testing.T) {
		f := newRouterFixture(t)
		w := f.do(http.MethodPut, "/v1/commentary/settings", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		f := newRouterFixture(t)
		f.settings.On("Load", mock.Anything).Return(stored, nil)
		f.settings.On("Update", mock.Anything, mock.Anything).Return(contextutils.WrapError(contextutils.ErrValidationFailed, "batch_size"))

		batch := 0
		w := f.do(http.MethodPut, "/v1/commentary/settings", SettingsUpdateRequest{BatchSize: &batch})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("slots", func(t *testing.T) {
		f := newRouterFixture(t)
		f.settings.On("Load", mock.Anything).Return(stored, nil)

		w := f.do(http.MethodGet, "/v1/commentary/slots", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		slots := decode(t, w)["slots"].([]interface{})
		require.Len(t, slots, 2)
		assert.Equal(t, true, slots[0].(map[string]interface{})["enabled"])
		assert.Equal(t, false, slots[1].(map[string]interface{})["enabled"])
	})
}

func TestWorkerAdminHandler(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/v1/admin/worker/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "test", body["instance"])
	assert.Len(t, body["limiters"], 1)
	assert.Equal(t, float64(3), body["status_corrections"].(map[string]interface{})["succeeded"])

	w = f.do(http.MethodPost, "/v1/admin/worker/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.worker.GetStatus().IsPaused)

	w = f.do(http.MethodPost, "/v1/admin/worker/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.worker.GetStatus().IsPaused)

	w = f.do(http.MethodPost, "/v1/admin/worker/trigger", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/v1/admin/worker/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["logs"], 2)

	w = f.do(http.MethodGet, "/v1/admin/worker/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["history"])
}

func TestWorkerAdminHandler_NoWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewWorkerAdminHandler(nil, nil, observability.NewNopLogger())
	router := gin.New()
	router.POST("/trigger", h.TriggerWorkerRun)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
