package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorRecoveryMiddleware_PanicRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorRecoveryMiddleware(nil, nil))
	router.GET("/panic", func(_ *gin.Context) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	assert.Equal(t, "Internal server error", body["error"])
}

func TestErrorRecoveryMiddleware_NormalRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorRecoveryMiddleware(nil, nil))
	router.GET("/normal", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/normal", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorRecoveryMiddleware_CircuitBreakerOpens(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorRecoveryMiddleware(nil, &ErrorRecoveryConfig{
		EnableCircuitBreaker:    true,
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Hour,
	}))
	router.POST("/process", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/process", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{500, 500, 503}, codes)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := newCircuitBreaker(&ErrorRecoveryConfig{
		CircuitBreakerThreshold: 1,
		CircuitBreakerTimeout:   10 * time.Millisecond,
	})

	assert.True(t, cb.canExecute())
	cb.recordFailure()
	assert.False(t, cb.canExecute())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.canExecute())
	assert.Equal(t, circuitHalfOpen, cb.state)

	cb.recordSuccess()
	assert.Equal(t, circuitClosed, cb.state)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	logger := &observability.Logger{Logger: zap.New(core)}

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/v1/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/v1/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/missing", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "HTTP request", entries[0].Message)
	assert.Equal(t, "/v1/health", entries[0].ContextMap()["path"])
	assert.Equal(t, "HTTP request rejected", entries[1].Message)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusForError(contextutils.ErrValidationFailed))
	assert.Equal(t, http.StatusTooManyRequests, StatusForError(contextutils.ErrQuotaExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, StatusForError(contextutils.WrapError(contextutils.ErrTimeout, "synthesis limiter")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusForError(contextutils.ErrDatabaseConnection))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(contextutils.ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(assert.AnError))
}
