package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut := Logger.Out
	prevFormatter := Logger.Formatter
	prevLevel := Logger.GetLevel()
	Logger.SetOutput(&buf)
	Logger.SetFormatter(&logrus.JSONFormatter{})
	Logger.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		Logger.SetOutput(prevOut)
		Logger.SetFormatter(prevFormatter)
		Logger.SetLevel(prevLevel)
	})
	return &buf
}

func TestSetLevel(t *testing.T) {
	prev := Logger.GetLevel()
	defer Logger.SetLevel(prev)

	SetLevel("debug")
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	SetLevel("error")
	assert.Equal(t, logrus.ErrorLevel, Logger.GetLevel())
	SetLevel("bogus")
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestWithContext_BatchID(t *testing.T) {
	buf := captureJSON(t)

	batch := NewBatchID()
	ctx := ContextWithBatch(context.Background(), batch)
	assert.Equal(t, batch, BatchID(ctx))

	WithContext(ctx).Info("deploying")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, batch, entry["batch_id"])
	assert.Equal(t, "deploying", entry["msg"])
}

func TestBatchID_Missing(t *testing.T) {
	assert.Empty(t, BatchID(context.Background()))
}

func TestRequestLogger(t *testing.T) {
	buf := captureJSON(t)

	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/healthz", func(c echo.Context) error {
		assert.NotNil(t, GetLogger(c))
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/healthz", entry["path"])
	assert.NotEmpty(t, entry["request_id"])
}
