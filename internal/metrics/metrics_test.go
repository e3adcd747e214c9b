package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostfleet/internal/types"
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation(types.FamilyWeb, types.OpDeploy, types.OutcomeSuccess, time.Second)
	m.ObserveOperation(types.FamilyWeb, types.OpDeploy, types.OutcomeSuccess, time.Second)
	m.ObserveOperation(types.FamilyWeb, types.OpDeploy, types.OutcomeFailure, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("container-web", "deploy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("container-web", "deploy", "failure")))
}

func TestObserveBatch(t *testing.T) {
	m := New()
	m.ObserveBatch(types.OpRestart, 1)
	m.ObserveBatch(types.OpRestart, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("restart", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("restart", "other")))
}

func TestSetInstances(t *testing.T) {
	m := New()
	m.SetInstances([]types.Instance{
		{InstanceRef: types.InstanceRef{Family: types.FamilyWeb, Identifier: "7043"}, State: types.InstanceState{Defined: true, Active: true}},
		{InstanceRef: types.InstanceRef{Family: types.FamilyWeb, Identifier: "7044"}, State: types.InstanceState{Defined: true}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.instances.WithLabelValues("container-web", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instances.WithLabelValues("container-web", "inactive")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.instances.WithLabelValues("service-package", "active")))

	m.SetInstances(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.instances.WithLabelValues("container-web", "active")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation(types.FamilyWeb, types.OpStart, types.OutcomeSuccess, 0)
		m.ObserveBatch(types.OpStart, 0)
		m.SetInstances(nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveBatch(types.OpDeploy, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hostfleet_batches_total{exit_code="0",operation="deploy"} 1`)
}
