package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter sample in family name whose
// labels include every pair in labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range fam.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("getLatestBlockhash", "success", "mainnet", 0.1)
		m.RecordBackendRequest("/api/v1/swap/quote", 200, 0.2)
		m.RecordTokenRefresh("success")
		m.RecordTokenWaiter("coalesced")
		m.RecordSwapStage("sign", 0.01, nil)
		m.RecordDBQuery("insert", "trades", 0.01, errors.New("boom"))
		m.RecordNATSPublish("finalized", "success", 0.01)
	})
}

func TestRecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTokenWaiter("leader")
	m.RecordTokenWaiter("coalesced")
	m.RecordTokenWaiter("coalesced")
	m.RecordBackendRequest("/api/v1/swap/submit", 503, 1.2)
	m.RecordBackendRequest("/api/v1/swap/submit", 0, 0.4)

	assert.Equal(t, 2.0, counterValue(t, reg, "auth_token_waiters_total", map[string]string{"path": "coalesced"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "auth_token_waiters_total", map[string]string{"path": "leader"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "backend_requests_total", map[string]string{"status": "5xx"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "backend_requests_total", map[string]string{"status": "none"}))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "4xx", statusCodeToString(429))
	assert.Equal(t, "5xx", statusCodeToString(502))
	assert.Equal(t, "none", statusCodeToString(0))
}
