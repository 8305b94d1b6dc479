package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetBlockedClients(t *testing.T) {
	SetBlockedClients(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(blockedClients))

	SetBlockedClients(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(blockedClients))
}

func TestSetActiveAndVariablesGauges(t *testing.T) {
	SetActiveClients(5)
	SetVariablesTotal(42)
	assert.Equal(t, float64(5), testutil.ToFloat64(activeClients))
	assert.Equal(t, float64(42), testutil.ToFloat64(variablesTotal))
}

func TestRequestObservedIncrementsBothCounters(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal)

	RequestObserved("GET")
	RequestObserved("GET")
	RequestObserved("SET")

	assert.Equal(t, before+3, testutil.ToFloat64(requestsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(requestsByKind.WithLabelValues("GET")))
	assert.Equal(t, float64(1), testutil.ToFloat64(requestsByKind.WithLabelValues("SET")))
}

func TestAdmissionRejectedByReason(t *testing.T) {
	AdmissionRejected("cpu overload")
	AdmissionRejected("cpu overload")
	AdmissionRejected("goroutine limit")

	assert.Equal(t, float64(2), testutil.ToFloat64(admissionRejected.WithLabelValues("cpu overload")))
	assert.Equal(t, float64(1), testutil.ToFloat64(admissionRejected.WithLabelValues("goroutine limit")))
}

func TestCPUAndMemoryGauges(t *testing.T) {
	SetCPUUsagePercent(57.5)
	SetMemoryUsageBytes(1 << 20)

	assert.Equal(t, 57.5, testutil.ToFloat64(cpuUsagePercent))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(memoryUsageBytes))
}
