package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})

	err := prometheus.Register(PipelineRequestsTotal)
	var already prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &already)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(NutritionLookupsTotal.WithLabelValues("cache_hit"))
	NutritionLookupsTotal.WithLabelValues("cache_hit").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NutritionLookupsTotal.WithLabelValues("cache_hit")))
}
