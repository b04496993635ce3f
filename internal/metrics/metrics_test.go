package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetAttentionState(t *testing.T) {
	all := []string{"focused", "casual", "deep", "break"}
	SetAttentionState("deep", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(AttentionState.WithLabelValues("deep")))
	assert.Equal(t, 0.0, testutil.ToFloat64(AttentionState.WithLabelValues("focused")))

	SetAttentionState("focused", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(AttentionState.WithLabelValues("deep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AttentionState.WithLabelValues("focused")))
}
