package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SDSOverruns.Inc()
	m.SequencerTimeouts.WithLabelValues("directive").Inc()
	m.MalformedMessages.WithLabelValues("speaker").Inc()
	m.Reconnects.Inc()
	m.RegulatorBatchSize.WithLabelValues("event").Observe(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 5)

	var found bool
	for _, f := range families {
		if f.GetName() == "aiaclient_sds_overruns_total" {
			found = true
			require.Equal(t, float64(1), f.Metric[0].Counter.GetValue())
		}
	}
	require.True(t, found)
}
