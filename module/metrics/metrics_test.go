package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/module/metrics"
)

func TestCollectors_RegisterOnSeparateRegistries(t *testing.T) {
	for i := 0; i < 2; i++ {
		reg := prometheus.NewRegistry()
		require.NotPanics(t, func() {
			metrics.NewNetworkCollector(reg)
			metrics.NewStorageCollector(reg)
			metrics.NewClientCollector(reg)
			metrics.NewWorkerCollector(reg)
		})
	}
}

func TestWorkerCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	wc := metrics.NewWorkerCollector(reg)

	wc.NeedReceived("join")
	wc.NeedReceived("join")
	wc.BidSkipped("budget")
	wc.ExecutionStarted("join")
	wc.ExecutionFinished("join", true, time.Second)
	wc.UpdatesSent(3)

	count, err := testutil.GatherAndCount(reg, "bazaar_server_needs_received_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP bazaar_server_updates_sent_total number of job updates delivered to clients
# TYPE bazaar_server_updates_sent_total counter
bazaar_server_updates_sent_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bazaar_server_updates_sent_total"))
}

