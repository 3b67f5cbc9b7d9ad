package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshRegistry() {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}

func TestNewCollector(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	require.NotNil(t, c)
	assert.NotNil(t, c.jobsScheduled)
	assert.NotNil(t, c.jobsRunning)
	assert.NotNil(t, c.jobsSkipped)
	assert.NotNil(t, c.jobsTimedOut)
	assert.NotNil(t, c.jobsFinished)
	assert.NotNil(t, c.reportLatency)
	assert.NotNil(t, c.slotsInUse)
	assert.NotNil(t, c.slotsAvailable)
	assert.NotNil(t, c.jobBankSize)
}

func TestRecordCountersDoNotPanic(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotPanics(t, func() {
		c.RecordScheduled(3)
		c.RecordDispatched()
		c.RecordSkipped()
		c.RecordTimedOut()
		c.RecordFinished("OK")
		c.RecordFinished("FAIL")
	})
}

func TestObserveReportLatency(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	for _, v := range []float64{0.001, 0.01, 0.5, 2.0} {
		assert.NotPanics(t, func() { c.ObserveReportLatency(v) })
	}
}

func TestGaugeSetters(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotPanics(t, func() {
		c.SetSlotOccupancy(2, 8)
		c.SetJobBankSize(5)
		c.SetSlotOccupancy(0, 8)
		c.SetJobBankSize(0)
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	done := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			c.RecordDispatched()
			c.RecordFinished("OK")
			c.SetSlotOccupancy(1, 4)
			done <- true
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}

func TestSecondCollectorPanicsOnDuplicateRegistration(t *testing.T) {
	freshRegistry()
	NewCollector()
	assert.Panics(t, func() { NewCollector() })
}
