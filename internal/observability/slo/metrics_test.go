package slo

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestSLOConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"AvailabilitySLO", AvailabilitySLO, 99.0},
		{"ErrorRateSLO", ErrorRateSLO, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.value, tt.expected)
			}
		})
	}
}

func TestUpdateAvailability(t *testing.T) {
	// Reset metric before test
	SLOAvailability.Set(0)

	testValue := 0.995
	UpdateAvailability(testValue)

	metric := &io_prometheus_client.Metric{}
	if err := SLOAvailability.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	got := metric.GetGauge().GetValue()
	if got != testValue {
		t.Errorf("SLOAvailability = %v, want %v", got, testValue)
	}
}

func TestUpdateErrorRate(t *testing.T) {
	// Reset metric before test
	SLOErrorRate.Set(0)

	testValue := 0.005
	UpdateErrorRate(testValue)

	metric := &io_prometheus_client.Metric{}
	if err := SLOErrorRate.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	got := metric.GetGauge().GetValue()
	if got != testValue {
		t.Errorf("SLOErrorRate = %v, want %v", got, testValue)
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		SLOAvailability,
		SLOErrorRate,
	}

	for _, metric := range metrics {
		desc := make(chan *prometheus.Desc, 1)
		metric.Describe(desc)
		select {
		case d := <-desc:
			if d == nil {
				t.Error("metric descriptor is nil")
			}
		default:
			t.Error("no descriptor received")
		}
	}
}

func TestSLOMetricsCanBeObserved(t *testing.T) {
	// Set test values
	UpdateAvailability(0.999)
	UpdateErrorRate(0.001)

	// Verify all metrics can be collected
	metrics := []prometheus.Collector{
		SLOAvailability,
		SLOErrorRate,
	}

	for _, metric := range metrics {
		ch := make(chan prometheus.Metric, 1)
		metric.Collect(ch)
		select {
		case m := <-ch:
			if m == nil {
				t.Error("collected metric is nil")
			}
		default:
			t.Error("no metric collected")
		}
	}
}

func TestSLOTargetsAreReasonable(t *testing.T) {
	// Availability should be between 90% and 100%
	if AvailabilitySLO < 90.0 || AvailabilitySLO > 100.0 {
		t.Errorf("AvailabilitySLO = %v, should be between 90 and 100", AvailabilitySLO)
	}

	// Error rate should be a small positive ratio
	if ErrorRateSLO < 0 || ErrorRateSLO > 0.05 {
		t.Errorf("ErrorRateSLO = %v, should be between 0 and 0.05 (5%%)", ErrorRateSLO)
	}
}
