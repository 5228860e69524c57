// Package telemetry exports bandwidth meter and playback speed activity as
// Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/playback"
)

var (
	_ bwe.EventListener     = (*MeterCollector)(nil)
	_ playback.SpeedHandler = (*SpeedRecorder)(nil)
)

// MeterCollector records the sample reports of a bwe.BandwidthMeter.
// Register it with BandwidthMeter.AddEventListener.
type MeterCollector struct {
	bitrateEstimate  prometheus.Gauge
	transferredBytes prometheus.Counter
	samples          prometheus.Counter
	sampleInterval   prometheus.Histogram
}

// NewMeterCollector creates the meter metrics under namespace and registers
// them with reg. It fails if a metric of the same name is already
// registered.
func NewMeterCollector(reg prometheus.Registerer, namespace string) (*MeterCollector, error) {
	c := &MeterCollector{
		bitrateEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bitrate_estimate_bps",
			Help:      "Current bandwidth estimate in bits per second",
		}),
		transferredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Total number of bytes reported in bandwidth samples",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bandwidth_samples_total",
			Help:      "Total number of bandwidth samples reported",
		}),
		sampleInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_interval_seconds",
			Help:      "Time between consecutive bandwidth samples in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.bitrateEstimate,
		c.transferredBytes,
		c.samples,
		c.sampleInterval,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// OnBandwidthSample implements bwe.EventListener.
func (c *MeterCollector) OnBandwidthSample(elapsedMs int, bytesTransferred, bitrateEstimate int64) {
	c.bitrateEstimate.Set(float64(bitrateEstimate))
	c.transferredBytes.Add(float64(bytesTransferred))
	c.samples.Inc()
	if elapsedMs > 0 {
		c.sampleInterval.Observe(float64(elapsedMs) / 1000)
	}
}

// SpeedRecorder records the speeds commanded by a playback.RateController
// and passes them on to the player's handler.
type SpeedRecorder struct {
	next         playback.SpeedHandler
	speed        prometheus.Gauge
	speedChanges prometheus.Counter
	last         float32
}

// NewSpeedRecorder creates the playback metrics under namespace, registers
// them with reg and forwards commanded speeds to next, which may be nil.
func NewSpeedRecorder(reg prometheus.Registerer, namespace string, next playback.SpeedHandler) (*SpeedRecorder, error) {
	r := &SpeedRecorder{
		next: next,
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_speed",
			Help:      "Last commanded playback speed multiplier",
		}),
		speedChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speed_changes_total",
			Help:      "Total number of commanded speeds that differ from the previous one",
		}),
		last: 1,
	}
	r.speed.Set(1)

	if err := reg.Register(r.speed); err != nil {
		return nil, err
	}
	if err := reg.Register(r.speedChanges); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPlaybackSpeed implements playback.SpeedHandler. Controllers call it
// from a single goroutine.
func (r *SpeedRecorder) SetPlaybackSpeed(speed float32) {
	if speed != r.last {
		r.speedChanges.Inc()
		r.last = speed
	}
	r.speed.Set(float64(speed))
	if r.next != nil {
		r.next.SetPlaybackSpeed(speed)
	}
}
