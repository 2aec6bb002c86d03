// ABOUTME: Prometheus collectors for audio stream and publisher counters
// ABOUTME: Counters are read from snapshots at scrape time, never pushed from the audio path
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resonate-audio/trackbridge/pkg/publisher"
	"github.com/resonate-audio/trackbridge/pkg/stream"
)

const namespace = "trackbridge"

type metricDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
}

func newDesc(subsystem, name, help string, valueType prometheus.ValueType) metricDesc {
	return metricDesc{
		desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
		valueType: valueType,
	}
}

// StreamCollector exports the counters of one audio stream
type StreamCollector struct {
	stats func() stream.Stats

	framesReceived   metricDesc
	framesMalformed  metricDesc
	bytesWritten     metricDesc
	bytesDropped     metricDesc
	overflows        metricDesc
	renderCalls      metricDesc
	underruns        metricDesc
	reconfigurations metricDesc
	formatMismatches metricDesc
	buffered         metricDesc
	capacity         metricDesc
	sampleRate       metricDesc
	channels         metricDesc
}

// NewStreamCollector creates a collector reading from stats on every scrape
func NewStreamCollector(stats func() stream.Stats) *StreamCollector {
	const sub = "stream"
	return &StreamCollector{
		stats:            stats,
		framesReceived:   newDesc(sub, "frames_received_total", "Frames written to the playback buffer.", prometheus.CounterValue),
		framesMalformed:  newDesc(sub, "frames_malformed_total", "Frames discarded for an invalid descriptor.", prometheus.CounterValue),
		bytesWritten:     newDesc(sub, "bytes_written_total", "PCM bytes written to the playback buffer.", prometheus.CounterValue),
		bytesDropped:     newDesc(sub, "bytes_dropped_total", "PCM bytes dropped because the buffer was full.", prometheus.CounterValue),
		overflows:        newDesc(sub, "overflows_total", "Frames partially or fully dropped on a full buffer.", prometheus.CounterValue),
		renderCalls:      newDesc(sub, "render_calls_total", "Render callbacks served.", prometheus.CounterValue),
		underruns:        newDesc(sub, "underruns_total", "Render callbacks padded with silence.", prometheus.CounterValue),
		reconfigurations: newDesc(sub, "reconfigurations_total", "Playback buffer allocations.", prometheus.CounterValue),
		formatMismatches: newDesc(sub, "format_mismatches_total", "Render callbacks silenced by a device and producer format mismatch.", prometheus.CounterValue),
		buffered:         newDesc(sub, "buffered_bytes", "Bytes waiting in the playback buffer.", prometheus.GaugeValue),
		capacity:         newDesc(sub, "capacity_bytes", "Playback buffer capacity in bytes.", prometheus.GaugeValue),
		sampleRate:       newDesc(sub, "sample_rate_hz", "Sample rate of the buffered audio.", prometheus.GaugeValue),
		channels:         newDesc(sub, "channels", "Channel count of the buffered audio.", prometheus.GaugeValue),
	}
}

func (c *StreamCollector) all() []metricDesc {
	return []metricDesc{
		c.framesReceived, c.framesMalformed, c.bytesWritten, c.bytesDropped,
		c.overflows, c.renderCalls, c.underruns, c.reconfigurations,
		c.formatMismatches, c.buffered, c.capacity, c.sampleRate, c.channels,
	}
}

// Describe implements prometheus.Collector
func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.all() {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector
func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	values := []float64{
		float64(st.FramesReceived), float64(st.FramesMalformed), float64(st.BytesWritten), float64(st.BytesDropped),
		float64(st.Overflows), float64(st.RenderCalls), float64(st.Underruns), float64(st.Reconfigurations),
		float64(st.FormatMismatches), float64(st.Buffered), float64(st.Capacity), float64(st.Format.SampleRate), float64(st.Format.Channels),
	}
	for i, d := range c.all() {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, values[i])
	}
}

// ServerCollector exports publisher activity
type ServerCollector struct {
	stats func() publisher.ServerStats

	clients      metricDesc
	streams      metricDesc
	tracks       metricDesc
	endedTracks  metricDesc
	framesSent   metricDesc
	framesFailed metricDesc
}

// NewServerCollector creates a collector reading from stats on every scrape
func NewServerCollector(stats func() publisher.ServerStats) *ServerCollector {
	const sub = "publisher"
	return &ServerCollector{
		stats:        stats,
		clients:      newDesc(sub, "clients", "Connected subscribers.", prometheus.GaugeValue),
		streams:      newDesc(sub, "streams", "Open track streams.", prometheus.GaugeValue),
		tracks:       newDesc(sub, "tracks", "Published tracks.", prometheus.GaugeValue),
		endedTracks:  newDesc(sub, "ended_tracks", "Tracks whose source reached its end.", prometheus.GaugeValue),
		framesSent:   newDesc(sub, "frames_sent_total", "Audio frames queued to subscribers.", prometheus.CounterValue),
		framesFailed: newDesc(sub, "frames_failed_total", "Audio frames dropped on a full or closed client queue.", prometheus.CounterValue),
	}
}

// Describe implements prometheus.Collector
func (c *ServerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []metricDesc{c.clients, c.streams, c.tracks, c.endedTracks, c.framesSent, c.framesFailed} {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector
func (c *ServerCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.clients.desc, c.clients.valueType, float64(st.Clients))
	ch <- prometheus.MustNewConstMetric(c.streams.desc, c.streams.valueType, float64(st.Streams))
	ch <- prometheus.MustNewConstMetric(c.tracks.desc, c.tracks.valueType, float64(st.Tracks))
	ch <- prometheus.MustNewConstMetric(c.endedTracks.desc, c.endedTracks.valueType, float64(st.EndedTracks))
	ch <- prometheus.MustNewConstMetric(c.framesSent.desc, c.framesSent.valueType, float64(st.FramesSent))
	ch <- prometheus.MustNewConstMetric(c.framesFailed.desc, c.framesFailed.valueType, float64(st.FramesFailed))
}

// NewRegistry returns a registry holding the given collectors plus the
// Go runtime and process collectors
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs = append(cs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
