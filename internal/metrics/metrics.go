// Package metrics contains a Prometheus collector of runtime counters.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/recorder"
	"github.com/haishinkit/haishin/internal/relay"
	"github.com/haishinkit/haishin/internal/segmenter"
)

const namespace = "haishin"

// SocketSource provides SRT statistics.
type SocketSource interface {
	Stats() (srt.Stats, error)
}

// MuxerSource provides segmenter counters.
type MuxerSource interface {
	Stats() segmenter.Stats
}

// RecorderSource provides recorder counters.
type RecorderSource interface {
	Stats() recorder.Stats
	State() recorder.State
}

// RelaySource provides relay counters.
type RelaySource interface {
	Stats() relay.Stats
}

func newDesc(subsystem string, name string, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

var (
	socketBytesSent       = newDesc("srt", "bytes_sent_total", "Bytes sent by the socket.", "socket")
	socketBytesReceived   = newDesc("srt", "bytes_received_total", "Bytes received by the socket.", "socket")
	socketPacketsSent     = newDesc("srt", "packets_sent_total", "Packets sent by the socket.", "socket")
	socketPacketsReceived = newDesc("srt", "packets_received_total", "Packets received by the socket.", "socket")
	socketPacketsSendLoss = newDesc("srt", "packets_send_loss_total", "Packets reported lost by the peer.", "socket")
	socketPacketsRecvLoss = newDesc("srt", "packets_received_loss_total", "Packets detected lost.", "socket")
	socketPacketsRetrans  = newDesc("srt", "packets_retransmitted_total", "Packets retransmitted.", "socket")
	socketPacketsDropped  = newDesc("srt", "packets_dropped_total", "Packets dropped as too late.", "socket", "direction")
	socketMessagesDropped = newDesc("srt", "messages_dropped_total",
		"Received messages dropped because the read queue was full.", "socket")
	socketRTT          = newDesc("srt", "rtt_milliseconds", "Round trip time.", "socket")
	socketSendRate     = newDesc("srt", "send_rate_mbps", "Send rate.", "socket")
	socketRecvRate     = newDesc("srt", "receive_rate_mbps", "Receive rate.", "socket")
	socketLinkCapacity = newDesc("srt", "link_capacity_mbps", "Estimated link capacity.", "socket")

	muxerSegmentsCreated = newDesc("segmenter", "segments_created_total", "Segments created.")
	muxerSegmentsEvicted = newDesc("segmenter", "segments_evicted_total", "Segments removed from the window.")
	muxerSamplesWritten  = newDesc("segmenter", "samples_written_total", "Samples written into segments.")
	muxerSamplesDropped  = newDesc("segmenter", "samples_dropped_total", "Samples discarded.")
	muxerBytesWritten    = newDesc("segmenter", "bytes_written_total", "Bytes written into segments.")

	recorderSamplesWritten = newDesc("recorder", "samples_written_total", "Samples written into recordings.")
	recorderSamplesDropped = newDesc("recorder", "samples_dropped_total", "Samples discarded by the recorder.")
	recorderRecordings     = newDesc("recorder", "recordings_total", "Recordings started.")
	recorderWriting        = newDesc("recorder", "writing", "Whether a recording is in progress.")

	relayBytesForwarded = newDesc("relay", "bytes_forwarded_total", "Bytes accepted by the send interceptor.")
	relayBytesVetoed    = newDesc("relay", "bytes_vetoed_total", "Bytes rejected while paused.")
	relayConnected      = newDesc("relay", "connected", "Whether the relay is connected.")
	relayPaused         = newDesc("relay", "paused", "Whether the relay is paused.")
)

// Metrics collects counters from the registered sources on every scrape.
type Metrics struct {
	Parent logger.Writer

	registry *prometheus.Registry

	mutex    sync.Mutex
	sockets  map[string]SocketSource
	muxer    MuxerSource
	recorder RecorderSource
	relay    RelaySource
}

// Initialize initializes Metrics.
func (m *Metrics) Initialize() error {
	m.sockets = make(map[string]SocketSource)

	m.registry = prometheus.NewRegistry()
	return m.registry.Register(m)
}

// Log implements logger.Writer.
func (m *Metrics) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[metrics] "+format, args...)
}

// Gatherer returns the registry that holds the collector.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns a HTTP handler that exposes the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: &errorLog{m},
	})
}

// AddSocket adds a socket, labeled with name.
func (m *Metrics) AddSocket(name string, s SocketSource) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sockets[name] = s
}

// RemoveSocket removes a socket.
func (m *Metrics) RemoveSocket(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sockets, name)
}

// SetMuxer sets the segmenter. A nil value removes it.
func (m *Metrics) SetMuxer(s MuxerSource) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.muxer = s
}

// SetRecorder sets the recorder. A nil value removes it.
func (m *Metrics) SetRecorder(s RecorderSource) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.recorder = s
}

// SetRelay sets the relay. A nil value removes it.
func (m *Metrics) SetRelay(s RelaySource) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.relay = s
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		socketBytesSent, socketBytesReceived, socketPacketsSent, socketPacketsReceived,
		socketPacketsSendLoss, socketPacketsRecvLoss, socketPacketsRetrans, socketPacketsDropped,
		socketMessagesDropped, socketRTT, socketSendRate, socketRecvRate, socketLinkCapacity,
		muxerSegmentsCreated, muxerSegmentsEvicted, muxerSamplesWritten, muxerSamplesDropped,
		muxerBytesWritten,
		recorderSamplesWritten, recorderSamplesDropped, recorderRecordings, recorderWriting,
		relayBytesForwarded, relayBytesVetoed, relayConnected, relayPaused,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mutex.Lock()
	names := make([]string, 0, len(m.sockets))
	for name := range m.sockets {
		names = append(names, name)
	}
	sockets := make([]SocketSource, len(names))
	sort.Strings(names)
	for i, name := range names {
		sockets[i] = m.sockets[name]
	}
	muxer := m.muxer
	rec := m.recorder
	rel := m.relay
	m.mutex.Unlock()

	for i, s := range sockets {
		collectSocket(ch, names[i], s)
	}

	if muxer != nil {
		st := muxer.Stats()
		counter(ch, muxerSegmentsCreated, st.SegmentsCreated)
		counter(ch, muxerSegmentsEvicted, st.SegmentsEvicted)
		counter(ch, muxerSamplesWritten, st.SamplesWritten)
		counter(ch, muxerSamplesDropped, st.SamplesDropped)
		counter(ch, muxerBytesWritten, st.BytesWritten)
	}

	if rec != nil {
		st := rec.Stats()
		counter(ch, recorderSamplesWritten, st.SamplesWritten)
		counter(ch, recorderSamplesDropped, st.SamplesDropped)
		counter(ch, recorderRecordings, st.Recordings)
		gauge(ch, recorderWriting, boolToFloat(rec.State() == recorder.StateWriting))
	}

	if rel != nil {
		st := rel.Stats()
		counter(ch, relayBytesForwarded, st.BytesForwarded)
		counter(ch, relayBytesVetoed, st.BytesVetoed)
		gauge(ch, relayConnected, boolToFloat(st.Connected))
		gauge(ch, relayPaused, boolToFloat(st.Paused))
	}
}

// sockets without a connection are skipped.
func collectSocket(ch chan<- prometheus.Metric, name string, s SocketSource) {
	st, err := s.Stats()
	if err != nil {
		return
	}

	counter(ch, socketBytesSent, st.BytesSent, name)
	counter(ch, socketBytesReceived, st.BytesReceived, name)
	counter(ch, socketPacketsSent, st.PacketsSent, name)
	counter(ch, socketPacketsReceived, st.PacketsReceived, name)
	counter(ch, socketPacketsSendLoss, st.PacketsSendLoss, name)
	counter(ch, socketPacketsRecvLoss, st.PacketsRecvLoss, name)
	counter(ch, socketPacketsRetrans, st.PacketsRetrans, name)
	counter(ch, socketPacketsDropped, st.PacketsSendDrop, name, "send")
	counter(ch, socketPacketsDropped, st.PacketsRecvDrop, name, "receive")
	counter(ch, socketMessagesDropped, st.MessagesDropped, name)
	gauge(ch, socketRTT, st.RTT, name)
	gauge(ch, socketSendRate, st.MbpsSendRate, name)
	gauge(ch, socketRecvRate, st.MbpsRecvRate, name)
	gauge(ch, socketLinkCapacity, st.MbpsLinkCapacity, name)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

type errorLog struct {
	m *Metrics
}

// Println implements promhttp.Logger.
func (l *errorLog) Println(v ...interface{}) {
	l.m.Log(logger.Warn, "%s", fmt.Sprint(v...))
}
