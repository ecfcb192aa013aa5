package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/recorder"
	"github.com/haishinkit/haishin/internal/relay"
	"github.com/haishinkit/haishin/internal/segmenter"
	"github.com/haishinkit/haishin/internal/test"
)

type dummySocket struct {
	stats srt.Stats
	err   error
}

func (s *dummySocket) Stats() (srt.Stats, error) {
	return s.stats, s.err
}

type dummyMuxer struct{}

func (dummyMuxer) Stats() segmenter.Stats {
	return segmenter.Stats{
		SegmentsCreated: 6,
		SegmentsEvicted: 3,
		SamplesWritten:  120,
		BytesWritten:    4096,
	}
}

type dummyRecorder struct{}

func (dummyRecorder) Stats() recorder.Stats {
	return recorder.Stats{SamplesWritten: 50, SamplesDropped: 1, Recordings: 2}
}

func (dummyRecorder) State() recorder.State {
	return recorder.StateWriting
}

type dummyRelay struct{}

func (dummyRelay) Stats() relay.Stats {
	return relay.Stats{BytesForwarded: 1316, BytesVetoed: 2632, Connected: true, Paused: true}
}

func TestMetrics(t *testing.T) {
	m := &Metrics{Parent: test.NilLogger}
	err := m.Initialize()
	require.NoError(t, err)

	m.AddSocket("publisher", &dummySocket{stats: srt.Stats{
		BytesSent:       10,
		BytesReceived:   2000,
		PacketsReceived: 20,
		PacketsRecvDrop: 1,
		RTT:             1.5,
	}})
	m.AddSocket("listener", &dummySocket{err: srt.ErrNotOpen})
	m.SetMuxer(dummyMuxer{})
	m.SetRecorder(dummyRecorder{})
	m.SetRelay(dummyRelay{})

	err = testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(`
# HELP haishin_srt_bytes_received_total Bytes received by the socket.
# TYPE haishin_srt_bytes_received_total counter
haishin_srt_bytes_received_total{socket="publisher"} 2000
# HELP haishin_srt_packets_dropped_total Packets dropped as too late.
# TYPE haishin_srt_packets_dropped_total counter
haishin_srt_packets_dropped_total{direction="receive",socket="publisher"} 1
haishin_srt_packets_dropped_total{direction="send",socket="publisher"} 0
# HELP haishin_srt_rtt_milliseconds Round trip time.
# TYPE haishin_srt_rtt_milliseconds gauge
haishin_srt_rtt_milliseconds{socket="publisher"} 1.5
# HELP haishin_segmenter_segments_evicted_total Segments removed from the window.
# TYPE haishin_segmenter_segments_evicted_total counter
haishin_segmenter_segments_evicted_total 3
# HELP haishin_recorder_writing Whether a recording is in progress.
# TYPE haishin_recorder_writing gauge
haishin_recorder_writing 1
# HELP haishin_relay_bytes_vetoed_total Bytes rejected while paused.
# TYPE haishin_relay_bytes_vetoed_total counter
haishin_relay_bytes_vetoed_total 2632
# HELP haishin_relay_paused Whether the relay is paused.
# TYPE haishin_relay_paused gauge
haishin_relay_paused 1
`),
		"haishin_srt_bytes_received_total",
		"haishin_srt_packets_dropped_total",
		"haishin_srt_rtt_milliseconds",
		"haishin_segmenter_segments_evicted_total",
		"haishin_recorder_writing",
		"haishin_relay_bytes_vetoed_total",
		"haishin_relay_paused",
	)
	require.NoError(t, err)

	m.RemoveSocket("publisher")
	m.SetRelay(nil)

	n, err := testutil.GatherAndCount(m.Gatherer(), "haishin_srt_bytes_sent_total", "haishin_relay_paused")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMetricsHandler(t *testing.T) {
	m := &Metrics{Parent: test.NilLogger}
	err := m.Initialize()
	require.NoError(t, err)

	m.SetMuxer(dummyMuxer{})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(byts), "haishin_segmenter_segments_created_total 6\n")
}
