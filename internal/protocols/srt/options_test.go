package srt

import (
	"testing"
	"time"

	srt "github.com/datarhei/gosrt"
	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
)

func TestApplyPre(t *testing.T) {
	conf := srt.DefaultConfig()

	err := applyPre(Options{
		"transportLatencyMs": "120",
		"conntimeo":          "1500",
		"streamid":           "publish:cam1",
		"payloadsize":        "1316",
		"maxbw":              "-1",
		"tlpktdrop":          "true",
		"rcvtimeo":           "5000",
	}, &conf, test.NilLogger)
	require.NoError(t, err)

	require.Equal(t, 120*time.Millisecond, conf.Latency)
	require.Equal(t, 120*time.Millisecond, conf.ReceiverLatency)
	require.Equal(t, 120*time.Millisecond, conf.PeerLatency)
	require.Equal(t, 1500*time.Millisecond, conf.ConnectionTimeout)
	require.Equal(t, "publish:cam1", conf.StreamId)
	require.Equal(t, uint32(1316), conf.PayloadSize)
	require.Equal(t, int64(-1), conf.MaxBW)
	require.True(t, conf.TooLatePacketDrop)
}

func TestApplyPreFailures(t *testing.T) {
	conf := srt.DefaultConfig()

	err := applyPre(Options{
		"latency":   "-5",
		"bogus":     "1",
		"nakreport": "maybe",
		"fc":        "25600",
	}, &conf, test.NilLogger)
	require.EqualError(t, err, "failed to apply pre options: bogus, latency, nakreport")

	// valid options are applied anyway
	require.Equal(t, uint32(25600), conf.FC)
}

func TestApplyPost(t *testing.T) {
	var p postParams

	err := applyPost(Options{
		"rcvtimeo":  "2000",
		"sndtimeo":  "x",
		"latency":   "120",
		"streamid":  "read:cam1",
		"unknownop": "1",
	}, &p, test.NilLogger)
	require.EqualError(t, err, "failed to apply post options: sndtimeo")
	require.Equal(t, 2*time.Second, p.readTimeout)
	require.Equal(t, time.Duration(0), p.sendTimeout)
}
