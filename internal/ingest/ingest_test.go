package ingest

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
	"github.com/haishinkit/haishin/internal/unit"
)

type sampleCollector struct {
	mutex   sync.Mutex
	samples []*unit.Sample
}

func (c *sampleCollector) Append(s *unit.Sample) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.samples = append(c.samples, s)
}

func TestReader(t *testing.T) {
	var buf bytes.Buffer

	videoTrack := &mpegts.Track{Codec: &mpegts.CodecH264{}}
	audioTrack := &mpegts.Track{Codec: &mpegts.CodecMPEG4Audio{Config: test.ConfigMPEG4Audio}}

	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{videoTrack, audioTrack}}
	err := w.Initialize()
	require.NoError(t, err)

	err = w.WriteH264(videoTrack, 90000, 90000, [][]byte{
		test.FormatH264.SPS,
		test.FormatH264.PPS,
		test.FormatH264.IDR,
	})
	require.NoError(t, err)

	err = w.WriteMPEG4Audio(audioTrack, 90000, [][]byte{
		test.AUMPEG4Audio,
		test.AUMPEG4Audio,
	})
	require.NoError(t, err)

	err = w.WriteH264(videoTrack, 90000+3000, 90000+3000, [][]byte{
		{0x41, 0x9a, 0x02},
	})
	require.NoError(t, err)

	// flush the last PES
	err = w.WriteH264(videoTrack, 90000+6000, 90000+6000, [][]byte{
		{0x41, 0x9a, 0x03},
	})
	require.NoError(t, err)

	c := &sampleCollector{}
	var kinds []unit.MediaKind

	r := &Reader{
		R:      &buf,
		Sink:   c,
		Parent: test.NilLogger,
		OnTracks: func(k []unit.MediaKind) {
			kinds = k
		},
	}
	err = r.Run()
	require.NoError(t, err)

	require.Equal(t, []unit.MediaKind{unit.MediaKindVideo, unit.MediaKindAudio}, kinds)

	var video, audio []*unit.Sample
	for _, s := range c.samples {
		if s.Kind == unit.MediaKindVideo {
			video = append(video, s)
		} else {
			audio = append(audio, s)
		}
	}

	require.GreaterOrEqual(t, len(video), 2)

	require.True(t, video[0].IsSync)
	require.Equal(t, time.Duration(0), video[0].PTS)
	require.Equal(t, test.FormatH264.SPS, video[0].Format.SPS)
	require.Equal(t, test.FormatH264.PPS, video[0].Format.PPS)
	require.Equal(t, 1920, video[0].Format.Width)
	require.Equal(t, 1080, video[0].Format.Height)

	// length-prefixed form
	l := len(test.FormatH264.SPS)
	require.Equal(t, []byte{0, 0, 0, byte(l)}, video[0].Payload[:4])
	require.Equal(t, test.FormatH264.SPS, video[0].Payload[4:4+l])

	require.False(t, video[1].IsSync)
	require.Equal(t, 33333333*time.Nanosecond, video[1].PTS)
	require.Equal(t, []byte{0, 0, 0, 3, 0x41, 0x9a, 0x02}, video[1].Payload)

	// format is shared while parameters do not change
	require.Same(t, video[0].Format, video[1].Format)

	require.Len(t, audio, 2)
	require.Equal(t, test.AUMPEG4Audio, audio[0].Payload)
	require.Equal(t, time.Duration(0), audio[0].PTS)
	require.Equal(t, 1024*time.Second/44100, audio[1].PTS)
	require.Equal(t, 44100, audio[1].Format.SampleRate)
	require.Equal(t, 2, audio[1].Format.ChannelCount)

	st := r.Stats()
	require.Equal(t, uint64(len(video)), st.VideoSamples)
	require.Equal(t, uint64(2), st.AudioSamples)
}

func TestReaderEmpty(t *testing.T) {
	r := &Reader{
		R:      bytes.NewReader(nil),
		Sink:   &sampleCollector{},
		Parent: test.NilLogger,
	}
	err := r.Run()
	require.NoError(t, err)
}

func TestTicksToDuration(t *testing.T) {
	require.Equal(t, 1*time.Second, ticksToDuration(90000, 90000))
	require.Equal(t, 1500*time.Millisecond, ticksToDuration(135000, 90000))
	require.Equal(t, 1024*time.Second/48000, ticksToDuration(1024, 48000))
}
