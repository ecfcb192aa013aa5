package unit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
)

type sampleRecorder struct {
	samples []*Sample
}

func (r *sampleRecorder) Append(s *Sample) {
	r.samples = append(r.samples, s)
}

func TestFanOut(t *testing.T) {
	r1 := &sampleRecorder{}
	r2 := &sampleRecorder{}

	f := &FanOut{}
	f.Add(r1)
	f.Add(r2)
	require.Equal(t, 2, f.Len())

	s := &Sample{Kind: MediaKindVideo, IsSync: true}
	f.Append(s)

	f.Remove(r1)
	f.Append(&Sample{Kind: MediaKindAudio})

	require.Equal(t, []*Sample{s}, r1.samples)
	require.Len(t, r2.samples, 2)
	require.Same(t, s, r2.samples[0])
}

func TestFormatDimensions(t *testing.T) {
	f := &Format{SPS: test.FormatH264.SPS}
	w, h := f.Dimensions()
	require.Equal(t, 1920, w)
	require.Equal(t, 1080, h)

	f.Width = 640
	f.Height = 480
	w, h = f.Dimensions()
	require.Equal(t, 640, w)
	require.Equal(t, 480, h)
}

func TestFormatAudioParams(t *testing.T) {
	f := &Format{AudioConfig: &test.ConfigMPEG4Audio}
	sr, cc := f.AudioParams()
	require.Equal(t, 44100, sr)
	require.Equal(t, 2, cc)

	f.SampleRate = 48000
	sr, cc = f.AudioParams()
	require.Equal(t, 48000, sr)
	require.Equal(t, 2, cc)
}
