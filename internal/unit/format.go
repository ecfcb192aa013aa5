package unit

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// Format contains the parameters of the stream a sample belongs to.
type Format struct {
	// video
	Width  int
	Height int
	SPS    []byte
	PPS    []byte

	// audio
	SampleRate   int
	ChannelCount int
	AudioConfig  *mpeg4audio.AudioSpecificConfig
}

// Dimensions returns the frame size.
// Explicit Width and Height take precedence over the ones contained in the SPS.
func (f *Format) Dimensions() (int, int) {
	if f.Width != 0 && f.Height != 0 {
		return f.Width, f.Height
	}

	if f.SPS != nil {
		var sps h264.SPS
		err := sps.Unmarshal(f.SPS)
		if err == nil {
			return sps.Width(), sps.Height()
		}
	}

	return f.Width, f.Height
}

// AudioParams returns sample rate and channel count.
// Explicit values take precedence over the ones contained in the AudioSpecificConfig.
func (f *Format) AudioParams() (int, int) {
	sampleRate := f.SampleRate
	channelCount := f.ChannelCount

	if f.AudioConfig != nil {
		if sampleRate == 0 {
			sampleRate = f.AudioConfig.SampleRate
		}
		if channelCount == 0 {
			channelCount = f.AudioConfig.ChannelCount
		}
	}

	return sampleRate, channelCount
}
