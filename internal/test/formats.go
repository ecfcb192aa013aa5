package test

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// H264 contains the parameters of a test H264 stream.
type H264 struct {
	SPS []byte
	PPS []byte
	IDR []byte
}

// FormatH264 is a test H264 format.
var FormatH264 = H264{
	SPS: []byte{ // 1920x1080 baseline
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	},
	PPS: []byte{0x08, 0x06, 0x07, 0x08},
	IDR: []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff},
}

// ConfigMPEG4Audio is a test AAC configuration.
var ConfigMPEG4Audio = mpeg4audio.AudioSpecificConfig{
	Type:         mpeg4audio.ObjectTypeAACLC,
	SampleRate:   44100,
	ChannelCount: 2,
}

// AUMPEG4Audio is a test AAC access unit.
var AUMPEG4Audio = []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c}
