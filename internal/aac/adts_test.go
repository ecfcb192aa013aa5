package aac

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
)

func TestEncodeADTS(t *testing.T) {
	byts, err := EncodeADTS([]*ADTSPacket{{
		SampleRate:   test.ConfigMPEG4Audio.SampleRate,
		ChannelCount: test.ConfigMPEG4Audio.ChannelCount,
		AU:           test.AUMPEG4Audio,
	}})
	require.NoError(t, err)
	require.Equal(t, append([]byte{0xff, 0xf1, 0x50, 0x80, 0x01, 0xbf, 0xfc}, test.AUMPEG4Audio...), byts)
	require.True(t, IsADTS(byts))
}

func TestADTSRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name string
		pkts []*ADTSPacket
	}{
		{
			"broadcast stereo",
			[]*ADTSPacket{{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
				AU:           []byte{0xaa, 0xbb},
			}},
		},
		{
			"surround",
			[]*ADTSPacket{{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 8,
				AU:           []byte{0x01, 0x02, 0x03},
			}},
		},
		{
			"sequence",
			[]*ADTSPacket{
				{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   22050,
					ChannelCount: 1,
					AU:           []byte{0xaa},
				},
				{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   22050,
					ChannelCount: 1,
					AU:           []byte{0xbb, 0xcc},
				},
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			byts, err := EncodeADTS(ca.pkts)
			require.NoError(t, err)

			pkts, err := DecodeADTS(byts)
			require.NoError(t, err)
			require.Equal(t, ca.pkts, pkts)
		})
	}
}

func TestEncodeADTSErrors(t *testing.T) {
	_, err := EncodeADTS([]*ADTSPacket{{SampleRate: 44000, ChannelCount: 2}})
	require.EqualError(t, err, "invalid sample rate: 44000")

	_, err = EncodeADTS([]*ADTSPacket{{SampleRate: 44100, ChannelCount: 7}})
	require.EqualError(t, err, "invalid channel count: 7")

	_, err = EncodeADTS([]*ADTSPacket{{SampleRate: 44100, ChannelCount: 2, AU: make([]byte, 0x2000)}})
	require.EqualError(t, err, "access unit is too big")
}

func TestDecodeADTSErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
		err  string
	}{
		{
			"raw access unit",
			test.AUMPEG4Audio,
			"invalid syncword",
		},
		{
			"crc",
			[]byte{0xff, 0xf0, 0x50, 0x80, 0x01, 0xbf, 0xfc},
			"CRC is not supported",
		},
		{
			"truncated",
			[]byte{0xff, 0xf1, 0x50, 0x80, 0x01, 0xbf, 0xfc, 0x21},
			"invalid frame length",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := DecodeADTS(ca.byts)
			require.EqualError(t, err, ca.err)
		})
	}
}
