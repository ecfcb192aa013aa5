// Package aac contains ADTS framing utilities.
package aac

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

const (
	headerSize = 7

	// buffer fullness of variable bitrate streams
	fullnessVBR = 0x7ff
)

var sampleRates = []int{
	96000,
	88200,
	64000,
	48000,
	44100,
	32000,
	24000,
	22050,
	16000,
	12000,
	11025,
	8000,
	7350,
}

// ADTSPacket is an ADTS packet.
type ADTSPacket struct {
	Type         mpeg4audio.ObjectType
	SampleRate   int
	ChannelCount int
	AU           []byte
}

// IsADTS checks whether a buffer starts with an ADTS header.
func IsADTS(byts []byte) bool {
	return len(byts) >= headerSize && byts[0] == 0xff && (byts[1]&0xf0) == 0xf0
}

func sampleRateIndex(rate int) (uint8, bool) {
	for i, cur := range sampleRates {
		if cur == rate {
			return uint8(i), true
		}
	}
	return 0, false
}

func channelConfig(count int) (uint8, bool) {
	switch {
	case count >= 1 && count <= 6:
		return uint8(count), true
	case count == 8:
		return 7, true
	}
	return 0, false
}

// DecodeADTS decodes an ADTS stream into ADTS packets.
func DecodeADTS(byts []byte) ([]*ADTSPacket, error) {
	// refs: https://wiki.multimedia.cx/index.php/ADTS

	var ret []*ADTSPacket

	for len(byts) > 0 {
		if !IsADTS(byts) {
			return nil, fmt.Errorf("invalid syncword")
		}

		if (byts[1] & 0x01) != 1 {
			return nil, fmt.Errorf("CRC is not supported")
		}

		pkt := &ADTSPacket{
			Type: mpeg4audio.ObjectType((byts[2] >> 6) + 1),
		}

		srIndex := int((byts[2] >> 2) & 0x0f)
		if srIndex >= len(sampleRates) {
			return nil, fmt.Errorf("invalid sample rate index: %d", srIndex)
		}
		pkt.SampleRate = sampleRates[srIndex]

		chanConfig := ((byts[2] & 0x01) << 2) | ((byts[3] >> 6) & 0x03)
		switch {
		case chanConfig >= 1 && chanConfig <= 6:
			pkt.ChannelCount = int(chanConfig)
		case chanConfig == 7:
			pkt.ChannelCount = 8
		default:
			return nil, fmt.Errorf("invalid channel configuration: %d", chanConfig)
		}

		frameLen := int(((uint16(byts[3])&0x03)<<11)|
			(uint16(byts[4])<<3)|
			((uint16(byts[5])>>5)&0x07)) - headerSize

		if (byts[6] & 0x03) != 0 {
			return nil, fmt.Errorf("multiple frames per packet are not supported")
		}

		if frameLen < 0 || len(byts[headerSize:]) < frameLen {
			return nil, fmt.Errorf("invalid frame length")
		}

		pkt.AU = byts[headerSize : headerSize+frameLen]
		byts = byts[headerSize+frameLen:]

		ret = append(ret, pkt)
	}

	return ret, nil
}

// EncodeADTS encodes ADTS packets into an ADTS stream.
func EncodeADTS(pkts []*ADTSPacket) ([]byte, error) {
	size := 0
	for _, pkt := range pkts {
		size += headerSize + len(pkt.AU)
	}

	ret := make([]byte, 0, size)

	for _, pkt := range pkts {
		srIndex, ok := sampleRateIndex(pkt.SampleRate)
		if !ok {
			return nil, fmt.Errorf("invalid sample rate: %d", pkt.SampleRate)
		}

		chanConfig, ok := channelConfig(pkt.ChannelCount)
		if !ok {
			return nil, fmt.Errorf("invalid channel count: %d", pkt.ChannelCount)
		}

		typ := pkt.Type
		if typ == 0 {
			typ = mpeg4audio.ObjectTypeAACLC
		}

		frameLen := len(pkt.AU) + headerSize
		if frameLen > 0x1fff {
			return nil, fmt.Errorf("access unit is too big")
		}

		ret = append(ret,
			0xff,
			0xf1,
			(uint8(typ-1)<<6)|(srIndex<<2)|((chanConfig>>2)&0x01),
			(chanConfig&0x03)<<6|uint8((frameLen>>11)&0x03),
			uint8((frameLen>>3)&0xff),
			uint8((frameLen&0x07)<<5|((fullnessVBR>>6)&0x1f)),
			uint8((fullnessVBR&0x3f)<<2),
		)
		ret = append(ret, pkt.AU...)
	}

	return ret, nil
}
