package assetwriter

import (
	"fmt"
	"math"
	"time"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/haishinkit/haishin/internal/unit"
)

const (
	videoTimeScale = 90000

	// Specification: ISO 14496-1, Table 5
	objectTypeIndicationAudioISO14496part3 = 0x40

	// Specification: ISO 14496-1, Table 6
	streamTypeAudioStream = 0x05
)

type sample struct {
	dts      int64
	duration uint32
	size     uint32
	offset   uint64
	isSync   bool
}

// Input is a track of the file.
type Input struct {
	Kind unit.MediaKind

	// video
	Width  int
	Height int
	SPS    []byte
	PPS    []byte

	// audio
	SampleRate   int
	ChannelCount int
	AudioConfig  *mpeg4audio.AudioSpecificConfig

	id       int
	samples  []*sample
	finished bool
}

func (in *Input) timeScale() uint32 {
	if in.Kind == unit.MediaKindVideo {
		return videoTimeScale
	}
	return uint32(in.SampleRate)
}

func (in *Input) defaultDuration() uint32 {
	if in.Kind == unit.MediaKindVideo {
		return videoTimeScale / 30
	}
	return mpeg4audio.SamplesPerAccessUnit
}

func (in *Input) audioConfig() *mpeg4audio.AudioSpecificConfig {
	if in.AudioConfig != nil {
		return in.AudioConfig
	}
	return &mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   in.SampleRate,
		ChannelCount: in.ChannelCount,
	}
}

func (in *Input) validate() error {
	switch in.Kind {
	case unit.MediaKindVideo:
		if in.Width <= 0 || in.Height <= 0 {
			return fmt.Errorf("invalid video size %dx%d", in.Width, in.Height)
		}

	case unit.MediaKindAudio:
		if in.SampleRate <= 0 || in.ChannelCount <= 0 {
			return fmt.Errorf("invalid audio parameters: %d Hz, %d channels", in.SampleRate, in.ChannelCount)
		}
	}

	return nil
}

func (in *Input) addSample(dts time.Duration, size uint32, offset uint64, isSync bool) {
	v := int64(dts) * int64(in.timeScale()) / int64(time.Second)

	if n := len(in.samples); n != 0 {
		prev := in.samples[n-1]
		if v < prev.dts {
			v = prev.dts
		}
		prev.duration = uint32(v - prev.dts)
	}

	in.samples = append(in.samples, &sample{
		dts:    v,
		size:   size,
		offset: offset,
		isSync: isSync,
	})
}

// the last sample has no successor, so it inherits the previous duration.
func (in *Input) finalizeDurations() {
	n := len(in.samples)
	if n == 0 {
		return
	}

	if n >= 2 {
		in.samples[n-1].duration = in.samples[n-2].duration
	} else {
		in.samples[n-1].duration = in.defaultDuration()
	}
}

func (in *Input) timeOffset() int64 {
	return in.samples[0].dts
}

func (in *Input) sampleDuration() uint32 {
	ret := uint32(0)
	for _, sa := range in.samples {
		ret += sa.duration
	}
	return ret
}

func (in *Input) presentationDuration() uint32 {
	return uint32(((int64(in.sampleDuration()) + in.timeOffset()) * globalTimeScale) / int64(in.timeScale()))
}

func (in *Input) marshal(w *mp4Writer) error {
	/*
		|trak|
		|    |tkhd|
		|    |edts|
		|    |    |elst|
		|    |mdia|
		|    |    |mdhd|
		|    |    |hdlr|
		|    |    |minf|
		|    |    |    |vmhd| (video)
		|    |    |    |smhd| (audio)
		|    |    |    |dinf|
		|    |    |    |    |dref|
		|    |    |    |    |    |url|
		|    |    |    |stbl|
		|    |    |    |    |stsd|
		|    |    |    |    |    |avc1| (video)
		|    |    |    |    |    |    |avcC|
		|    |    |    |    |    |mp4a| (audio)
		|    |    |    |    |    |    |esds|
		|    |    |    |    |stts|
		|    |    |    |    |stss|
		|    |    |    |    |stsc|
		|    |    |    |    |stsz|
		|    |    |    |    |stco| (co64 when offsets exceed 32 bits)
	*/

	var sps *h264.SPS

	if in.Kind == unit.MediaKindVideo {
		if len(in.SPS) == 0 || len(in.PPS) == 0 {
			return fmt.Errorf("H264 parameters not provided")
		}

		sps = &h264.SPS{}
		err := sps.Unmarshal(in.SPS)
		if err != nil {
			return fmt.Errorf("unable to parse H264 SPS: %w", err)
		}
	}

	_, err := w.writeBoxStart(&mp4.Trak{}) // <trak>
	if err != nil {
		return err
	}

	if in.Kind == unit.MediaKindVideo {
		_, err = w.writeBox(&mp4.Tkhd{ // <tkhd/>
			FullBox: mp4.FullBox{
				Flags: [3]byte{0, 0, 3},
			},
			TrackID:    uint32(in.id),
			DurationV0: in.presentationDuration(),
			Width:      uint32(in.Width * 65536),
			Height:     uint32(in.Height * 65536),
			Matrix:     [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
		})
	} else {
		_, err = w.writeBox(&mp4.Tkhd{ // <tkhd/>
			FullBox: mp4.FullBox{
				Flags: [3]byte{0, 0, 3},
			},
			TrackID:        uint32(in.id),
			DurationV0:     in.presentationDuration(),
			AlternateGroup: 1,
			Volume:         256,
			Matrix:         [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
		})
	}
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Edts{}) // <edts>
	if err != nil {
		return err
	}

	err = in.marshalELST(w) // <elst/>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </edts>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Mdia{}) // <mdia>
	if err != nil {
		return err
	}

	_, err = w.writeBox(&mp4.Mdhd{ // <mdhd/>
		Timescale:  in.timeScale(),
		DurationV0: uint32(int64(in.sampleDuration()) + in.timeOffset()),
		Language:   [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return err
	}

	if in.Kind == unit.MediaKindVideo {
		_, err = w.writeBox(&mp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'v', 'i', 'd', 'e'},
			Name:        "VideoHandler",
		})
	} else {
		_, err = w.writeBox(&mp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'s', 'o', 'u', 'n'},
			Name:        "SoundHandler",
		})
	}
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Minf{}) // <minf>
	if err != nil {
		return err
	}

	if in.Kind == unit.MediaKindVideo {
		_, err = w.writeBox(&mp4.Vmhd{ // <vmhd/>
			FullBox: mp4.FullBox{
				Flags: [3]byte{0, 0, 1},
			},
		})
	} else {
		_, err = w.writeBox(&mp4.Smhd{}) // <smhd/>
	}
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Dinf{}) // <dinf>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Dref{ // <dref>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	_, err = w.writeBox(&mp4.Url{ // <url/>
		FullBox: mp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </dref>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </dinf>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Stbl{}) // <stbl>
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&mp4.Stsd{ // <stsd>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	if in.Kind == unit.MediaKindVideo {
		err = in.marshalAVC1(w, sps)
	} else {
		err = in.marshalMP4A(w)
	}
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </stsd>
	if err != nil {
		return err
	}

	err = in.marshalSTTS(w) // <stts/>
	if err != nil {
		return err
	}

	err = in.marshalSTSS(w) // <stss/>
	if err != nil {
		return err
	}

	err = in.marshalSTSC(w) // <stsc/>
	if err != nil {
		return err
	}

	err = in.marshalSTSZ(w) // <stsz/>
	if err != nil {
		return err
	}

	err = in.marshalSTCO(w) // <stco/>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </stbl>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </minf>
	if err != nil {
		return err
	}

	err = w.writeBoxEnd() // </mdia>
	if err != nil {
		return err
	}

	return w.writeBoxEnd() // </trak>
}

func (in *Input) marshalAVC1(w *mp4Writer, sps *h264.SPS) error {
	_, err := w.writeBoxStart(&mp4.VisualSampleEntry{ // <avc1>
		SampleEntry: mp4.SampleEntry{
			AnyTypeBox: mp4.AnyTypeBox{
				Type: mp4.BoxTypeAvc1(),
			},
			DataReferenceIndex: 1,
		},
		Width:           uint16(in.Width),
		Height:          uint16(in.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	})
	if err != nil {
		return err
	}

	_, err = w.writeBox(&mp4.AVCDecoderConfiguration{ // <avcC/>
		AnyTypeBox: mp4.AnyTypeBox{
			Type: mp4.BoxTypeAvcC(),
		},
		ConfigurationVersion:       1,
		Profile:                    sps.ProfileIdc,
		ProfileCompatibility:       in.SPS[2],
		Level:                      sps.LevelIdc,
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets: []mp4.AVCParameterSet{
			{
				Length:  uint16(len(in.SPS)),
				NALUnit: in.SPS,
			},
		},
		NumOfPictureParameterSets: 1,
		PictureParameterSets: []mp4.AVCParameterSet{
			{
				Length:  uint16(len(in.PPS)),
				NALUnit: in.PPS,
			},
		},
	})
	if err != nil {
		return err
	}

	return w.writeBoxEnd() // </avc1>
}

func (in *Input) marshalMP4A(w *mp4Writer) error {
	_, err := w.writeBoxStart(&mp4.AudioSampleEntry{ // <mp4a>
		SampleEntry: mp4.SampleEntry{
			AnyTypeBox: mp4.AnyTypeBox{
				Type: mp4.BoxTypeMp4a(),
			},
			DataReferenceIndex: 1,
		},
		ChannelCount: uint16(in.ChannelCount),
		SampleSize:   16,
		SampleRate:   uint32(in.SampleRate * 65536),
	})
	if err != nil {
		return err
	}

	enc, err := in.audioConfig().Marshal()
	if err != nil {
		return err
	}

	_, err = w.writeBox(&mp4.Esds{ // <esds/>
		Descriptors: []mp4.Descriptor{
			{
				Tag:  mp4.ESDescrTag,
				Size: 32 + uint32(len(enc)),
				ESDescriptor: &mp4.ESDescriptor{
					ESID: uint16(in.id),
				},
			},
			{
				Tag:  mp4.DecoderConfigDescrTag,
				Size: 18 + uint32(len(enc)),
				DecoderConfigDescriptor: &mp4.DecoderConfigDescriptor{
					ObjectTypeIndication: objectTypeIndicationAudioISO14496part3,
					StreamType:           streamTypeAudioStream,
					Reserved:             true,
					MaxBitrate:           128825,
					AvgBitrate:           128825,
				},
			},
			{
				Tag:  mp4.DecSpecificInfoTag,
				Size: uint32(len(enc)),
				Data: enc,
			},
			{
				Tag:  mp4.SLConfigDescrTag,
				Size: 1,
				Data: []byte{0x02},
			},
		},
	})
	if err != nil {
		return err
	}

	return w.writeBoxEnd() // </mp4a>
}

func (in *Input) marshalELST(w *mp4Writer) error {
	sampleDuration := uint64(in.sampleDuration())
	timeScale := uint64(in.timeScale())

	if off := in.timeOffset(); off > 0 {
		_, err := w.writeBox(&mp4.Elst{
			EntryCount: 2,
			Entries: []mp4.ElstEntry{
				{ // pause
					SegmentDurationV0: uint32((uint64(off) * globalTimeScale) / timeScale),
					MediaTimeV0:       -1,
					MediaRateInteger:  1,
					MediaRateFraction: 0,
				},
				{ // presentation
					SegmentDurationV0: uint32((sampleDuration * globalTimeScale) / timeScale),
					MediaTimeV0:       0,
					MediaRateInteger:  1,
					MediaRateFraction: 0,
				},
			},
		})
		return err
	}

	_, err := w.writeBox(&mp4.Elst{
		EntryCount: 1,
		Entries: []mp4.ElstEntry{{
			SegmentDurationV0: uint32((sampleDuration * globalTimeScale) / timeScale),
			MediaTimeV0:       0,
			MediaRateInteger:  1,
			MediaRateFraction: 0,
		}},
	})
	return err
}

func (in *Input) marshalSTTS(w *mp4Writer) error {
	entries := []mp4.SttsEntry{{
		SampleCount: 1,
		SampleDelta: in.samples[0].duration,
	}}

	for _, sa := range in.samples[1:] {
		if sa.duration == entries[len(entries)-1].SampleDelta {
			entries[len(entries)-1].SampleCount++
		} else {
			entries = append(entries, mp4.SttsEntry{
				SampleCount: 1,
				SampleDelta: sa.duration,
			})
		}
	}

	_, err := w.writeBox(&mp4.Stts{
		EntryCount: uint32(len(entries)),
		Entries:    entries,
	})
	return err
}

func (in *Input) marshalSTSS(w *mp4Writer) error {
	var sampleNumbers []uint32
	allSync := true

	for i, sa := range in.samples {
		if sa.isSync {
			sampleNumbers = append(sampleNumbers, uint32(i+1))
		} else {
			allSync = false
		}
	}

	if allSync {
		return nil
	}

	_, err := w.writeBox(&mp4.Stss{
		EntryCount:   uint32(len(sampleNumbers)),
		SampleNumber: sampleNumbers,
	})
	return err
}

func (in *Input) marshalSTSC(w *mp4Writer) error {
	entries := []mp4.StscEntry{{
		FirstChunk:             1,
		SamplesPerChunk:        1,
		SampleDescriptionIndex: 1,
	}}

	firstSample := in.samples[0]
	off := firstSample.offset + uint64(firstSample.size)
	chunk := uint32(1)

	for _, sa := range in.samples[1:] {
		if sa.offset == off {
			entries[len(entries)-1].SamplesPerChunk++
		} else {
			chunk++
			entries = append(entries, mp4.StscEntry{
				FirstChunk:             chunk,
				SamplesPerChunk:        1,
				SampleDescriptionIndex: 1,
			})
		}

		off = sa.offset + uint64(sa.size)
	}

	// merge consecutive runs with the same chunk size
	merged := entries[:1]
	for _, e := range entries[1:] {
		if e.SamplesPerChunk != merged[len(merged)-1].SamplesPerChunk {
			merged = append(merged, e)
		}
	}

	_, err := w.writeBox(&mp4.Stsc{
		EntryCount: uint32(len(merged)),
		Entries:    merged,
	})
	return err
}

func (in *Input) marshalSTSZ(w *mp4Writer) error {
	sampleSizes := make([]uint32, len(in.samples))

	for i, sa := range in.samples {
		sampleSizes[i] = sa.size
	}

	_, err := w.writeBox(&mp4.Stsz{
		SampleSize:  0,
		SampleCount: uint32(len(sampleSizes)),
		EntrySize:   sampleSizes,
	})
	return err
}

func (in *Input) marshalSTCO(w *mp4Writer) error {
	firstSample := in.samples[0]
	off := firstSample.offset + uint64(firstSample.size)

	entries := []uint64{firstSample.offset}

	for _, sa := range in.samples[1:] {
		if sa.offset != off {
			entries = append(entries, sa.offset)
		}
		off = sa.offset + uint64(sa.size)
	}

	if entries[len(entries)-1] > math.MaxUint32 {
		_, err := w.writeBox(&mp4.Co64{
			EntryCount:  uint32(len(entries)),
			ChunkOffset: entries,
		})
		return err
	}

	entries32 := make([]uint32, len(entries))
	for i, e := range entries {
		entries32[i] = uint32(e)
	}

	_, err := w.writeBox(&mp4.Stco{
		EntryCount:  uint32(len(entries32)),
		ChunkOffset: entries32,
	})
	return err
}
