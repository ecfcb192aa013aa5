// Package ingest converts a MPEG-TS byte stream into samples.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/haishinkit/haishin/internal/bitstream"
	"github.com/haishinkit/haishin/internal/errordumper"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/unit"
)

var errNoSupportedCodecs = errors.New(
	"the stream doesn't contain any supported codec, which are currently H264 and MPEG-4 Audio")

// the demuxer reports the end of the input as astits.ErrNoMorePackets.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, astits.ErrNoMorePackets)
}

func ticksToDuration(v int64, clockRate int64) time.Duration {
	secs := v / clockRate
	dec := v % clockRate
	return time.Duration(secs)*time.Second + time.Duration(dec)*time.Second/time.Duration(clockRate)
}

// Stats are counters of a Reader.
type Stats struct {
	VideoSamples uint64
	AudioSamples uint64
	DecodeErrors uint64
}

// Reader reads MPEG-TS from R and pushes samples to Sink.
type Reader struct {
	R      io.Reader
	Sink   unit.Sink
	Parent logger.Writer

	// called once tracks are known, with the media kinds of supported tracks.
	OnTracks func(kinds []unit.MediaKind)

	decodeErrors *errordumper.Dumper
	stats        Stats
	td           *mpegts.TimeDecoder
	base         int64
	baseSet      bool
}

// Log implements logger.Writer.
func (r *Reader) Log(level logger.Level, format string, args ...interface{}) {
	r.Parent.Log(level, "[ingest] "+format, args...)
}

// decode returns a timestamp relative to the first timestamp of the stream.
func (r *Reader) decode(pts int64) time.Duration {
	pts = r.td.Decode(pts)

	if !r.baseSet {
		r.base = pts
		r.baseSet = true
	}

	return ticksToDuration(pts-r.base, 90000)
}

// Stats returns the reader counters.
// It must be called after Run returned.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Run reads the stream until R returns an error.
// It returns nil when R reaches io.EOF.
func (r *Reader) Run() error {
	mr := &mpegts.Reader{R: r.R}
	err := mr.Initialize()
	if err != nil {
		if isEOF(err) {
			return nil
		}
		return err
	}

	r.decodeErrors = &errordumper.Dumper{
		OnReport: func(count uint64, last error) {
			if count == 1 {
				r.Log(logger.Warn, "decode error: %v", last)
			} else {
				r.Log(logger.Warn, "%d decode errors, last: %v", count, last)
			}
		},
	}
	r.decodeErrors.Start()
	defer func() {
		r.decodeErrors.Stop()
		r.stats.DecodeErrors = r.decodeErrors.Total()
	}()

	mr.OnDecodeError(func(err error) {
		r.decodeErrors.Add(err)
	})

	kinds, err := r.setupTracks(mr)
	if err != nil {
		return err
	}

	if r.OnTracks != nil {
		r.OnTracks(kinds)
	}

	for {
		err = mr.Read()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
	}
}

func (r *Reader) setupTracks(mr *mpegts.Reader) ([]unit.MediaKind, error) {
	r.td = &mpegts.TimeDecoder{}
	r.td.Initialize()

	var kinds []unit.MediaKind

	for _, track := range mr.Tracks() {
		switch codec := track.Codec.(type) {
		case *mpegts.CodecH264:
			r.setupH264(mr, track)
			kinds = append(kinds, unit.MediaKindVideo)

		case *mpegts.CodecMPEG4Audio:
			r.setupMPEG4Audio(mr, track, &codec.Config)
			kinds = append(kinds, unit.MediaKindAudio)

		default:
			r.Log(logger.Warn, "skipping track with PID %d (unsupported codec)", track.PID)
		}
	}

	if kinds == nil {
		return nil, errNoSupportedCodecs
	}

	return kinds, nil
}

func (r *Reader) setupH264(mr *mpegts.Reader, track *mpegts.Track) {
	var format *unit.Format

	mr.OnDataH264(track, func(pts int64, _ int64, au [][]byte) error {
		var sps, pps []byte
		var buf []byte

		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}

			switch h264.NALUType(nalu[0] & 0x1f) {
			case h264.NALUTypeAccessUnitDelimiter:
				continue

			case h264.NALUTypeSPS:
				sps = nalu

			case h264.NALUTypePPS:
				pps = nalu
			}

			buf = append(buf, 0x00, 0x00, 0x00, 0x01)
			buf = append(buf, nalu...)
		}

		if buf == nil {
			return nil
		}

		// samples share their format until parameters change
		if format == nil || (sps != nil && string(sps) != string(format.SPS)) ||
			(pps != nil && string(pps) != string(format.PPS)) {
			next := &unit.Format{}
			if format != nil {
				*next = *format
			}
			if sps != nil {
				next.SPS = sps
				var s h264.SPS
				if err := s.Unmarshal(sps); err == nil {
					next.Width, next.Height = s.Width(), s.Height()
				}
			}
			if pps != nil {
				next.PPS = pps
			}
			format = next
		}

		r.stats.VideoSamples++

		r.Sink.Append(&unit.Sample{
			Kind:    unit.MediaKindVideo,
			PTS:     r.decode(pts),
			NTP:     time.Now(),
			IsSync:  h264.IsRandomAccess(au),
			Payload: bitstream.ToLengthPrefixedForm(buf),
			Format:  format,
		})
		return nil
	})
}

func (r *Reader) setupMPEG4Audio(
	mr *mpegts.Reader,
	track *mpegts.Track,
	conf *mpeg4audio.AudioSpecificConfig,
) {
	format := &unit.Format{
		SampleRate:   conf.SampleRate,
		ChannelCount: conf.ChannelCount,
		AudioConfig:  conf,
	}

	mr.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
		base := r.decode(pts)
		now := time.Now()

		for i, au := range aus {
			r.stats.AudioSamples++

			r.Sink.Append(&unit.Sample{
				Kind: unit.MediaKindAudio,
				PTS: base + ticksToDuration(int64(i)*mpeg4audio.SamplesPerAccessUnit,
					int64(conf.SampleRate)),
				NTP:     now,
				IsSync:  true,
				Payload: au,
				Format:  format,
			})
		}
		return nil
	})
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%d video samples, %d audio samples, %d decode errors",
		s.VideoSamples, s.AudioSamples, s.DecodeErrors)
}
