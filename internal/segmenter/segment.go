package segmenter

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asticode/go-astits"

	"github.com/haishinkit/haishin/internal/aac"
	"github.com/haishinkit/haishin/internal/logger"
)

const (
	videoPID = 256
	audioPID = 257

	// offset added to timestamps, so that the first PES is not at zero
	ptsOffset = 1 * time.Second
)

// Segment is a closed segment.
type Segment struct {
	SequenceNumber uint64
	Path           string
	Size           uint64
	Duration       time.Duration
}

// SegmentName returns the file name of a segment.
func SegmentName(seq uint64) string {
	return "segment-" + strconv.FormatUint(seq, 10) + ".ts"
}

func clockReference(d time.Duration) *astits.ClockReference {
	return &astits.ClockReference{Base: int64((d + ptsOffset).Seconds() * 90000)}
}

// tsSegment writes a MPEG-TS file.
type tsSegment struct {
	sequenceNumber uint64
	path           string
	hasVideo       bool
	hasAudio       bool
	startPTS       time.Duration
	log            logger.Writer

	f       *os.File
	bw      *bufio.Writer
	mux     *astits.Muxer
	size    uint64
	lastPTS time.Duration
}

func (s *tsSegment) initialize(dir string) error {
	s.path = filepath.Join(dir, SegmentName(s.sequenceNumber))
	s.lastPTS = s.startPTS

	var err error
	s.f, err = os.Create(s.path)
	if err != nil {
		return err
	}

	s.log.Log(logger.Debug, "creating segment %s", s.path)

	s.bw = bufio.NewWriter(s.f)
	s.mux = astits.NewMuxer(context.Background(), s)

	if s.hasVideo {
		err = s.mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: videoPID,
			StreamType:    astits.StreamTypeH264Video,
		})
		if err != nil {
			s.f.Close()
			return err
		}
	}

	if s.hasAudio {
		err = s.mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    astits.StreamTypeAACAudio,
		})
		if err != nil {
			s.f.Close()
			return err
		}
	}

	if s.hasVideo {
		s.mux.SetPCRPID(videoPID)
	} else {
		s.mux.SetPCRPID(audioPID)
	}

	// write PMT at the beginning of every segment
	// so that segments can be decoded independently
	_, err = s.mux.WriteTables()
	if err != nil {
		s.f.Close()
		return err
	}

	return nil
}

// Write implements io.Writer.
func (s *tsSegment) Write(p []byte) (int, error) {
	n, err := s.bw.Write(p)
	s.size += uint64(n)
	return n, err
}

func (s *tsSegment) close() (*Segment, error) {
	err := s.bw.Flush()
	err2 := s.f.Close()
	if err == nil {
		err = err2
	}

	s.log.Log(logger.Debug, "closing segment %s", s.path)

	return &Segment{
		SequenceNumber: s.sequenceNumber,
		Path:           s.path,
		Size:           s.size,
		Duration:       s.lastPTS - s.startPTS,
	}, err
}

func (s *tsSegment) writeH264(pts time.Duration, isSync bool, enc []byte) error {
	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: isSync,
		HasPCR:                true,
		PCR:                   clockReference(pts),
	}

	_, err := s.mux.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             clockReference(pts),
				},
				StreamID: 224, // video
			},
			Data: enc,
		},
	})
	if err != nil {
		return err
	}

	s.lastPTS = pts
	return nil
}

func (s *tsSegment) writeAAC(pts time.Duration, sampleRate int, channelCount int, au []byte) error {
	enc := au
	if !aac.IsADTS(au) {
		var err error
		enc, err = aac.EncodeADTS([]*aac.ADTSPacket{{
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
			AU:           au,
		}})
		if err != nil {
			return err
		}
	}

	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: true,
	}

	if !s.hasVideo {
		af.HasPCR = true
		af.PCR = clockReference(pts)
	}

	_, err := s.mux.WriteData(&astits.MuxerData{
		PID:             audioPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             clockReference(pts),
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     192, // audio
			},
			Data: enc,
		},
	})
	if err != nil {
		return err
	}

	if !s.hasVideo || pts > s.lastPTS {
		s.lastPTS = pts
	}
	return nil
}
