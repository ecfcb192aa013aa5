// Package segmenter contains a muxer that writes rotating MPEG-TS segments and a playlist.
package segmenter

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haishinkit/haishin/internal/asyncwriter"
	"github.com/haishinkit/haishin/internal/bitstream"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/unit"
)

// access unit delimiter, placed at the beginning of every video access unit.
var audNALU = []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xf0}

// Stats are counters of a muxer.
type Stats struct {
	SegmentsCreated uint64
	SegmentsEvicted uint64
	SamplesWritten  uint64
	SamplesDropped  uint64
	BytesWritten    uint64
}

// Muxer converts samples into rotating MPEG-TS segments and a playlist.
type Muxer struct {
	Directory       string
	SegmentDuration time.Duration
	SegmentMaxSize  uint64
	SegmentCount    int
	Video           bool
	Audio           bool
	QueueSize       int
	OnSegmentClosed func(*Segment)
	Parent          logger.Writer

	writer  *asyncwriter.Writer
	running atomic.Bool
	mutex   sync.Mutex

	// owned by the writer routine
	nextSeq      uint64
	cur          *tsSegment
	waitingSync  bool
	sampleRate   int
	channelCount int

	// protected by mutex
	segments []*Segment
	playlist []byte
	ended    bool

	segmentsCreated atomic.Uint64
	segmentsEvicted atomic.Uint64
	samplesWritten  atomic.Uint64
	samplesDropped  atomic.Uint64
	bytesWritten    atomic.Uint64
}

// Log implements logger.Writer.
func (m *Muxer) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[segmenter] "+format, args...)
}

// StartRunning starts the muxer.
// Calling it on a running muxer has no effect.
func (m *Muxer) StartRunning() error {
	if m.running.Load() {
		return nil
	}

	if !m.Video && !m.Audio {
		return fmt.Errorf("at least one media kind must be expected")
	}

	if m.SegmentDuration == 0 {
		m.SegmentDuration = 2 * time.Second
	}
	if m.SegmentCount == 0 {
		m.SegmentCount = 5
	}

	err := os.MkdirAll(m.Directory, 0o755)
	if err != nil {
		return err
	}

	m.writer = &asyncwriter.Writer{
		QueueSize: m.QueueSize,
		Parent:    m,
		OnError: func(err error) {
			m.samplesDropped.Add(1)
			m.Log(logger.Warn, "sample dropped: %v", err)
		},
	}
	err = m.writer.Initialize()
	if err != nil {
		return err
	}

	m.mutex.Lock()
	m.ended = false
	m.regeneratePlaylist()
	m.mutex.Unlock()

	m.waitingSync = m.Video
	m.cur = nil

	m.writer.Start()
	m.running.Store(true)

	m.Log(logger.Info, "started, writing segments to %s", m.Directory)

	return nil
}

// StopRunning finalizes the in-flight segment and stops the muxer.
// Calling it on a stopped muxer has no effect.
func (m *Muxer) StopRunning() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	finalize := func() error {
		if m.cur != nil {
			m.closeCurrent()
		}

		m.mutex.Lock()
		m.ended = true
		m.regeneratePlaylist()
		m.mutex.Unlock()
		return nil
	}

	err := m.writer.Sync(finalize)

	m.writer.Stop()

	// the writer routine has exited, finalize here.
	if err != nil {
		finalize() //nolint:errcheck
	}

	m.Log(logger.Info, "stopped")
}

// Append implements unit.Sink.
// The sample is written asynchronously.
func (m *Muxer) Append(s *unit.Sample) {
	if !m.running.Load() {
		return
	}

	ok := m.writer.Push(func() error {
		return m.writeSample(s)
	})
	if !ok {
		m.samplesDropped.Add(1)
	}
}

// Playlist returns the current playlist.
func (m *Muxer) Playlist() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.playlist
}

// Segments returns the retained segments, from the oldest to the newest.
func (m *Muxer) Segments() []*Segment {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*Segment(nil), m.segments...)
}

// HasSegment checks whether a segment is currently retained.
func (m *Muxer) HasSegment(seq uint64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, seg := range m.segments {
		if seg.SequenceNumber == seq {
			return true
		}
	}
	return false
}

// Stats returns the muxer counters.
func (m *Muxer) Stats() Stats {
	return Stats{
		SegmentsCreated: m.segmentsCreated.Load(),
		SegmentsEvicted: m.segmentsEvicted.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		SamplesDropped:  m.samplesDropped.Load(),
		BytesWritten:    m.bytesWritten.Load(),
	}
}

func (m *Muxer) writeSample(s *unit.Sample) error {
	switch s.Kind {
	case unit.MediaKindVideo:
		if !m.Video {
			return nil
		}
		return m.writeVideo(s)

	case unit.MediaKindAudio:
		if !m.Audio {
			return nil
		}
		return m.writeAudio(s)
	}

	return fmt.Errorf("unsupported media kind: %v", s.Kind)
}

func (m *Muxer) shouldRotate(pts time.Duration, randomAccess bool) bool {
	if m.cur == nil {
		return true
	}

	if m.SegmentMaxSize != 0 && m.cur.size >= m.SegmentMaxSize && randomAccess {
		return true
	}

	return randomAccess && (pts-m.cur.startPTS) >= m.SegmentDuration
}

func (m *Muxer) writeVideo(s *unit.Sample) error {
	if m.waitingSync {
		if !s.IsSync {
			return nil
		}
		m.waitingSync = false
	}

	if m.shouldRotate(s.PTS, s.IsSync) {
		err := m.rotate(s.PTS)
		if err != nil {
			return err
		}
	}

	enc := make([]byte, 0, len(audNALU)+len(s.Payload)+64)
	enc = append(enc, audNALU...)

	if s.IsSync && s.Format != nil && s.Format.SPS != nil && s.Format.PPS != nil {
		enc = append(enc, 0x00, 0x00, 0x00, 0x01)
		enc = append(enc, s.Format.SPS...)
		enc = append(enc, 0x00, 0x00, 0x00, 0x01)
		enc = append(enc, s.Format.PPS...)
	}

	enc = append(enc, bitstream.ToStreamForm(s.Payload, m)...)

	before := m.cur.size

	err := m.cur.writeH264(s.PTS, s.IsSync, enc)
	if err != nil {
		return err
	}

	m.samplesWritten.Add(1)
	m.bytesWritten.Add(m.cur.size - before)
	return nil
}

func (m *Muxer) writeAudio(s *unit.Sample) error {
	// wait for the first video segment
	if m.Video && m.cur == nil {
		return nil
	}

	if s.Format != nil {
		m.sampleRate, m.channelCount = s.Format.AudioParams()
	}

	if !m.Video && m.shouldRotate(s.PTS, true) {
		err := m.rotate(s.PTS)
		if err != nil {
			return err
		}
	}

	before := m.cur.size

	err := m.cur.writeAAC(s.PTS, m.sampleRate, m.channelCount, s.Payload)
	if err != nil {
		return err
	}

	m.samplesWritten.Add(1)
	m.bytesWritten.Add(m.cur.size - before)
	return nil
}

// rotate closes the current segment and opens the next one.
func (m *Muxer) rotate(pts time.Duration) error {
	if m.cur != nil {
		if pts > m.cur.lastPTS {
			m.cur.lastPTS = pts
		}
		m.closeCurrent()
	}

	seg := &tsSegment{
		sequenceNumber: m.nextSeq,
		hasVideo:       m.Video,
		hasAudio:       m.Audio,
		startPTS:       pts,
		log:            m,
	}
	m.nextSeq++

	err := seg.initialize(m.Directory)
	if err != nil {
		return err
	}

	m.cur = seg
	m.segmentsCreated.Add(1)
	return nil
}

// closeCurrent closes the current segment, evicts old segments and regenerates the playlist.
// A segment that fails to close is discarded, and rotation proceeds.
func (m *Muxer) closeCurrent() {
	seg, err := m.cur.close()
	m.cur = nil

	if err != nil {
		m.Log(logger.Warn, "unable to finalize segment %d: %v", seg.SequenceNumber, err)
		os.Remove(seg.Path)
		return
	}

	m.mutex.Lock()

	m.segments = append(m.segments, seg)

	var evicted []*Segment
	for len(m.segments) > m.SegmentCount {
		evicted = append(evicted, m.segments[0])
		m.segments = m.segments[1:]
	}

	m.regeneratePlaylist()

	m.mutex.Unlock()

	for _, old := range evicted {
		err = os.Remove(old.Path)
		if err != nil {
			m.Log(logger.Warn, "unable to remove segment %d: %v", old.SequenceNumber, err)
		}
		m.segmentsEvicted.Add(1)
	}

	if m.OnSegmentClosed != nil {
		m.OnSegmentClosed(seg)
	}
}
