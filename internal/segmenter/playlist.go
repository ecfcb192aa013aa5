package segmenter

import (
	"math"
	"path/filepath"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/haishinkit/haishin/internal/logger"
)

// PlaylistName is the file name of the playlist.
const PlaylistName = "playlist.m3u8"

func targetDuration(segments []*Segment, def int) int {
	ret := def

	for _, seg := range segments {
		v := int(math.Ceil(seg.Duration.Seconds()))
		if v > ret {
			ret = v
		}
	}

	return ret
}

// regeneratePlaylist rebuilds the playlist from the retained segments.
// It must be called with the mutex locked.
func (m *Muxer) regeneratePlaylist() {
	pl := &playlist.Media{
		Version:        3,
		TargetDuration: targetDuration(m.segments, int(math.Ceil(m.SegmentDuration.Seconds()))),
		Endlist:        m.ended,
	}

	if len(m.segments) != 0 {
		pl.MediaSequence = int(m.segments[0].SequenceNumber)
	}

	for _, seg := range m.segments {
		pl.Segments = append(pl.Segments, &playlist.MediaSegment{
			Duration: seg.Duration,
			URI:      filepath.Base(seg.Path),
		})
	}

	byts, err := pl.Marshal()
	if err != nil {
		m.Log(logger.Warn, "unable to generate playlist: %v", err)
		return
	}

	m.playlist = byts
}
