// Package unit contains the sample definition shared by sinks.
package unit

import (
	"time"
)

// MediaKind is the kind of a sample.
type MediaKind int

// media kinds.
const (
	MediaKindVideo MediaKind = iota
	MediaKindAudio
)

// String implements fmt.Stringer.
func (k MediaKind) String() string {
	if k == MediaKindAudio {
		return "audio"
	}
	return "video"
}

// Sample is an encoded unit produced by a capture device or by a demuxer.
// A sample is never modified after it is handed to a sink.
type Sample struct {
	Kind MediaKind

	// relative time
	PTS time.Duration

	// absolute time
	NTP time.Time

	// whether the sample can start independent decoding
	IsSync bool

	// video: an access unit in length-prefixed form.
	// audio: a raw AAC access unit.
	Payload []byte

	Format *Format
}

// Sink is an object that consumes samples.
type Sink interface {
	Append(*Sample)
}
