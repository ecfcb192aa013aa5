// Package recorder contains a recording session that writes samples into a MP4 file.
package recorder

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/haishinkit/haishin/internal/assetwriter"
	"github.com/haishinkit/haishin/internal/asyncwriter"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/unit"
)

const (
	// used when neither settings nor samples provide audio parameters.
	defaultSampleRate   = 44100
	defaultChannelCount = 2

	// samples kept while waiting for every expected input.
	maxPendingSamples = 512
)

// State is the state of a Recorder.
type State string

// states.
const (
	StateIdle      State = "idle"
	StateWriting   State = "writing"
	StateFinishing State = "finishing"
	StateClosed    State = "closed"
)

// Listener receives recorder events.
type Listener interface {
	OnStateChanged(r *Recorder, state State)
	OnError(r *Recorder, err *Error)
}

// AudioSettings are output audio parameters.
// Zero values are derived from the first audio sample.
type AudioSettings struct {
	SampleRate   int
	ChannelCount int
}

// VideoSettings are output video parameters.
// Zero values are derived from the first video sample.
type VideoSettings struct {
	Width  int
	Height int
}

// Stats are counters of a recorder.
type Stats struct {
	SamplesWritten uint64
	SamplesDropped uint64
	Recordings     uint64
}

// Recorder is a recording session.
type Recorder struct {
	Audio AudioSettings
	Video VideoSettings

	// media kinds that must be present before writing starts.
	// When empty, both audio and video are expected.
	MediaKinds []unit.MediaKind

	QueueSize int
	Listener  Listener
	Parent    logger.Writer

	id    uuid.UUID
	queue *asyncwriter.Writer
	fsm   *fsm.FSM
	state atomic.Value

	// owned by the queue routine
	path         string
	writer       *assetwriter.Writer
	inputs       map[unit.MediaKind]*assetwriter.Input
	pending      []*pendingSample
	firstPTS     time.Duration
	hasFirstPTS  bool
	lastVideoPTS time.Duration
	hasVideoPTS  bool

	samplesWritten atomic.Uint64
	samplesDropped atomic.Uint64
	recordings     atomic.Uint64
}

type pendingSample struct {
	in *assetwriter.Input
	s  *unit.Sample
}

// Initialize initializes Recorder.
func (r *Recorder) Initialize() error {
	if len(r.MediaKinds) == 0 {
		r.MediaKinds = []unit.MediaKind{unit.MediaKindVideo, unit.MediaKindAudio}
	}

	r.id = uuid.New()
	r.state.Store(StateIdle)

	r.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "start", Src: []string{string(StateIdle), string(StateClosed)}, Dst: string(StateWriting)},
			{Name: "finish", Src: []string{string(StateWriting)}, Dst: string(StateFinishing)},
			{Name: "close", Src: []string{string(StateFinishing)}, Dst: string(StateClosed)},
			{Name: "reset", Src: []string{string(StateClosed)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.state.Store(State(e.Dst))
				if r.Listener != nil {
					r.Listener.OnStateChanged(r, State(e.Dst))
				}
			},
		},
	)

	r.queue = &asyncwriter.Writer{
		QueueSize: r.QueueSize,
		Parent:    r,
	}
	err := r.queue.Initialize()
	if err != nil {
		return err
	}

	r.queue.Start()
	return nil
}

// Close stops any recording in progress and releases resources.
func (r *Recorder) Close() {
	r.Stop()
	r.queue.Stop()
}

// Log implements logger.Writer.
func (r *Recorder) Log(level logger.Level, format string, args ...interface{}) {
	r.Parent.Log(level, "[recorder] "+format, args...)
}

// ID returns the session ID.
func (r *Recorder) ID() uuid.UUID {
	return r.id
}

// State returns the current state.
func (r *Recorder) State() State {
	return r.state.Load().(State)
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		SamplesWritten: r.samplesWritten.Load(),
		SamplesDropped: r.samplesDropped.Load(),
		Recordings:     r.recordings.Load(),
	}
}

func (r *Recorder) expects(kind unit.MediaKind) bool {
	for _, k := range r.MediaKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *Recorder) event(name string) {
	err := r.fsm.Event(context.Background(), name)
	if err != nil {
		r.Log(logger.Debug, "transition %s: %v", name, err)
	}
}

func (r *Recorder) report(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	r.Log(logger.Warn, "%v", e)
	if r.Listener != nil {
		r.Listener.OnError(r, e)
	}
	return e
}

// Start starts writing a file at path.
// It has no effect when a recording is in progress.
func (r *Recorder) Start(path string) error {
	return r.queue.Sync(func() error {
		return r.doStart(path)
	})
}

func (r *Recorder) doStart(path string) error {
	if r.fsm.Current() == string(StateWriting) {
		return nil
	}

	r.hasFirstPTS = false
	r.hasVideoPTS = false
	r.pending = nil
	r.inputs = make(map[unit.MediaKind]*assetwriter.Input)

	w := &assetwriter.Writer{
		Path:   path,
		Parent: r,
	}
	err := w.Initialize()
	if err != nil {
		return r.report(ErrorKindCreateWriter, err)
	}

	r.path = path
	r.writer = w
	r.recordings.Add(1)

	r.event("start")

	r.Log(logger.Info, "recording to %s", path)
	return nil
}

// Append appends a sample.
// The sample is ignored unless a recording is in progress.
func (r *Recorder) Append(s *unit.Sample) {
	if r.State() != StateWriting {
		return
	}

	ok := r.queue.Push(func() error {
		r.doAppend(s)
		return nil
	})
	if !ok {
		r.samplesDropped.Add(1)
	}
}

func (r *Recorder) doAppend(s *unit.Sample) {
	if r.fsm.Current() != string(StateWriting) || !r.expects(s.Kind) {
		return
	}

	if s.Kind == unit.MediaKindVideo && r.hasVideoPTS && s.PTS <= r.lastVideoPTS {
		r.samplesDropped.Add(1)
		return
	}

	in, ok := r.inputs[s.Kind]
	if !ok {
		var err error
		in, err = r.createInput(s)
		if err != nil {
			r.samplesDropped.Add(1)
			r.report(ErrorKindCreateInput, err)
			return
		}
	}

	if !r.hasFirstPTS {
		r.firstPTS = s.PTS
		r.hasFirstPTS = true
	}

	if r.writer.Status() == assetwriter.StatusUnknown {
		if len(r.pending) >= maxPendingSamples {
			r.samplesDropped.Add(1)
			return
		}
		r.pending = append(r.pending, &pendingSample{in: in, s: s})
		r.accepted(s)

		if len(r.inputs) == len(r.MediaKinds) {
			r.startWriting()
		}
		return
	}

	if r.write(in, s) {
		r.accepted(s)
	}
}

// accepted advances the video timestamp gate.
func (r *Recorder) accepted(s *unit.Sample) {
	if s.Kind == unit.MediaKindVideo {
		r.lastVideoPTS = s.PTS
		r.hasVideoPTS = true
	}
}

func (r *Recorder) createInput(s *unit.Sample) (*assetwriter.Input, error) {
	if r.writer.Status() != assetwriter.StatusUnknown {
		return nil, fmt.Errorf("%v input added after writing started", s.Kind)
	}

	in := &assetwriter.Input{Kind: s.Kind}

	switch s.Kind {
	case unit.MediaKindVideo:
		in.Width, in.Height = r.Video.Width, r.Video.Height

		if s.Format != nil {
			w, h := s.Format.Dimensions()
			if in.Width == 0 {
				in.Width = w
			}
			if in.Height == 0 {
				in.Height = h
			}
			in.SPS = s.Format.SPS
			in.PPS = s.Format.PPS
		}

	case unit.MediaKindAudio:
		in.SampleRate, in.ChannelCount = r.Audio.SampleRate, r.Audio.ChannelCount

		if s.Format != nil {
			sampleRate, channelCount := s.Format.AudioParams()
			if in.SampleRate == 0 {
				in.SampleRate = sampleRate
			}
			if in.ChannelCount == 0 {
				in.ChannelCount = channelCount
			}
			in.AudioConfig = s.Format.AudioConfig
		}

		if in.SampleRate == 0 {
			in.SampleRate = defaultSampleRate
		}
		if in.ChannelCount == 0 {
			in.ChannelCount = defaultChannelCount
		}

		// an explicit configuration must agree with the output parameters
		if in.AudioConfig != nil && (in.AudioConfig.SampleRate != in.SampleRate ||
			in.AudioConfig.ChannelCount != in.ChannelCount) {
			in.AudioConfig = nil
		}
	}

	err := r.writer.AddInput(in)
	if err != nil {
		return nil, err
	}

	r.inputs[s.Kind] = in

	r.Log(logger.Debug, "created %v input", s.Kind)
	return in, nil
}

func (r *Recorder) startWriting() {
	err := r.writer.StartWriting()
	if err != nil {
		r.samplesDropped.Add(uint64(len(r.pending)))
		r.pending = nil
		r.report(ErrorKindCreateWriter, err)
		return
	}

	r.writer.StartSession(r.firstPTS)

	for _, p := range r.pending {
		r.write(p.in, p.s)
	}
	r.pending = nil
}

func (r *Recorder) write(in *assetwriter.Input, s *unit.Sample) bool {
	err := r.writer.Append(in, s)
	if err != nil {
		r.samplesDropped.Add(1)
		r.report(ErrorKindAppend, err)
		return false
	}

	r.samplesWritten.Add(1)
	return true
}

// Stop finalizes the file and returns when the file has been written.
// Samples already queued are written first.
// It has no effect when no recording is in progress.
func (r *Recorder) Stop() {
	err := r.queue.Sync(func() error {
		r.doStop()
		return nil
	})
	if err != nil {
		r.Log(logger.Warn, "unable to stop: %v", err)
	}
}

func (r *Recorder) doStop() {
	if r.fsm.Current() != string(StateWriting) {
		return
	}

	r.event("finish")

	// write what has been received when some inputs never showed up
	if r.writer.Status() == assetwriter.StatusUnknown && len(r.pending) != 0 {
		r.startWriting()
	}

	for _, in := range r.inputs {
		r.writer.MarkAsFinished(in)
	}

	done := make(chan struct{})
	r.writer.FinishWriting(func() {
		close(done)
	})
	<-done

	if r.writer.Status() != assetwriter.StatusCompleted {
		err := r.writer.Err()
		if err == nil {
			err = fmt.Errorf("writer is %v", r.writer.Status())
		}
		r.report(ErrorKindFinalize, err)
	} else {
		r.Log(logger.Info, "recording saved to %s", r.path)
	}

	r.writer = nil
	r.inputs = nil
	r.pending = nil

	r.event("close")
	r.event("reset")
}
