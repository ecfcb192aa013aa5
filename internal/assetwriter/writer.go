// Package assetwriter contains a progressive MP4 file writer.
package assetwriter

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abema/go-mp4"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/unit"
)

const (
	globalTimeScale = 1000
)

// Status is the status of a Writer.
type Status int32

// statuses.
const (
	StatusUnknown Status = iota
	StatusWriting
	StatusCompleted
	StatusFailed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusWriting:
		return "writing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotWriting is returned when an operation requires a writing writer.
var ErrNotWriting = errors.New("writer is not writing")

// Writer writes samples into a MP4 file.
// Samples are written into mdat as soon as they are appended;
// moov is written by FinishWriting.
//
// Methods must be called by a single routine, except Status and Err.
type Writer struct {
	Path   string
	Parent logger.Writer

	f            *os.File
	mw           *mp4Writer
	inputs       []*Input
	sessionStart time.Duration
	status       atomic.Int32
	finishing    bool

	errMutex sync.Mutex
	err      error
}

// Initialize creates the file.
func (w *Writer) Initialize() error {
	var err error
	w.f, err = os.Create(w.Path)
	if err != nil {
		return err
	}

	w.mw = newMP4Writer(w.f)
	return nil
}

// Log implements logger.Writer.
func (w *Writer) Log(level logger.Level, format string, args ...interface{}) {
	w.Parent.Log(level, "[asset writer] "+format, args...)
}

// Status returns the status.
func (w *Writer) Status() Status {
	return Status(w.status.Load())
}

// Err returns the error that moved the writer into StatusFailed.
func (w *Writer) Err() error {
	w.errMutex.Lock()
	defer w.errMutex.Unlock()
	return w.err
}

func (w *Writer) fail(err error) error {
	w.errMutex.Lock()
	w.err = err
	w.errMutex.Unlock()

	w.status.Store(int32(StatusFailed))
	return err
}

// AddInput adds a track.
func (w *Writer) AddInput(in *Input) error {
	if w.Status() != StatusUnknown {
		return fmt.Errorf("inputs can only be added before writing")
	}

	err := in.validate()
	if err != nil {
		return err
	}

	in.id = len(w.inputs) + 1
	w.inputs = append(w.inputs, in)
	return nil
}

// StartWriting writes the file header.
func (w *Writer) StartWriting() error {
	if w.Status() != StatusUnknown {
		return fmt.Errorf("writer is %v", w.Status())
	}

	if len(w.inputs) == 0 {
		return w.fail(fmt.Errorf("no inputs"))
	}

	/*
		|ftyp|
		|mdat|
		|moov| (at the end)
	*/

	_, err := w.mw.writeBox(&mp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 1,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
		},
	})
	if err != nil {
		return w.fail(err)
	}

	// 64-bit size header, mdat can exceed 4 GiB
	_, err = w.mw.writeLargeBoxStart(&mp4.Mdat{}) // <mdat>
	if err != nil {
		return w.fail(err)
	}

	w.status.Store(int32(StatusWriting))
	return nil
}

// StartSession sets the timestamp that is mapped to the beginning of the file.
func (w *Writer) StartSession(at time.Duration) {
	w.sessionStart = at
}

// Append writes a sample of an input.
// Video payloads are written in length-prefixed form.
func (w *Writer) Append(in *Input, s *unit.Sample) error {
	if w.Status() != StatusWriting || w.finishing {
		return ErrNotWriting
	}

	if in.finished {
		return fmt.Errorf("input is marked as finished")
	}

	off, err := w.mw.offset()
	if err != nil {
		return w.fail(err)
	}

	err = w.mw.writeRaw(s.Payload)
	if err != nil {
		return w.fail(err)
	}

	dts := s.PTS - w.sessionStart
	if dts < 0 {
		dts = 0
	}

	in.addSample(dts, uint32(len(s.Payload)), uint64(off), s.IsSync || in.Kind == unit.MediaKindAudio)
	return nil
}

// MarkAsFinished marks an input as finished. Further samples are rejected.
func (w *Writer) MarkAsFinished(in *Input) {
	in.finished = true
}

// FinishWriting finalizes the file in a separate routine and calls done when finished.
func (w *Writer) FinishWriting(done func()) {
	if w.Status() != StatusWriting || w.finishing {
		w.close()
		go done()
		return
	}

	w.finishing = true

	go func() {
		defer done()

		err := w.finalize()
		if err != nil {
			w.fail(err)
			w.Log(logger.Error, "unable to finalize %s: %v", w.Path, err)
			return
		}

		w.status.Store(int32(StatusCompleted))
		w.Log(logger.Debug, "finalized %s", w.Path)
	}()
}

func (w *Writer) close() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
}

func (w *Writer) finalize() error {
	defer w.close()

	err := w.mw.writeBoxEnd() // </mdat>
	if err != nil {
		return err
	}

	var inputs []*Input
	for _, in := range w.inputs {
		in.finished = true
		if len(in.samples) != 0 {
			in.finalizeDurations()
			inputs = append(inputs, in)
		}
	}

	if len(inputs) == 0 {
		return fmt.Errorf("no samples have been written")
	}

	_, err = w.mw.writeBoxStart(&mp4.Moov{}) // <moov>
	if err != nil {
		return err
	}

	mvhd := &mp4.Mvhd{ // <mvhd/>
		Timescale:   globalTimeScale,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		NextTrackID: uint32(len(w.inputs) + 1),
	}

	for _, in := range inputs {
		if d := in.presentationDuration(); d > mvhd.DurationV0 {
			mvhd.DurationV0 = d
		}
	}

	_, err = w.mw.writeBox(mvhd)
	if err != nil {
		return err
	}

	for _, in := range inputs {
		err = in.marshal(w.mw)
		if err != nil {
			return err
		}
	}

	err = w.mw.writeBoxEnd() // </moov>
	if err != nil {
		return err
	}

	return w.f.Sync()
}
