// Package asyncwriter contains an asynchronous writer.
package asyncwriter

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/ringbuffer"

	"github.com/haishinkit/haishin/internal/logger"
)

// ErrTerminated is returned by Sync when the writer is stopped.
var ErrTerminated = errors.New("terminated")

// interval between attempts of Sync to enqueue into a full queue.
const syncRetryPause = 5 * time.Millisecond

// Writer is an asynchronous writer.
// Callbacks are executed one at a time, in the order they were pushed.
type Writer struct {
	QueueSize int
	Parent    logger.Writer

	// called on the writer routine when a callback returns an error.
	// The writer keeps running.
	OnError func(error)

	writeErrLogger logger.Writer
	buffer         *ringbuffer.RingBuffer

	done chan struct{}
}

// Initialize initializes Writer.
func (w *Writer) Initialize() error {
	if w.QueueSize == 0 {
		w.QueueSize = 512
	}

	var err error
	w.buffer, err = ringbuffer.New(uint64(w.QueueSize))
	if err != nil {
		return fmt.Errorf("invalid queue size: %w", err)
	}

	w.writeErrLogger = logger.NewLimitedLogger(w.Parent)
	w.done = make(chan struct{})

	return nil
}

// Start starts the writer routine.
func (w *Writer) Start() {
	go w.run()
}

// Stop stops the writer routine and waits for it to exit.
// Callbacks still in the queue are discarded.
func (w *Writer) Stop() {
	w.buffer.Close()
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		cb, ok := w.buffer.Pull()
		if !ok {
			return
		}

		err := cb.(func() error)()
		if err != nil && w.OnError != nil {
			w.OnError(err)
		}
	}
}

// Push appends a callback to the queue.
// It returns false when the queue is full.
func (w *Writer) Push(cb func() error) bool {
	ok := w.buffer.Push(cb)
	if !ok {
		w.writeErrLogger.Log(logger.Warn, "write queue is full")
	}
	return ok
}

// Sync appends a callback to the queue and waits for its execution.
// When the queue is full, it waits for room instead of discarding the callback.
func (w *Writer) Sync(cb func() error) error {
	select {
	case <-w.done:
		return ErrTerminated
	default:
	}

	res := make(chan error, 1)
	wrapped := func() error {
		res <- cb()
		return nil
	}

	if !w.buffer.Push(wrapped) {
		t := time.NewTicker(syncRetryPause)
		defer t.Stop()

		for !w.buffer.Push(wrapped) {
			select {
			case <-t.C:
			case <-w.done:
				return ErrTerminated
			}
		}
	}

	select {
	case err := <-res:
		return err
	case <-w.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrTerminated
		}
	}
}
