package core

import (
	"context"
	"time"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/srt"
)

const srtSourceRetryPause = 5 * time.Second

type srtSourceParent interface {
	logger.Writer
	runPublisher(s *srt.Socket) error
}

// srtSource pulls a stream from a remote listener, reconnecting when the connection ends.
type srtSource struct {
	address        string
	options        srt.Options
	readQueueSize  int
	writeQueueSize int
	retryPause     time.Duration
	parent         srtSourceParent

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}
}

func (s *srtSource) initialize() {
	if s.retryPause == 0 {
		s.retryPause = srtSourceRetryPause
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})

	s.Log(logger.Info, "started")

	go s.run()
}

func (s *srtSource) close() {
	s.Log(logger.Info, "stopped")
	s.ctxCancel()
	<-s.done
}

// Log implements logger.Writer.
func (s *srtSource) Log(level logger.Level, format string, args ...interface{}) {
	s.parent.Log(level, "[SRT source "+s.address+"] "+format, args...)
}

func (s *srtSource) run() {
	defer close(s.done)

	for {
		err := s.runInner()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.Log(logger.Error, "%v", err)
		}

		select {
		case <-time.After(s.retryPause):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *srtSource) runInner() error {
	s.Log(logger.Debug, "connecting")

	socket := &srt.Socket{
		ReadQueueSize:  s.readQueueSize,
		WriteQueueSize: s.writeQueueSize,
		Parent:         s,
	}

	// Open blocks until the connection is established or fails.
	openDone := make(chan error, 1)
	go func() {
		openDone <- socket.Open(s.address, srt.RoleCaller, s.options)
	}()

	select {
	case err := <-openDone:
		if err != nil {
			return err
		}

	case <-s.ctx.Done():
		<-openDone
		socket.Close()
		socket.Wait()
		return nil
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- s.parent.runPublisher(socket)
	}()

	select {
	case err := <-runDone:
		socket.Wait()
		return err

	case <-s.ctx.Done():
		socket.Close()
		<-runDone
		socket.Wait()
		return nil
	}
}
