// Package relay forwards the ingested MPEG-TS stream to a remote SRT listener.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/srt"
)

const (
	// seven MPEG-TS packets, the usual SRT payload.
	chunkSize = 7 * 188

	defaultRetryPause = 5 * time.Second
)

// Stats are counters of a Relay.
type Stats struct {
	BytesForwarded uint64
	BytesVetoed    uint64
	Connected      bool
	Paused         bool
}

type socketListener struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func (l *socketListener) OnStateChanged(_ *srt.Socket, state srt.ConnState) {
	if state == srt.ConnStateClosed || state == srt.ConnStateNonExistent {
		l.closeOnce.Do(func() {
			close(l.closed)
		})
	}
}

func (l *socketListener) OnAccept(_ *srt.Socket, _ *srt.Socket) {}

func (l *socketListener) OnError(_ *srt.Socket, _ error) {}

// Relay sends every byte written to it to a remote SRT listener.
// While the relay is paused, messages are vetoed by the send interceptor of the socket.
type Relay struct {
	Address        string
	Options        srt.Options
	WriteQueueSize int
	RetryPause     time.Duration
	Parent         logger.Writer

	paused    atomic.Bool
	forwarded atomic.Uint64
	vetoed    atomic.Uint64

	mutex  sync.Mutex
	socket *srt.Socket
	buf    []byte

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}
}

// Initialize initializes Relay.
func (r *Relay) Initialize() {
	if r.RetryPause == 0 {
		r.RetryPause = defaultRetryPause
	}

	r.ctx, r.ctxCancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})

	r.Log(logger.Info, "started")

	go r.run()
}

// Close closes Relay.
func (r *Relay) Close() {
	r.Log(logger.Info, "stopped")
	r.ctxCancel()
	<-r.done
}

// Log implements logger.Writer.
func (r *Relay) Log(level logger.Level, format string, args ...interface{}) {
	r.Parent.Log(level, "[relay "+r.Address+"] "+format, args...)
}

// SetPaused pauses or resumes forwarding.
func (r *Relay) SetPaused(v bool) {
	if r.paused.Swap(v) != v {
		if v {
			r.Log(logger.Info, "paused")
		} else {
			r.Log(logger.Info, "resumed")
		}
	}
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	r.mutex.Lock()
	connected := r.socket != nil
	r.mutex.Unlock()

	return Stats{
		BytesForwarded: r.forwarded.Load(),
		BytesVetoed:    r.vetoed.Load(),
		Connected:      connected,
		Paused:         r.paused.Load(),
	}
}

// Socket returns the current outbound socket, or nil when disconnected.
func (r *Relay) Socket() *srt.Socket {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.socket
}

func (r *Relay) intercept(b []byte) bool {
	if r.paused.Load() {
		r.vetoed.Add(uint64(len(b)))
		return false
	}

	r.forwarded.Add(uint64(len(b)))
	return true
}

// Write implements io.Writer.
// Bytes are grouped into messages of seven MPEG-TS packets.
// Write never blocks and never fails; bytes written while disconnected are discarded.
func (r *Relay) Write(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.socket == nil {
		return len(p), nil
	}

	r.buf = append(r.buf, p...)

	n := 0
	for len(r.buf)-n >= chunkSize {
		r.socket.Send(r.buf[n : n+chunkSize])
		n += chunkSize
	}

	r.buf = append(r.buf[:0], r.buf[n:]...)

	return len(p), nil
}

func (r *Relay) run() {
	defer close(r.done)

	for {
		err := r.runInner()

		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.Log(logger.Warn, "%v", err)

		select {
		case <-time.After(r.RetryPause):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) runInner() error {
	l := &socketListener{closed: make(chan struct{})}

	s := &srt.Socket{
		Listener:        l,
		SendInterceptor: r.intercept,
		WriteQueueSize:  r.WriteQueueSize,
		Parent:          r,
	}
	err := s.Open(r.Address, srt.RoleCaller, r.Options)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	r.socket = s
	r.buf = nil
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.socket = nil
		r.mutex.Unlock()

		s.Close()
		s.Wait()
	}()

	select {
	case <-l.closed:
		return fmt.Errorf("connection closed")

	case <-r.ctx.Done():
		return nil
	}
}
