// Package srt contains a SRT socket with caller and listener roles.
package srt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	srt "github.com/datarhei/gosrt"
	"github.com/google/uuid"

	"github.com/haishinkit/haishin/internal/asyncwriter"
	"github.com/haishinkit/haishin/internal/errordumper"
	"github.com/haishinkit/haishin/internal/logger"
)

const (
	// PollInterval is the period of the state poll loop.
	PollInterval = 30 * time.Millisecond

	readBufferSize = 2048
)

// Listener receives socket events.
// Callbacks are invoked from the background routines of the socket.
type Listener interface {
	// called once for every state change.
	OnStateChanged(s *Socket, state ConnState)

	// called when a listener socket accepts a connection.
	// The accepted socket is owned by the callee.
	OnAccept(s *Socket, accepted *Socket)

	// called when a send is rejected or the transport fails.
	OnError(s *Socket, err error)
}

// SendInterceptor is invoked with every outgoing message before it is sent.
// Returning false rejects the message.
// It must not block.
type SendInterceptor func(b []byte) bool

type outgoing struct {
	b      []byte
	queued time.Time
}

// Socket is a SRT socket.
type Socket struct {
	Listener        Listener
	SendInterceptor SendInterceptor
	WriteQueueSize  int
	ReadQueueSize   int
	Parent          logger.Writer

	id      uuid.UUID
	role    Role
	address string
	options Options
	conf    srt.Config
	post    postParams
	handle  int32

	mutex  sync.Mutex
	ln     srt.Listener
	conn   srt.Conn
	writer *asyncwriter.Writer

	native      atomic.Int32
	opened      atomic.Bool
	running     atomic.Bool
	closed      atomic.Bool
	pollStarted atomic.Bool
	lastState   ConnState
	polls       atomic.Uint64
	readQueue   chan []byte
	readPending []byte
	readDropped atomic.Uint64
	dropDumper  *errordumper.Dumper
	sendDumper  *errordumper.Dumper
	accepted    chan srt.Conn
	terminate   chan struct{}
	pollDone    chan struct{}
	releaseOnce sync.Once
}

// ID returns the socket ID.
func (s *Socket) ID() uuid.UUID {
	return s.id
}

// Role returns the socket role.
func (s *Socket) Role() Role {
	return s.role
}

// State returns the current state.
func (s *Socket) State() ConnState {
	return ConnState(s.native.Load())
}

// Log implements logger.Writer.
func (s *Socket) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[SRT %s %s] "+format, append([]interface{}{s.role, s.address}, args...)...)
}

// StreamID returns the stream ID of the connection.
func (s *Socket) StreamID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return s.conf.StreamId
	}
	return s.conn.StreamId()
}

// RemoteAddr returns the address of the peer.
func (s *Socket) RemoteAddr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (s *Socket) LocalAddr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ln != nil {
		return s.ln.Addr()
	}
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return nil
}

func (s *Socket) setState(st ConnState) {
	s.native.Store(int32(st))
}

func (s *Socket) init() error {
	if s.WriteQueueSize == 0 {
		s.WriteQueueSize = 512
	}
	if s.ReadQueueSize == 0 {
		s.ReadQueueSize = 256
	}

	s.id = uuid.New()
	s.terminate = make(chan struct{})
	s.pollDone = make(chan struct{})
	s.readQueue = make(chan []byte, s.ReadQueueSize)

	s.writer = &asyncwriter.Writer{
		QueueSize: s.WriteQueueSize,
		Parent:    s,
	}
	err := s.writer.Initialize()
	if err != nil {
		return err
	}

	s.dropDumper = &errordumper.Dumper{
		OnReport: func(val uint64, _ error) {
			s.Log(logger.Warn, "%d received messages dropped, read queue is full", val)
		},
	}

	s.sendDumper = &errordumper.Dumper{
		OnReport: func(val uint64, last error) {
			if val == 1 {
				s.Log(logger.Warn, "%v", last)
			} else {
				s.Log(logger.Warn, "%d sends failed, last: %v", val, last)
			}
		},
	}

	return nil
}

// Open opens the socket.
// In caller role it connects to address, in listener role it listens on address.
// Address can be host:port or a srt:// URL, whose query parameters are applied before options.
// Calling Open on an opened socket has no effect.
// Calling Open on a closed socket, or after a failed Open, returns ErrNotOpen.
func (s *Socket) Open(address string, role Role, options Options) error {
	if !s.opened.CompareAndSwap(false, true) {
		if s.closed.Load() {
			return ErrNotOpen
		}
		return nil
	}

	s.role = role
	s.address = address
	s.options = options
	s.conf = srt.DefaultConfig()

	if strings.HasPrefix(address, "srt://") {
		var err error
		s.address, err = s.conf.UnmarshalURL(address)
		if err != nil {
			s.closed.Store(true)
			s.setState(ConnStateNonExistent)
			return newTransportError("create", err)
		}
	}

	err := s.init()
	if err != nil {
		s.closed.Store(true)
		s.setState(ConnStateNonExistent)
		return newTransportError("create", err)
	}

	s.setState(ConnStateOpened)

	err = s.Configure(PhasePre)
	if err != nil {
		s.fail()
		return newTransportError("configure", err)
	}

	err = s.conf.Validate()
	if err != nil {
		s.fail()
		return newTransportError("configure", err)
	}

	if role == RoleListener {
		err = s.openListener()
	} else {
		err = s.openCaller()
	}
	if err != nil {
		s.fail()
		return err
	}

	s.start()
	return nil
}

func (s *Socket) openListener() error {
	ln, err := srt.Listen("srt", s.address, s.conf)
	if err != nil {
		return newTransportError("listen", err)
	}

	s.mutex.Lock()
	s.ln = ln
	s.mutex.Unlock()

	s.accepted = make(chan srt.Conn, 1)
	s.setState(ConnStateListening)

	s.Log(logger.Info, "listening")

	go s.runAccept(ln)

	return nil
}

func (s *Socket) openCaller() error {
	s.setState(ConnStateConnecting)

	conn, err := srt.Dial("srt", s.address, s.conf)
	if err != nil {
		return newTransportError("connect", err)
	}

	s.attach(conn)

	s.Log(logger.Info, "connected")

	return nil
}

// attach binds a connected native handle to the socket.
func (s *Socket) attach(conn srt.Conn) {
	s.mutex.Lock()
	s.conn = conn
	s.mutex.Unlock()

	s.Configure(PhasePost) //nolint:errcheck

	s.setState(ConnStateConnected)

	go s.runReceive(conn)
}

func (s *Socket) fail() {
	s.setState(ConnStateNonExistent)
	s.closed.Store(true)
	close(s.terminate)
	s.release()
}

// start registers the socket and starts its background routines.
func (s *Socket) start() {
	s.handle = handles.register(s)
	s.writer.OnError = func(err error) {
		s.sendDumper.Add(err)
		if s.Listener != nil {
			s.Listener.OnError(s, err)
		}
	}
	s.writer.Start()
	s.dropDumper.Start()
	s.sendDumper.Start()

	s.running.Store(true)
	s.pollStarted.Store(true)
	go s.runPoll()
}

// Configure applies the options of a phase.
// Every failing option is collected into a single error, which is also logged.
// Pre options are applied onto the connection configuration and have effect only before Open.
func (s *Socket) Configure(phase Phase) error {
	if phase == PhasePre {
		return applyPre(s.options, &s.conf, s)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return applyPost(s.options, &s.post, s)
}

func (s *Socket) runAccept(ln srt.Listener) {
	for {
		req, err := ln.Accept2()
		if err != nil {
			if !s.closed.Load() {
				s.reportError(newTransportError("accept", err))
			}
			return
		}

		if s.conf.Passphrase != "" {
			err = checkPassphrase(req, s.conf.Passphrase)
			if err != nil {
				s.Log(logger.Warn, "rejecting %v: %v", req.RemoteAddr(), err)
				req.Reject(srt.REJ_CLOSE)
				continue
			}
		}

		conn, err := req.Accept()
		if err != nil {
			s.Log(logger.Warn, "accept of %v failed: %v", req.RemoteAddr(), err)
			continue
		}

		select {
		case s.accepted <- conn:
		case <-s.terminate:
			conn.Close()
			return
		}
	}
}

func checkPassphrase(req srt.ConnRequest, passphrase string) error {
	if !req.IsEncrypted() {
		return fmt.Errorf("connection is not encrypted, but a passphrase is set")
	}

	err := req.SetPassphrase(passphrase)
	if err != nil {
		return fmt.Errorf("invalid passphrase")
	}

	return nil
}

func (s *Socket) runReceive(conn srt.Conn) {
	defer close(s.readQueue)

	buf := make([]byte, readBufferSize)

	for {
		s.mutex.Lock()
		readTimeout := s.post.readTimeout
		s.mutex.Unlock()

		if readTimeout != 0 {
			conn.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
		}

		n, err := conn.Read(buf)
		if err != nil {
			if !s.closed.Load() {
				s.setState(ConnStateBroken)
				if !errors.Is(err, io.EOF) {
					s.reportError(newTransportError("receive", err))
				}
			}
			return
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])

		select {
		case s.readQueue <- msg:
		default:
			s.readDropped.Add(1)
			s.dropDumper.Add(nil)
		}
	}
}

func (s *Socket) runPoll() {
	defer close(s.pollDone)
	defer s.release()

	t := time.NewTicker(PollInterval)
	defer t.Stop()

	for s.running.Load() {
		<-t.C
		s.poll()
	}
}

// poll checks the state once and accepts at most one pending connection.
func (s *Socket) poll() {
	s.polls.Add(1)

	st := s.State()
	if st != s.lastState {
		s.lastState = st

		switch {
		case st == ConnStateBroken:
			s.closeNative()

		case st.terminal():
			s.running.Store(false)
		}

		s.Log(logger.Debug, "state is %v", st)

		if s.Listener != nil {
			s.Listener.OnStateChanged(s, st)
		}
	}

	if s.role == RoleListener && s.running.Load() {
		select {
		case conn := <-s.accepted:
			s.handleAccepted(conn)
		default:
		}
	}
}

func (s *Socket) handleAccepted(conn srt.Conn) {
	child := &Socket{
		Listener:        s.Listener,
		SendInterceptor: s.SendInterceptor,
		WriteQueueSize:  s.WriteQueueSize,
		ReadQueueSize:   s.ReadQueueSize,
		Parent:          s,
		role:            RoleCaller,
		address:         conn.RemoteAddr().String(),
		options:         s.options,
		conf:            s.conf,
	}
	child.opened.Store(true)

	err := child.init()
	if err != nil {
		conn.Close()
		s.reportError(newTransportError("accept", err))
		return
	}

	child.setState(ConnStateOpened)
	child.attach(conn)

	s.Log(logger.Info, "accepted connection from %v", conn.RemoteAddr())

	child.start()

	if s.Listener != nil {
		s.Listener.OnAccept(s, child)
	}
}

func (s *Socket) reportError(err error) {
	s.Log(logger.Warn, "%v", err)

	if s.Listener != nil {
		s.Listener.OnError(s, err)
	}
}

// closeNative releases the native handles.
func (s *Socket) closeNative() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.setState(ConnStateClosing)

	close(s.terminate)

	s.mutex.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.mutex.Unlock()

	s.setState(ConnStateClosed)
}

// release stops the queues and releases the handle.
func (s *Socket) release() {
	s.releaseOnce.Do(func() {
		if s.handle != 0 {
			handles.release(s.handle)
			s.writer.Stop()
			s.dropDumper.Stop()
			s.sendDumper.Stop()
		}
	})
}

// Close closes the socket.
// The poll loop exits within one poll interval.
// Calling Close more than once has no effect.
func (s *Socket) Close() {
	if !s.opened.Load() {
		return
	}

	s.closeNative()

	if !s.pollStarted.Load() {
		s.release()
	}
}

// Wait waits for the poll loop to exit.
func (s *Socket) Wait() {
	if s.pollStarted.Load() {
		<-s.pollDone
	}
}

// Send queues a message for delivery.
// The payload is copied.
// Failures are reported to Listener.OnError.
func (s *Socket) Send(b []byte) {
	buf := make([]byte, len(b))
	copy(buf, b)
	s.SendZeroCopy(buf)
}

// SendZeroCopy queues a message for delivery without copying it.
// The caller must not modify b afterwards.
func (s *Socket) SendZeroCopy(b []byte) {
	if !s.running.Load() || s.closed.Load() {
		s.reportError(ErrNotOpen)
		return
	}

	h := s.handle
	m := outgoing{b: b, queued: time.Now()}

	s.writer.Push(func() error {
		return sendByHandle(h, m)
	})
}

func sendByHandle(h int32, m outgoing) error {
	s, ok := handles.lookup(h)
	if !ok {
		return nil
	}
	return s.write(m)
}

func (s *Socket) write(m outgoing) error {
	s.mutex.Lock()
	conn := s.conn
	sendTimeout := s.post.sendTimeout
	s.mutex.Unlock()

	if conn == nil || s.closed.Load() {
		return ErrNotOpen
	}

	if sendTimeout != 0 && time.Since(m.queued) > sendTimeout {
		return &TransportError{Op: "send", Reason: "send timeout exceeded"}
	}

	if s.SendInterceptor != nil && !s.SendInterceptor(m.b) {
		return &TransportError{Op: "send", Reason: "rejected by interceptor"}
	}

	_, err := conn.Write(m.b)
	if err != nil {
		return newTransportError("send", err)
	}

	return nil
}

// Read implements io.Reader.
// It returns io.EOF once the connection is closed and every received message has been read.
func (s *Socket) Read(p []byte) (int, error) {
	if len(s.readPending) == 0 {
		if s.readQueue == nil || s.role == RoleListener {
			return 0, ErrNotOpen
		}

		msg, ok := <-s.readQueue
		if !ok {
			return 0, io.EOF
		}
		s.readPending = msg
	}

	n := copy(p, s.readPending)
	s.readPending = s.readPending[n:]
	return n, nil
}
