package srt

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/test"
)

type testListener struct {
	mutex    sync.Mutex
	states   map[*Socket][]ConnState
	errs     []error
	accepted chan *Socket
}

func newTestListener() *testListener {
	return &testListener{
		states:   make(map[*Socket][]ConnState),
		accepted: make(chan *Socket, 4),
	}
}

func (l *testListener) OnStateChanged(s *Socket, state ConnState) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.states[s] = append(l.states[s], state)
}

func (l *testListener) OnAccept(_ *Socket, accepted *Socket) {
	l.accepted <- accepted
}

func (l *testListener) OnError(_ *Socket, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.errs = append(l.errs, err)
}

func (l *testListener) statesOf(s *Socket) []ConnState {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]ConnState(nil), l.states[s]...)
}

func (l *testListener) errors() []error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]error(nil), l.errs...)
}

func countState(states []ConnState, st ConnState) int {
	n := 0
	for _, cur := range states {
		if cur == st {
			n++
		}
	}
	return n
}

func waitAccepted(t *testing.T, l *testListener) *Socket {
	select {
	case s := <-l.accepted:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}
	return nil
}

func TestListenerCaller(t *testing.T) {
	ll := newTestListener()

	ln := &Socket{
		Listener: ll,
		Parent:   test.NilLogger,
	}
	err := ln.Open("127.0.0.1:9710", RoleListener, Options{"transportLatencyMs": "120"})
	require.NoError(t, err)
	defer ln.Close()

	require.Equal(t, ConnStateListening, ln.State())

	cl := newTestListener()

	caller := &Socket{
		Listener: cl,
		Parent:   test.NilLogger,
	}
	err = caller.Open("127.0.0.1:9710", RoleCaller, Options{"transportLatencyMs": "120"})
	require.NoError(t, err)
	defer caller.Close()

	require.Equal(t, ConnStateConnected, caller.State())

	accepted := waitAccepted(t, ll)
	defer accepted.Close()

	caller.Send([]byte{0x01, 0x02, 0x03})

	buf := make([]byte, 64)
	n, err := accepted.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])

	// wait for the state to be observed, then for 10 more polls without changes
	require.Eventually(t, func() bool {
		return countState(ll.statesOf(accepted), ConnStateConnected) == 1
	}, 2*time.Second, PollInterval)

	polls := accepted.polls.Load()
	require.Eventually(t, func() bool {
		return accepted.polls.Load() >= polls+10
	}, 2*time.Second, PollInterval)

	require.Equal(t, []ConnState{ConnStateConnected}, ll.statesOf(accepted))
	require.Equal(t, []ConnState{ConnStateListening}, ll.statesOf(ln))
	require.Equal(t, []ConnState{ConnStateConnected}, cl.statesOf(caller))
	require.Empty(t, cl.errors())
}

func TestOpenIdempotent(t *testing.T) {
	s := &Socket{
		Parent: test.NilLogger,
	}
	err := s.Open("127.0.0.1:9711", RoleListener, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Open("127.0.0.1:9711", RoleListener, nil)
	require.NoError(t, err)

	require.Equal(t, 1, countOwned(s))
}

func countOwned(s *Socket) int {
	n := 0
	handles.mutex.RLock()
	defer handles.mutex.RUnlock()
	for _, cur := range handles.entries {
		if cur == s {
			n++
		}
	}
	return n
}

func TestOpenError(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		s := &Socket{
			Parent: test.NilLogger,
		}
		err := s.Open("127.0.0.1:9712", RoleCaller, Options{"conntimeo": "300"})
		require.Error(t, err)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		require.Equal(t, "connect", terr.Op)
		require.NotEmpty(t, terr.Reason)
		require.Equal(t, ConnStateNonExistent, s.State())

		// a failed socket cannot be reopened
		err = s.Open("127.0.0.1:9712", RoleCaller, nil)
		require.Equal(t, ErrNotOpen, err)
		require.Equal(t, ConnStateNonExistent, s.State())

		s.Close()
		s.Close()
	})

	t.Run("create", func(t *testing.T) {
		s := &Socket{
			Parent:         test.NilLogger,
			WriteQueueSize: 100,
		}
		err := s.Open("127.0.0.1:9714", RoleCaller, nil)
		require.Error(t, err)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		require.Equal(t, "create", terr.Op)
		require.Equal(t, ConnStateNonExistent, s.State())

		err = s.Open("127.0.0.1:9714", RoleCaller, nil)
		require.Equal(t, ErrNotOpen, err)

		s.Close()
	})

	t.Run("options", func(t *testing.T) {
		var logged []string

		s := &Socket{
			Parent: test.Logger(func(_ logger.Level, format string, args ...interface{}) {
				logged = append(logged, fmt.Sprintf(format, args...))
			}),
		}
		err := s.Open("127.0.0.1:9713", RoleListener, Options{
			"latency":  "abc",
			"unknown1": "1",
			"mss":      "1500",
		})
		require.Error(t, err)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		require.Equal(t, "configure", terr.Op)
		require.Contains(t, terr.Reason, "latency, unknown1")

		n := 0
		for _, line := range logged {
			if strings.Contains(line, "failed to apply pre options") {
				n++
			}
		}
		require.Equal(t, 1, n)
	})
}

func TestCloseStopsPoll(t *testing.T) {
	l := newTestListener()

	s := &Socket{
		Listener: l,
		Parent:   test.NilLogger,
	}
	err := s.Open("127.0.0.1:9714", RoleListener, nil)
	require.NoError(t, err)

	s.Close()
	s.Close()
	s.Wait()

	states := l.statesOf(s)
	require.Equal(t, ConnStateClosed, states[len(states)-1])
	require.Equal(t, 1, countState(states, ConnStateClosed))
	require.Equal(t, 0, countOwned(s))

	_, err = s.Stats()
	require.Equal(t, ErrNotOpen, err)
}

func TestBrokenConnection(t *testing.T) {
	ll := newTestListener()

	ln := &Socket{
		Listener: ll,
		Parent:   test.NilLogger,
	}
	err := ln.Open("127.0.0.1:9715", RoleListener, nil)
	require.NoError(t, err)
	defer ln.Close()

	cl := newTestListener()

	caller := &Socket{
		Listener: cl,
		Parent:   test.NilLogger,
	}
	err = caller.Open("127.0.0.1:9715", RoleCaller, nil)
	require.NoError(t, err)

	accepted := waitAccepted(t, ll)

	require.Eventually(t, func() bool {
		return countState(ll.statesOf(accepted), ConnStateConnected) == 1
	}, 2*time.Second, PollInterval)

	caller.Close()
	caller.Wait()

	// the peer sees the shutdown, closes itself and stops polling
	accepted.Wait()

	states := ll.statesOf(accepted)
	require.Equal(t, []ConnState{ConnStateConnected, ConnStateBroken, ConnStateClosed}, states)

	_, err = accepted.Read(make([]byte, 10))
	require.Equal(t, io.EOF, err)
}

func TestSendInterceptor(t *testing.T) {
	ll := newTestListener()

	ln := &Socket{
		Listener: ll,
		Parent:   test.NilLogger,
	}
	err := ln.Open("127.0.0.1:9716", RoleListener, nil)
	require.NoError(t, err)
	defer ln.Close()

	var mutex sync.Mutex
	var seen [][]byte

	cl := newTestListener()

	caller := &Socket{
		Listener: cl,
		Parent:   test.NilLogger,
		SendInterceptor: func(b []byte) bool {
			mutex.Lock()
			defer mutex.Unlock()
			seen = append(seen, append([]byte(nil), b...))
			return b[0] != 0xff
		},
	}
	err = caller.Open("127.0.0.1:9716", RoleCaller, nil)
	require.NoError(t, err)
	defer caller.Close()

	accepted := waitAccepted(t, ll)
	defer accepted.Close()

	caller.Send([]byte{0xff, 0x01})
	caller.Send([]byte{0x10, 0x11})

	buf := make([]byte, 64)
	n, err := accepted.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x11}, buf[:n])

	mutex.Lock()
	require.Equal(t, [][]byte{{0xff, 0x01}, {0x10, 0x11}}, seen)
	mutex.Unlock()

	errs := cl.errors()
	require.Len(t, errs, 1)
	var terr *TransportError
	require.True(t, errors.As(errs[0], &terr))
	require.Equal(t, "send", terr.Op)

	st, err := caller.Stats()
	require.NoError(t, err)
	require.NotZero(t, st.BytesSent)
}

func TestSendNotOpen(t *testing.T) {
	l := newTestListener()

	s := &Socket{
		Listener: l,
		Parent:   test.NilLogger,
	}
	s.Send([]byte{1})

	require.Equal(t, []error{ErrNotOpen}, l.errors())

	_, err := s.Stats()
	require.Equal(t, ErrNotOpen, err)
}
