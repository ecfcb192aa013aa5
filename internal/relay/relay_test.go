package relay

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/test"
)

type acceptListener struct {
	accepted chan *srt.Socket
}

func (l *acceptListener) OnStateChanged(_ *srt.Socket, _ srt.ConnState) {}

func (l *acceptListener) OnAccept(_ *srt.Socket, accepted *srt.Socket) {
	l.accepted <- accepted
}

func (l *acceptListener) OnError(_ *srt.Socket, _ error) {}

func TestRelay(t *testing.T) {
	al := &acceptListener{accepted: make(chan *srt.Socket, 1)}

	ln := &srt.Socket{
		Listener: al,
		Parent:   test.NilLogger,
	}
	err := ln.Open("127.0.0.1:9730", srt.RoleListener, nil)
	require.NoError(t, err)
	defer ln.Close()

	r := &Relay{
		Address:    "127.0.0.1:9730",
		RetryPause: 100 * time.Millisecond,
		Parent:     test.NilLogger,
	}
	r.Initialize()
	defer r.Close()

	require.Eventually(t, func() bool {
		return r.Stats().Connected
	}, 5*time.Second, 10*time.Millisecond)

	var accepted *srt.Socket
	select {
	case accepted = <-al.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}
	defer accepted.Close()

	payload := bytes.Repeat([]byte{0x47}, 2000)

	n, err := r.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 2000, n)

	buf := make([]byte, 2048)
	n, err = accepted.Read(buf)
	require.NoError(t, err)
	require.Equal(t, chunkSize, n)

	require.Eventually(t, func() bool {
		return r.Stats().BytesForwarded == chunkSize
	}, 2*time.Second, 10*time.Millisecond)

	r.SetPaused(true)

	_, err = r.Write(bytes.Repeat([]byte{0x47}, 2*chunkSize))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Stats().BytesVetoed == 2*chunkSize
	}, 2*time.Second, 10*time.Millisecond)

	st := r.Stats()
	require.True(t, st.Paused)
	require.Equal(t, uint64(chunkSize), st.BytesForwarded)
}

func TestRelayDisconnected(t *testing.T) {
	r := &Relay{
		Address:    "127.0.0.1:9731",
		Options:    srt.Options{"conntimeo": "100"},
		RetryPause: 50 * time.Millisecond,
		Parent:     test.NilLogger,
	}
	r.Initialize()
	defer r.Close()

	n, err := r.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.Equal(t, Stats{}, r.Stats())
}
