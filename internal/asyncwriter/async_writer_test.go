package asyncwriter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
)

func TestAsyncWriterError(t *testing.T) {
	errs := make(chan error, 1)

	w := &Writer{
		QueueSize: 512,
		Parent:    test.NilLogger,
		OnError: func(err error) {
			errs <- err
		},
	}
	err := w.Initialize()
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	w.Push(func() error {
		return fmt.Errorf("testerror")
	})

	err = <-errs
	require.EqualError(t, err, "testerror")

	// the writer keeps running after an error
	err = w.Sync(func() error {
		return nil
	})
	require.NoError(t, err)
}

func TestAsyncWriterOrder(t *testing.T) {
	w := &Writer{
		QueueSize: 16,
		Parent:    test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	var out []int

	for i := 0; i < 10; i++ {
		ci := i
		w.Push(func() error {
			out = append(out, ci)
			return nil
		})
	}

	err = w.Sync(func() error {
		return fmt.Errorf("barrier")
	})
	require.EqualError(t, err, "barrier")
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, out)
}

func TestAsyncWriterInvalidSize(t *testing.T) {
	w := &Writer{
		QueueSize: 100,
		Parent:    test.NilLogger,
	}
	err := w.Initialize()
	require.Error(t, err)
}

func TestAsyncWriterStopped(t *testing.T) {
	w := &Writer{
		Parent: test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)

	w.Start()
	w.Stop()

	err = w.Sync(func() error {
		return nil
	})
	require.Equal(t, ErrTerminated, err)
}

func TestAsyncWriterSyncFullQueue(t *testing.T) {
	w := &Writer{
		QueueSize: 4,
		Parent:    test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	started := make(chan struct{})
	unblock := make(chan struct{})
	w.Push(func() error {
		close(started)
		<-unblock
		return nil
	})
	<-started

	var out []int

	for i := 0; i < 4; i++ {
		ci := i
		ok := w.Push(func() error {
			out = append(out, ci)
			return nil
		})
		require.True(t, ok)
	}
	require.False(t, w.Push(func() error { return nil }))

	synced := make(chan error)
	go func() {
		synced <- w.Sync(func() error {
			out = append(out, 100)
			return nil
		})
	}()

	select {
	case <-synced:
		t.Fatal("Sync returned while the queue was blocked")
	case <-time.After(100 * time.Millisecond):
	}

	close(unblock)

	err = <-synced
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 100}, out)
}
