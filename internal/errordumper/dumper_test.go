package errordumper

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDumperReport(t *testing.T) {
	reports := make(chan error, 10)

	d := &Dumper{
		Period: 50 * time.Millisecond,
		OnReport: func(v uint64, last error) {
			if v == 2 {
				reports <- last
			}
		},
	}
	d.Start()

	d.Add(fmt.Errorf("first error"))
	d.Add(fmt.Errorf("second error"))

	select {
	case err := <-reports:
		require.EqualError(t, err, "second error")
	case <-time.After(2 * time.Second):
		t.Errorf("should not happen")
	}

	d.Stop()

	require.Equal(t, uint64(2), d.Total())
}

func TestDumperDoNotReport(t *testing.T) {
	d := &Dumper{
		Period: 50 * time.Millisecond,
		OnReport: func(_ uint64, _ error) {
			t.Errorf("should not happen")
		},
	}
	d.Start()
	defer d.Stop()

	<-time.After(200 * time.Millisecond)
}

func TestDumperFlushOnStop(t *testing.T) {
	var reported uint64

	d := &Dumper{
		Period: time.Hour,
		OnReport: func(v uint64, _ error) {
			reported = v
		},
	}
	d.Start()

	d.Add(nil)
	d.Add(nil)
	d.Add(nil)
	d.Stop()

	require.Equal(t, uint64(3), reported)
}
