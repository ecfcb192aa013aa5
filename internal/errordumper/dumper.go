// Package errordumper contains a counter that periodically reports accumulated errors.
package errordumper

import (
	"sync"
	"time"
)

const (
	defaultPeriod = 1 * time.Second
)

// Dumper counts errors and reports them at most once per period.
// A nil error can be added to count an event that has no error value.
type Dumper struct {
	Period   time.Duration
	OnReport func(count uint64, last error)

	mutex   sync.Mutex
	counter uint64
	total   uint64
	last    error

	terminate chan struct{}
	done      chan struct{}
}

// Start starts the reporting routine.
func (d *Dumper) Start() {
	if d.Period == 0 {
		d.Period = defaultPeriod
	}

	d.terminate = make(chan struct{})
	d.done = make(chan struct{})

	go d.run()
}

// Stop stops the reporting routine.
// Errors added since the last report are reported before returning.
func (d *Dumper) Stop() {
	close(d.terminate)
	<-d.done
	d.flush()
}

// Add adds an error.
func (d *Dumper) Add(err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.counter++
	d.total++
	d.last = err
}

// Total returns the number of errors added since start.
func (d *Dumper) Total() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.total
}

func (d *Dumper) flush() {
	d.mutex.Lock()
	counter := d.counter
	last := d.last
	d.counter = 0
	d.last = nil
	d.mutex.Unlock()

	if counter != 0 {
		d.OnReport(counter, last)
	}
}

func (d *Dumper) run() {
	defer close(d.done)

	t := time.NewTicker(d.Period)
	defer t.Stop()

	for {
		select {
		case <-d.terminate:
			return

		case <-t.C:
			d.flush()
		}
	}
}
