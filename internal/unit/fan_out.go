package unit

import "sync"

// FanOut is a Sink that forwards samples to multiple sinks.
type FanOut struct {
	mutex sync.RWMutex
	sinks []Sink
}

// Add adds a sink.
func (f *FanOut) Add(s Sink) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sinks = append(f.sinks, s)
}

// Remove removes a sink.
func (f *FanOut) Remove(s Sink) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for i, cur := range f.sinks {
		if cur == s {
			f.sinks = append(f.sinks[:i:i], f.sinks[i+1:]...)
			return
		}
	}
}

// Len returns the number of sinks.
func (f *FanOut) Len() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.sinks)
}

// Append implements Sink.
func (f *FanOut) Append(s *Sample) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	for _, sink := range f.sinks {
		sink.Append(s)
	}
}
