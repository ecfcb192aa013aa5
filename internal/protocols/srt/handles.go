package srt

import "sync"

// handleTable maps integer handles to sockets.
// Background routines keep a handle instead of a reference to the socket,
// and stop working on it as soon as the handle is released.
type handleTable struct {
	mutex   sync.RWMutex
	next    int32
	entries map[int32]*Socket
}

var handles = &handleTable{
	entries: make(map[int32]*Socket),
}

func (t *handleTable) register(s *Socket) int32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.next++
	t.entries[t.next] = s
	return t.next
}

func (t *handleTable) release(h int32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.entries, h)
}

func (t *handleTable) lookup(h int32) (*Socket, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	s, ok := t.entries[h]
	return s, ok
}

func (t *handleTable) len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.entries)
}
