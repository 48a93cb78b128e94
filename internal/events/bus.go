// Package events is the launcher's in-process dispatcher. Components publish
// typed events; listeners subscribe and must unsubscribe when done.
package events

import (
	"sync"

	"github.com/botlauncher/launcher/internal/domain"
)

// Event is one of the closed set of event variants below.
type Event interface {
	isEvent()
}

// Log is an informational message meant for the user.
type Log struct {
	Message string
}

// Error is a failure meant for the user.
type Error struct {
	Message string
	Err     error
}

// DownloadProgress samples an in-flight artifact download.
type DownloadProgress struct {
	Progress domain.Progress
}

// Extracting reports one archive entry being written.
type Extracting struct {
	Path string
}

// PeerDiscovered carries another launcher's answer to a discovery request.
type PeerDiscovered struct {
	Peer domain.PeerInfo
}

// ConnectionChanged fires when the remote channel is declared lost or regained.
type ConnectionChanged struct {
	Connected bool
}

// BatchFinished fires once every client of a batch has been attempted.
type BatchFinished struct {
	Total  int
	Failed int
}

func (Log) isEvent()               {}
func (Error) isEvent()             {}
func (DownloadProgress) isEvent()  {}
func (Extracting) isEvent()        {}
func (PeerDiscovered) isEvent()    {}
func (ConnectionChanged) isEvent() {}
func (BatchFinished) isEvent()     {}

// Listener receives published events. It is called synchronously on the
// publisher's goroutine and must not block.
type Listener func(Event)

// Bus delivers every published event to all currently subscribed listeners.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
}

// NewBus returns an empty dispatcher.
func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]Listener)}
}

// Subscribe registers l and returns the function that removes it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every listener registered at the time of the call.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		l(e)
	}
}

// Log publishes a Log event.
func (b *Bus) Log(msg string) {
	b.Publish(Log{Message: msg})
}

// Fail publishes an Error event.
func (b *Bus) Fail(err error) {
	b.Publish(Error{Message: err.Error(), Err: err})
}
