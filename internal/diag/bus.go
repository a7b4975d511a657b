// Package diag implements the host's diagnostic bus: a hierarchical
// sender-name + level routed fan-out of log lines from extensions (and the
// host itself) to any number of subscribers, one of which is normally a
// bridge onto the process's real logger.
package diag

import (
	"sync"

	"excalibur/internal/abi"
)

// Message is one published diagnostic line.
type Message struct {
	SenderName string
	Level      abi.Level
	Text       string
}

type subscriber struct {
	id       uint64
	sink     abi.DiagSink
	minLevel abi.Level
}

// Bus is a publish/subscribe diagnostic router. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers sink to receive every message at or above minLevel.
// The returned Unsubscribe is safe to call more than once and, once it
// returns, guarantees no further delivery to sink will begin.
func (b *Bus) Subscribe(sink abi.DiagSink, minLevel abi.Level) abi.Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{id: id, sink: sink, minLevel: minLevel}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the message to every current subscriber whose minLevel is
// at or below level. The subscriber set is snapshotted under the lock, and the
// sinks are then called one after another on the publishing goroutine with
// the lock released: a slow sink does not hold up Subscribe, Unsubscribe or
// Publish calls on other goroutines, but it does delay this Publish call and
// the sinks after it in the snapshot.
func (b *Bus) Publish(senderName string, level abi.Level, message string) {
	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if level >= s.minLevel {
			snapshot = append(snapshot, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.sink(senderName, level, message)
	}
}

// Sink returns an abi.DiagSink bound to this bus, suitable for handing to
// code that only knows about the narrower delegate type.
func (b *Bus) Sink() abi.DiagSink {
	return b.Publish
}
