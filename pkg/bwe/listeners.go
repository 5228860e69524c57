package bwe

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// listenerEntry wraps a registered listener. The removed flag is read and
// written under the entry's own mutex. Delivery checks it and releases the
// mutex before calling the listener, so a removal that completes before a
// delivery starts suppresses it, and a listener may remove itself (or
// trigger removals) from inside its callback.
type listenerEntry[L comparable] struct {
	mu       sync.Mutex
	listener L
	removed  bool
}

// listenerList is a copy-on-write set of listeners. Dispatch iterates an
// immutable snapshot, so concurrent add/remove never invalidates it.
//
// Listeners are matched by ==, so their dynamic type must be comparable
// (typically a pointer). add rejects values that are not.
type listenerList[L comparable] struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[[]*listenerEntry[L]]
}

func (l *listenerList[L]) load() []*listenerEntry[L] {
	if s := l.snapshot.Load(); s != nil {
		return *s
	}
	return nil
}

// add registers listener, replacing any previous registration of it. It
// returns false, registering nothing, for a nil listener or one that cannot
// be compared.
func (l *listenerList[L]) add(listener L) bool {
	if !reflect.ValueOf(listener).Comparable() {
		return false
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	next := l.withoutLocked(listener)
	next = append(next, &listenerEntry[L]{listener: listener})
	l.snapshot.Store(&next)
	return true
}

// remove unregisters listener. It reports whether it was registered.
func (l *listenerList[L]) remove(listener L) bool {
	if !reflect.ValueOf(listener).Comparable() {
		return false
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	before := len(l.load())
	next := l.withoutLocked(listener)
	l.snapshot.Store(&next)
	return len(next) != before
}

// withoutLocked tombstones every entry for listener and returns a fresh
// slice of the remaining ones. Callers hold writeMu.
func (l *listenerList[L]) withoutLocked(listener L) []*listenerEntry[L] {
	current := l.load()
	next := make([]*listenerEntry[L], 0, len(current)+1)
	for _, e := range current {
		if e.listener == listener {
			e.mu.Lock()
			e.removed = true
			e.mu.Unlock()
			continue
		}
		next = append(next, e)
	}
	return slices.Clip(next)
}

func (l *listenerList[L]) len() int {
	return len(l.load())
}

// dispatch delivers event to every live listener. A panicking listener does
// not stop delivery to the others; the failures are returned joined.
func (l *listenerList[L]) dispatch(event func(L)) error {
	var errs error
	for _, e := range l.load() {
		errs = multierr.Append(errs, e.deliver(event))
	}
	return errs
}

func (e *listenerEntry[L]) deliver(event func(L)) (err error) {
	e.mu.Lock()
	removed := e.removed
	e.mu.Unlock()
	if removed {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %T panicked: %v", e.listener, r)
		}
	}()
	event(e.listener)
	return nil
}
