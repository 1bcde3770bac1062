package document

import (
	"strings"
	"sync"
)

// subscription is one subscriber's registration: which event types it
// wants, an optional path prefix narrowing change events, and the
// channel events are delivered on.
type subscription struct {
	ch     chan Event
	types  map[EventType]bool
	prefix string
}

func (s *subscription) wants(evt Event) bool {
	if !s.types[evt.Type] {
		return false
	}
	if s.prefix == "" || s.prefix == "$" {
		return true
	}
	if evt.Type != EventLocalChange && evt.Type != EventRemoteChange {
		return true
	}
	for _, p := range evt.Paths {
		if strings.HasPrefix(p, s.prefix) {
			return true
		}
	}
	return false
}

type subscriberSet struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[*subscription]struct{})}
}

func (ss *subscriberSet) add(types []EventType, prefix string) (*subscription, func()) {
	sub := &subscription{ch: make(chan Event, 16), types: make(map[EventType]bool, len(types)), prefix: prefix}
	for _, t := range types {
		sub.types[t] = true
	}
	ss.mu.Lock()
	ss.subs[sub] = struct{}{}
	ss.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			ss.mu.Lock()
			delete(ss.subs, sub)
			ss.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub, unsubscribe
}

func (ss *subscriberSet) publish(evt Event) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for sub := range ss.subs {
		if !sub.wants(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscribeDocument returns a channel of the document's content events —
// local and remote changes, attachment-status transitions, and peer
// broadcasts — and an unsubscribe handle. A non-empty pathPrefix ("$.todos", ...) narrows
// change events to operations whose target lives under that path
// (spec §4.3 subscribe surface).
func (d *Document) SubscribeDocument(pathPrefix string) (<-chan Event, func()) {
	sub, unsub := d.subs.add([]EventType{
		EventLocalChange, EventRemoteChange, EventDocumentStatusChanged, EventBroadcast,
	}, pathPrefix)
	return sub.ch, unsub
}

// SubscribeSyncStatus returns a channel of sync-cycle and watch-stream
// status events, and an unsubscribe handle.
func (d *Document) SubscribeSyncStatus() (<-chan Event, func()) {
	sub, unsub := d.subs.add([]EventType{
		EventSyncStatusChanged, EventStreamConnectionStatusChanged,
	}, "")
	return sub.ch, unsub
}

// SubscribeAuthError returns a channel of auth-refresh failure events,
// and an unsubscribe handle.
func (d *Document) SubscribeAuthError() (<-chan Event, func()) {
	sub, unsub := d.subs.add([]EventType{EventAuthError}, "")
	return sub.ch, unsub
}
