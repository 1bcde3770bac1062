// Package memory implements an in-process reference transport.Transport:
// a stand-in for the real RPC server spec §1 puts out of scope for this
// library, so client/sync/document can be exercised end-to-end without a
// real network. Grounded on luvjson/crdtpubsub/memory.go's in-process
// fan-out broadcaster and luvjson/crdtstorage/memory_adapter.go's
// map-backed document registry, generalized to the ChangePack push-pull
// protocol of spec §6.2 instead of a single-document key/value store.
package memory

import (
	"context"
	"sync"

	"docengine/change"
	"docengine/crdt"
	"docengine/logicaltime"
	"docengine/transport"
	"docengine/transport/codec"

	"github.com/pkg/errors"
)

// DefaultSnapshotThreshold is the server-change lag past which a pull
// response carries a full snapshot instead of a change list (spec §6.2).
const DefaultSnapshotThreshold = 500

// Server is an in-process reference server implementing transport.Transport.
// It keeps one append-only change log and replay root per document key,
// assigns server sequence numbers to pushed changes, and derives the
// min-synced version vector from every currently attached client's
// observed position (spec §4.6 GC watermark).
type Server struct {
	mu                sync.Mutex
	clients           map[logicaltime.ActorID]bool
	docs              map[string]*documentState
	SnapshotThreshold int
}

// NewServer creates an empty Server.
func NewServer() *Server {
	return &Server{
		clients:           make(map[logicaltime.ActorID]bool),
		docs:              make(map[string]*documentState),
		SnapshotThreshold: DefaultSnapshotThreshold,
	}
}

type documentState struct {
	mu          sync.Mutex
	log         []*change.Change
	root        *crdt.Root
	rootLamport uint64
	removed     bool
	attached    map[logicaltime.ActorID]*attachment
	watchers    map[logicaltime.ActorID]chan transport.WatchEvent
}

type attachment struct {
	lastServerSeq int64
	// ackedClientSeq is the highest client sequence this client has
	// durably pushed; a re-pushed change at or below it is dropped
	// instead of entering the log twice (spec §8.1 invariant 6).
	ackedClientSeq uint32
	vv             *logicaltime.VersionVector
}

func (s *Server) docState(key string) *documentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[key]
	if !ok {
		d = &documentState{
			root:     crdt.NewRoot(logicaltime.InitialTimeTicket),
			attached: make(map[logicaltime.ActorID]*attachment),
			watchers: make(map[logicaltime.ActorID]chan transport.WatchEvent),
		}
		s.docs[key] = d
	}
	return d
}

// ActivateClient implements transport.Transport.
func (s *Server) ActivateClient(_ context.Context, _ string) (*transport.ActivateClientResponse, error) {
	id := logicaltime.NewActorID()
	s.mu.Lock()
	s.clients[id] = true
	s.mu.Unlock()
	return &transport.ActivateClientResponse{ClientID: id}, nil
}

// DeactivateClient implements transport.Transport.
func (s *Server) DeactivateClient(_ context.Context, clientID logicaltime.ActorID) error {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()
	return nil
}

// AttachDocument implements transport.Transport.
func (s *Server) AttachDocument(_ context.Context, clientID logicaltime.ActorID, docKey string, _ *change.ChangePack) (*transport.AttachDocumentResponse, error) {
	d := s.docState(docKey)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attached[clientID] = &attachment{vv: logicaltime.NewVersionVector()}
	pack := d.pullLocked(docKey, clientID, 0, s.threshold())
	return &transport.AttachDocumentResponse{ChangePack: pack}, nil
}

// DetachDocument implements transport.Transport.
func (s *Server) DetachDocument(_ context.Context, clientID logicaltime.ActorID, docKey string) error {
	d := s.docState(docKey)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attached, clientID)
	if w, ok := d.watchers[clientID]; ok {
		close(w)
		delete(d.watchers, clientID)
	}
	return nil
}

// PushPull implements transport.Transport. It applies the client's pending
// changes to the server's replay root (assigning each a server sequence
// number), then hands back whatever the client hasn't seen yet: either
// the change tail or, once the client's lag exceeds SnapshotThreshold, a
// full snapshot (spec §6.2).
func (s *Server) PushPull(_ context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
	d := s.docState(local.DocKey)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.attached[clientID]; !ok {
		return nil, errors.Errorf("memory transport: %s is not attached to %q", clientID, local.DocKey)
	}
	if d.removed {
		return nil, &transport.FailedPreconditionError{Method: "PushPullChanges", Detail: "document is removed"}
	}

	att := d.attached[clientID]
	ackClientSeq := local.Checkpoint.ClientSeq
	if att.ackedClientSeq > ackClientSeq {
		ackClientSeq = att.ackedClientSeq
	}
	accepted := 0
	for _, ch := range local.Changes {
		if ch.ID.ClientSeq <= att.ackedClientSeq {
			continue
		}
		ch.ApplyTolerant(d.root)
		d.log = append(d.log, ch)
		accepted++
		if ch.ID.Lamport > d.rootLamport {
			d.rootLamport = ch.ID.Lamport
		}
		if ch.ID.ClientSeq > ackClientSeq {
			ackClientSeq = ch.ID.ClientSeq
		}
	}
	att.ackedClientSeq = ackClientSeq

	pack := d.pullLocked(local.DocKey, clientID, ackClientSeq, s.threshold())
	if accepted > 0 {
		d.notifyWatchersLocked(local.DocKey, clientID)
	}

	if local.IsRemoved {
		d.removed = true
		pack.IsRemoved = true
		for id, w := range d.watchers {
			if id == clientID {
				continue
			}
			select {
			case w <- transport.WatchEvent{ChangePack: &change.ChangePack{DocKey: local.DocKey, IsRemoved: true}}:
			default:
			}
		}
	}
	return pack, nil
}

// threshold returns the configured snapshot lag threshold, defaulting
// when the Server was constructed without NewServer.
func (s *Server) threshold() int {
	if s.SnapshotThreshold <= 0 {
		return DefaultSnapshotThreshold
	}
	return s.SnapshotThreshold
}

// pullLocked builds the response pack for clientID: everything in the log
// the client hasn't observed yet, authored by some other actor (replaying
// a client's own pushed change back to it is a needless idempotent no-op,
// spec §8 "idempotent remote apply"), or a snapshot if the lag is too
// large. Callers must hold d.mu.
func (d *documentState) pullLocked(docKey string, clientID logicaltime.ActorID, ackClientSeq uint32, threshold int) *change.ChangePack {
	att := d.attached[clientID]
	from := att.lastServerSeq
	tail := d.log[from:]

	pack := &change.ChangePack{DocKey: docKey}

	if len(tail) > threshold {
		vv := logicaltime.NewVersionVector()
		vv.Bump(logicaltime.InitialActorID, d.rootLamport)
		snap, err := codec.EncodeSnapshot(d.root, vv)
		if err == nil {
			pack.Snapshot = snap
		}
	} else {
		for _, ch := range tail {
			if ch.ActorID() != clientID {
				pack.Changes = append(pack.Changes, ch)
			}
		}
	}

	for _, ch := range tail {
		att.vv.Bump(ch.ActorID(), ch.ID.Lamport)
	}
	att.lastServerSeq = int64(len(d.log))

	pack.Checkpoint = logicaltime.Checkpoint{ServerSeq: int64(len(d.log)), ClientSeq: ackClientSeq}
	pack.MinSyncedVersionVector = d.minSyncedVVLocked()
	return pack
}

// notifyWatchersLocked pings every other attached client's open watch
// stream so a realtime push-pull peer reacts before its own poll
// interval elapses (spec §4.4 "watch stream receives server-initiated
// notifications which trigger an out-of-cycle push-pull"). The
// notification is a doorbell, never a change payload: the recipient's
// own push-pull is what delivers the changes and advances its
// server-side cursor, so nothing can be delivered twice.
func (d *documentState) notifyWatchersLocked(docKey string, originator logicaltime.ActorID) {
	for id, w := range d.watchers {
		if id == originator {
			continue
		}
		select {
		case w <- transport.WatchEvent{ChangePack: &change.ChangePack{DocKey: docKey}}:
		default:
		}
	}
}

func (d *documentState) minSyncedVVLocked() *logicaltime.VersionVector {
	var min *logicaltime.VersionVector
	for _, att := range d.attached {
		if min == nil {
			min = att.vv.Clone()
			continue
		}
		min = min.Min(att.vv)
	}
	if min == nil {
		min = logicaltime.NewVersionVector()
	}
	return min
}

// Watch implements transport.Transport, opening (or reopening, after a
// prior stream ended) a notification channel for docKey.
func (s *Server) Watch(_ context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error) {
	d := s.docState(docKey)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attached[clientID]; !ok {
		return nil, errors.Errorf("memory transport: %s has no attachment on %q to watch", clientID, docKey)
	}
	ch := make(chan transport.WatchEvent, 16)
	d.watchers[clientID] = ch
	return ch, nil
}

// Broadcast implements transport.Transport, fanning payload out to every
// other client currently watching docKey.
func (s *Server) Broadcast(_ context.Context, clientID logicaltime.ActorID, docKey, topic string, payload []byte) error {
	d := s.docState(docKey)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, w := range d.watchers {
		if id == clientID {
			continue
		}
		select {
		case w <- transport.WatchEvent{Broadcast: &transport.BroadcastPayload{Topic: topic, Payload: payload, From: clientID}}:
		default:
		}
	}
	return nil
}
