// Package transport defines the client-facing RPC surface a sync engine
// drives; the wire transport itself (gRPC, websocket, etc.) is out of
// scope for this library (spec §1), so this package only fixes the
// interface and ships a couple of reference implementations
// (transport/memory, transport/wsstream) other examples in the pack use
// for this kind of boundary.
package transport

import (
	"context"

	"docengine/change"
	"docengine/logicaltime"
)

// ActivateClientResponse is returned once a client session is accepted.
type ActivateClientResponse struct {
	ClientID logicaltime.ActorID
}

// AttachDocumentResponse is returned once a document is attached.
type AttachDocumentResponse struct {
	ChangePack *change.ChangePack
}

// WatchEvent is a single notification delivered over a watch stream: a
// ChangePack-bearing event signals the document changed server-side
// (the receiver runs a push-pull to fetch it — the stream is a trigger,
// not a delivery channel), a Broadcast carries a peer's payload, and
// Err signals the caller should reconnect.
type WatchEvent struct {
	ChangePack *change.ChangePack
	Broadcast  *BroadcastPayload
	Err        error
}

// BroadcastPayload is an arbitrary message a peer sent via Broadcast,
// delivered to every other attached client for the same document
// (spec §6.3 Broadcast event).
type BroadcastPayload struct {
	Topic   string
	Payload []byte
	From    logicaltime.ActorID
}

// Transport is the client-facing RPC surface of spec §6: activating a
// session, attaching/detaching documents, pushing and pulling changes,
// watching for remote updates, and broadcasting arbitrary payloads.
type Transport interface {
	ActivateClient(ctx context.Context, clientKey string) (*ActivateClientResponse, error)
	DeactivateClient(ctx context.Context, clientID logicaltime.ActorID) error

	AttachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string, initial *change.ChangePack) (*AttachDocumentResponse, error)
	DetachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string) error

	// PushPull exchanges a local ChangePack for the server's view: the
	// server applies local.Changes, then responds with whatever remote
	// changes (or snapshot) the client hasn't seen yet (spec §6.2).
	PushPull(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error)

	// Watch opens a long-lived stream of remote updates for docKey. The
	// returned channel is closed when the stream ends; callers should
	// reconnect with backoff on a WatchEvent carrying Err (spec §7).
	Watch(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan WatchEvent, error)

	Broadcast(ctx context.Context, clientID logicaltime.ActorID, docKey, topic string, payload []byte) error
}

// AuthTokenInjector supplies a fresh auth token on demand, called by the
// sync engine when a request fails with an auth error, before it retries
// the request once (spec §7 "Unauthenticated
// triggers a single token refresh").
type AuthTokenInjector func(ctx context.Context, reason string) (string, error)
