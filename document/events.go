package document

// EventType tags the kind of event delivered on a Document's event
// channel (spec §6.3).
type EventType string

const (
	// EventDocumentStatusChanged fires when the document transitions
	// between Detached/Attached/Removed.
	EventDocumentStatusChanged EventType = "document-status-changed"
	// EventStreamConnectionStatusChanged fires when the realtime watch
	// stream connects or disconnects.
	EventStreamConnectionStatusChanged EventType = "stream-connection-status-changed"
	// EventSyncStatusChanged fires when a push-pull cycle completes or
	// fails, and on push-only resume per the Open Question decision
	// recorded in DESIGN.md.
	EventSyncStatusChanged EventType = "sync-status-changed"
	// EventLocalChange fires once a local Update closure commits.
	EventLocalChange EventType = "local-change"
	// EventRemoteChange fires once a remote ChangePack has been applied.
	EventRemoteChange EventType = "remote-change"
	// EventAuthError fires when the transport reports an auth failure
	// that a token refresh could not resolve.
	EventAuthError EventType = "auth-error"
	// EventBroadcast fires when a peer's arbitrary broadcast payload
	// arrives over the watch stream.
	EventBroadcast EventType = "broadcast"
)

// SyncStatus is the payload carried by EventSyncStatusChanged.
type SyncStatus string

const (
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusNotSynced SyncStatus = "not-synced"
)

// StreamConnectionStatus is the payload carried by
// EventStreamConnectionStatusChanged.
type StreamConnectionStatus string

const (
	StreamConnected    StreamConnectionStatus = "connected"
	StreamDisconnected StreamConnectionStatus = "disconnected"
)

// Event is a single notification delivered to a Document subscriber.
type Event struct {
	Type  EventType
	Value interface{}
	// Paths names the document locations a change event touched
	// ("$.todos[0]", ...), used by path-prefix-filtered subscriptions.
	Paths []string
	Err   error
}
