package client

import (
	"time"

	"docengine/sync"

	"github.com/jinzhu/copier"
)

// ClientOptions configures a Client (spec §6.4 client config surface).
type ClientOptions struct {
	// Key identifies this client to the server; when empty, New fills in
	// a generated UUID.
	Key string

	// SyncLoopInterval is the push-pull interval documents attached in
	// a realtime mode use unless overridden per-document.
	SyncLoopInterval time.Duration

	// ReconnectStreamInterval is the base backoff for watch-stream
	// reconnection attempts.
	ReconnectStreamInterval time.Duration

	// RetrySyncLoopDelay is the delay before a failed push-pull round is
	// retried.
	RetrySyncLoopDelay time.Duration

	// Token holds an initial auth token. Nothing in this module reads it:
	// requests are not stamped with it, and refreshed tokens come only
	// from the auth-token injector.
	Token string
}

// DefaultClientOptions returns the options a Client starts from absent
// caller overrides.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		SyncLoopInterval:        50 * time.Millisecond,
		ReconnectStreamInterval: time.Second,
		RetrySyncLoopDelay:      time.Second,
	}
}

// Clone returns an independent copy of o. ClientOptions is a flat,
// exported-fields-only struct, exactly the shape copier.Copy is built
// for, unlike the CRDT root (see DESIGN.md's crdt/root.go entry for why
// that case needs hand-written Clone methods instead).
func (o *ClientOptions) Clone() *ClientOptions {
	out := &ClientOptions{}
	copier.Copy(out, o)
	return out
}

// DocumentOptions configures how a single document attaches (spec §6.4).
type DocumentOptions struct {
	// InitialMode is the sync mode the document starts in once attached.
	InitialMode sync.Mode
	// DisableGC skips tombstone collection for this document.
	DisableGC bool
}

// DefaultDocumentOptions returns the options a document attaches with
// absent caller overrides.
func DefaultDocumentOptions() *DocumentOptions {
	return &DocumentOptions{InitialMode: sync.ModeRealtimePushPull}
}

// Clone returns an independent copy of o.
func (o *DocumentOptions) Clone() *DocumentOptions {
	out := &DocumentOptions{}
	copier.Copy(out, o)
	return out
}
