// Package client implements the session-level API: activating a client
// against a transport, attaching/detaching documents, and owning each
// attached document's sync engine (spec §4.4 Client, §6.4).
package client

import (
	"context"
	"encoding/json"
	"sync"

	"docengine/change"
	"docengine/document"
	"docengine/logicaltime"
	dsync "docengine/sync"
	"docengine/client/snapshotcache"
	"docengine/transport"
	"docengine/transport/codec"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Status is the client session's activation state.
type Status int

const (
	StatusDeactivated Status = iota
	StatusActivated
)

// attachment bundles a document with the engine driving its sync.
type attachment struct {
	doc    *document.Document
	engine *dsync.Engine
}

// Client is one session against the transport: it owns zero or more
// attached documents, each with its own sync engine, and a single
// client-wide identity (spec §4.4).
type Client struct {
	mu sync.Mutex

	opts *ClientOptions
	tr   transport.Transport

	status   Status
	clientID logicaltime.ActorID

	docs map[string]*attachment

	authInject transport.AuthTokenInjector
	snapCache  *snapshotcache.Cache
	logger     *zap.Logger
}

// New creates a Client against tr. If opts is nil, DefaultClientOptions
// is used; if opts.Key is empty, a generated UUID identifies the client
// (spec §4.5, §6.4).
func New(tr transport.Transport, opts *ClientOptions) *Client {
	if opts == nil {
		opts = DefaultClientOptions()
	}
	opts = opts.Clone()
	if opts.Key == "" {
		opts.Key = uuid.NewString()
	}
	return &Client{
		opts:   opts,
		tr:     tr,
		status: StatusDeactivated,
		docs:   make(map[string]*attachment),
		logger: zap.NewNop(),
	}
}

// Key returns the client's identity key.
func (c *Client) Key() string { return c.opts.Key }

// WithLogger overrides the client's structured logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.logger = l
	return c
}

// WithAuthTokenInjector wires a token-refresh callback used by every
// document's sync engine (spec §7 auth-token refresh).
func (c *Client) WithAuthTokenInjector(inj transport.AuthTokenInjector) *Client {
	c.authInject = inj
	return c
}

// WithSnapshotCache wires a local snapshot cache: attach warm-starts
// from the cached snapshot before the initial pull, and refreshes the
// cache when that initial pull carries a snapshot. Later pulls made by
// the sync engine do not touch the cache.
func (c *Client) WithSnapshotCache(cache *snapshotcache.Cache) *Client {
	c.snapCache = cache
	return c
}

// ClientID returns the session's actor identity. Only valid once Activate
// has succeeded.
func (c *Client) ClientID() logicaltime.ActorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Activate opens a session against the transport (spec §4.4 Client
// lifecycle).
func (c *Client) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusActivated {
		return nil
	}

	resp, err := c.tr.ActivateClient(ctx, c.opts.Key)
	if err != nil {
		return errors.Wrap(err, "client: activate")
	}
	c.clientID = resp.ClientID
	c.status = StatusActivated
	return nil
}

// Deactivate stops every attached document's sync engine and closes the
// session.
func (c *Client) Deactivate(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDeactivated {
		c.mu.Unlock()
		return nil
	}
	attachments := make([]*attachment, 0, len(c.docs))
	for _, a := range c.docs {
		attachments = append(attachments, a)
	}
	c.docs = make(map[string]*attachment)
	clientID := c.clientID
	c.status = StatusDeactivated
	c.mu.Unlock()

	for _, a := range attachments {
		a.engine.Stop()
		if err := c.tr.DetachDocument(ctx, clientID, a.doc.Key()); err != nil {
			c.logger.Warn("detach during deactivate failed", zap.String("docKey", a.doc.Key()), zap.Error(err))
		}
		a.doc.SetStatus(document.StatusDetached)
	}

	return errors.Wrap(c.tr.DeactivateClient(ctx, clientID), "client: deactivate")
}

// Attach opens docKey against the transport, builds its Document and
// sync Engine, and starts background sync per opts.InitialMode (spec
// §4.4 attach). If opts is nil, DefaultDocumentOptions is used.
func (c *Client) Attach(ctx context.Context, docKey string, opts *DocumentOptions) (*document.Document, error) {
	if opts == nil {
		opts = DefaultDocumentOptions()
	}

	c.mu.Lock()
	status := c.status
	clientID := c.clientID
	_, attached := c.docs[docKey]
	c.mu.Unlock()
	if status != StatusActivated {
		return nil, errors.New("client: cannot attach before activate")
	}
	if attached {
		return nil, errors.Wrapf(document.ErrDocumentNotDetached, "client: attach %q", docKey)
	}

	docOpts := []document.Option{document.WithSnapshotDecoder(codec.DecodeSnapshot)}
	if opts.DisableGC {
		docOpts = append(docOpts, document.WithDisableGC())
	}
	doc := document.New(docKey, clientID, docOpts...)

	initial := change.NewChangePack(docKey, logicaltime.InitialCheckpoint)
	if c.snapCache != nil {
		if entry, ok, err := c.snapCache.Get(docKey); err != nil {
			c.logger.Warn("snapshot cache read failed", zap.String("docKey", docKey), zap.Error(err))
		} else if ok && len(entry.Snapshot) > 0 {
			warm := change.NewChangePack(docKey, entry.Checkpoint)
			warm.Snapshot = entry.Snapshot
			if err := doc.ApplyChangePack(warm); err != nil {
				c.logger.Warn("snapshot cache warm-start failed", zap.String("docKey", docKey), zap.Error(err))
			} else {
				initial.Checkpoint = entry.Checkpoint
			}
		}
	}
	resp, err := c.tr.AttachDocument(ctx, clientID, docKey, initial)
	if err != nil {
		return nil, errors.Wrapf(err, "client: attach %q", docKey)
	}
	if resp.ChangePack != nil {
		if err := doc.ApplyChangePack(resp.ChangePack); err != nil {
			return nil, errors.Wrapf(err, "client: apply initial change pack for %q", docKey)
		}
		if c.snapCache != nil && resp.ChangePack.HasSnapshot() {
			entry := snapshotcache.Entry{Checkpoint: doc.Checkpoint(), Snapshot: resp.ChangePack.Snapshot}
			if err := c.snapCache.Put(docKey, entry); err != nil {
				c.logger.Warn("snapshot cache write failed", zap.String("docKey", docKey), zap.Error(err))
			}
		}
	}
	doc.SetStatus(document.StatusAttached)

	engine := dsync.NewEngine(doc, c.tr, clientID,
		dsync.WithInterval(c.opts.SyncLoopInterval),
		dsync.WithRetryDelay(c.opts.RetrySyncLoopDelay),
		dsync.WithReconnectDelay(c.opts.ReconnectStreamInterval),
		dsync.WithAuthTokenInjector(c.authInject),
		dsync.WithLogger(c.logger),
	)
	if err := engine.Start(ctx, opts.InitialMode); err != nil {
		return nil, errors.Wrapf(err, "client: start sync engine for %q", docKey)
	}

	c.mu.Lock()
	c.docs[docKey] = &attachment{doc: doc, engine: engine}
	c.mu.Unlock()

	return doc, nil
}

// Detach stops docKey's sync engine and tells the server this client no
// longer holds it attached (spec §4.4 detach).
func (c *Client) Detach(ctx context.Context, docKey string) error {
	c.mu.Lock()
	a, ok := c.docs[docKey]
	if ok {
		delete(c.docs, docKey)
	}
	clientID := c.clientID
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(document.ErrDocumentNotAttached, "client: detach %q", docKey)
	}

	if err := a.engine.Stop(); err != nil {
		c.logger.Warn("sync engine stop reported an error", zap.String("docKey", docKey), zap.Error(err))
	}
	a.doc.SetStatus(document.StatusDetached)

	return errors.Wrap(c.tr.DetachDocument(ctx, clientID, docKey), "client: detach")
}

// Document returns the attached Document for docKey, or nil if it isn't
// attached.
func (c *Client) Document(docKey string) *document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.docs[docKey]
	if !ok {
		return nil
	}
	return a.doc
}

// Sync runs one manual push-pull for docKey (spec §4.4 ModeManual).
func (c *Client) Sync(ctx context.Context, docKey string) error {
	c.mu.Lock()
	a, ok := c.docs[docKey]
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(document.ErrDocumentNotAttached, "client: sync %q", docKey)
	}
	return a.engine.PushPull(ctx)
}

// ChangeSyncMode switches docKey's engine to mode (spec §4.4).
func (c *Client) ChangeSyncMode(ctx context.Context, docKey string, mode dsync.Mode) error {
	c.mu.Lock()
	a, ok := c.docs[docKey]
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(document.ErrDocumentNotAttached, "client: change sync mode %q", docKey)
	}
	return a.engine.ChangeSyncMode(ctx, mode)
}

// PayloadNotSerializableError reports a Broadcast payload that could not
// be encoded for the wire; it is surfaced to the Broadcast caller only
// and never touches the document (spec §7).
type PayloadNotSerializableError struct {
	Topic string
	Cause error
}

// Error implements error.
func (e *PayloadNotSerializableError) Error() string {
	return "broadcast payload for topic " + e.Topic + " is not serializable: " + e.Cause.Error()
}

// Broadcast publishes payload under topic to every other client watching
// docKey. The payload rides the watch stream but never touches CRDT
// state (spec §1, §6.3).
func (c *Client) Broadcast(ctx context.Context, docKey, topic string, payload interface{}) error {
	c.mu.Lock()
	_, ok := c.docs[docKey]
	clientID := c.clientID
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(document.ErrDocumentNotAttached, "client: broadcast %q", docKey)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return &PayloadNotSerializableError{Topic: topic, Cause: err}
	}
	return errors.Wrapf(c.tr.Broadcast(ctx, clientID, docKey, topic, raw), "client: broadcast %q", docKey)
}

// Remove deletes the document from the server: remaining local changes
// are pushed with the removal flag set, the replica transitions to
// Removed, and the document leaves this client's registry (spec §4.3
// lifecycle, §6.2 isRemoved).
func (c *Client) Remove(ctx context.Context, docKey string) error {
	c.mu.Lock()
	a, ok := c.docs[docKey]
	if ok {
		delete(c.docs, docKey)
	}
	clientID := c.clientID
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(document.ErrDocumentNotAttached, "client: remove %q", docKey)
	}

	if err := a.engine.Stop(); err != nil {
		c.logger.Warn("sync engine stop reported an error", zap.String("docKey", docKey), zap.Error(err))
	}

	pack := change.NewChangePack(docKey, a.doc.Checkpoint())
	pack.Changes = a.doc.PendingChanges()
	pack.IsRemoved = true
	resp, err := c.tr.PushPull(ctx, clientID, pack)
	if err != nil {
		return errors.Wrapf(err, "client: remove %q", docKey)
	}
	if resp != nil {
		if err := a.doc.ApplyChangePack(resp); err != nil {
			return errors.Wrapf(err, "client: remove %q", docKey)
		}
	}
	if a.doc.Status() != document.StatusRemoved {
		a.doc.SetStatus(document.StatusRemoved)
	}
	if c.snapCache != nil {
		if err := c.snapCache.Delete(docKey); err != nil {
			c.logger.Warn("snapshot cache delete failed", zap.String("docKey", docKey), zap.Error(err))
		}
	}
	return nil
}
