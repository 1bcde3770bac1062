// Package sync drives a Document's sync state machine: manual
// request/response pushes, or a realtime loop that periodically
// push-pulls and keeps a watch stream open for server-pushed updates
// (spec §4.4, §7).
package sync

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"docengine/change"
	"docengine/document"
	"docengine/logicaltime"
	"docengine/transport"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode is the document's sync mode (spec §4.4).
type Mode int

const (
	// ModeManual applies no background network activity; the caller
	// drives PushPull explicitly.
	ModeManual Mode = iota
	// ModeRealtimePushPull periodically pushes local changes and pulls
	// remote ones, and keeps a watch stream open for push notifications.
	ModeRealtimePushPull
	// ModeRealtimePushOnly pushes local changes on the same schedule but
	// never applies pulled remote changes or triggers GC.
	ModeRealtimePushOnly
	// ModeRealtimeSyncOff suspends all network activity; local edits
	// still accumulate as pending changes.
	ModeRealtimeSyncOff
)

// ErrorClass buckets a transport error for retry purposes (spec §7).
type ErrorClass int

const (
	ErrorClassTransient ErrorClass = iota
	ErrorClassUnauthenticated
	ErrorClassPermanent
)

// Classifier maps a transport error to a retry class. The default
// recognizes the typed errors the transport package defines; callers
// with a transport that surfaces raw status codes wire their own.
type Classifier func(error) ErrorClass

func defaultClassifier(err error) ErrorClass {
	var unauth *transport.UnauthenticatedError
	if stderrors.As(err, &unauth) {
		return ErrorClassUnauthenticated
	}
	var denied *transport.PermissionDeniedError
	if stderrors.As(err, &denied) {
		return ErrorClassPermanent
	}
	var precond *transport.FailedPreconditionError
	if stderrors.As(err, &precond) {
		return ErrorClassPermanent
	}
	return ErrorClassTransient
}

// Engine owns the sync loop for a single attached Document.
type Engine struct {
	doc      *document.Document
	tr       transport.Transport
	clientID logicaltime.ActorID

	interval       time.Duration
	retryDelay     time.Duration
	reconnectDelay time.Duration
	classify       Classifier
	authInject     transport.AuthTokenInjector
	logger         *zap.Logger

	mu     sync.Mutex
	mode   Mode
	cancel context.CancelFunc
	group  *errgroup.Group

	// pushMu serializes push-pull rounds: the periodic loop, a
	// watch-triggered out-of-cycle round, and an explicit Sync must not
	// interleave, or the same pending change could be pushed twice
	// before either response prunes it (spec §8.1 invariant 6).
	pushMu sync.Mutex
}

// Option configures a new Engine.
type Option func(*Engine)

// WithInterval overrides the default 50ms push-pull interval. A
// non-positive value keeps the default.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithRetryDelay overrides the default 1s delay before a failed
// push-pull round is retried. A non-positive value keeps the default.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// WithReconnectDelay overrides the default 1s delay before a dropped
// watch stream is redialed. A non-positive value keeps the default.
func WithReconnectDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reconnectDelay = d
		}
	}
}

// WithClassifier overrides the default error classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classify = c }
}

// WithAuthTokenInjector wires a callback used to refresh credentials
// after an Unauthenticated response (spec §7).
func WithAuthTokenInjector(inj transport.AuthTokenInjector) Option {
	return func(e *Engine) { e.authInject = inj }
}

// WithLogger overrides the engine's structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine in ModeManual for doc.
func NewEngine(doc *document.Document, tr transport.Transport, clientID logicaltime.ActorID, opts ...Option) *Engine {
	e := &Engine{
		doc:            doc,
		tr:             tr,
		clientID:       clientID,
		interval:       50 * time.Millisecond,
		retryDelay:     time.Second,
		reconnectDelay: time.Second,
		classify:       defaultClassifier,
		logger:         zap.NewNop(),
		mode:           ModeManual,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the engine's current sync mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Start begins background sync activity appropriate to mode (no-op for
// ModeManual and ModeRealtimeSyncOff beyond recording the mode).
func (e *Engine) Start(ctx context.Context, mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return errors.New("sync: engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.group = group
	e.mode = mode

	// Both loops always run and consult the current mode each round, so
	// ChangeSyncMode can move between Manual and the realtime modes
	// without tearing the engine down (spec §4.4 "any mode may return to
	// Manual; Manual returns to Realtime").
	group.Go(func() error { return e.pushPullLoop(runCtx) })
	group.Go(func() error { return e.watchLoop(runCtx) })
	return nil
}

// Stop cancels all background activity and waits for it to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	group := e.group
	e.cancel = nil
	e.group = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if group != nil {
		return group.Wait()
	}
	return nil
}

// ChangeSyncMode transitions to a new mode; transitions are idempotent.
// Resuming push-pull — from push-only, sync-off, or Manual — performs
// one catch-up pull immediately and always fires
// SyncStatusChanged(synced) afterward, even if the pull returned zero
// changes (spec §4.4 resume, Open Question decision in DESIGN.md).
func (e *Engine) ChangeSyncMode(ctx context.Context, mode Mode) error {
	e.mu.Lock()
	prior := e.mode
	e.mode = mode
	e.mu.Unlock()

	if prior != mode && mode == ModeRealtimePushPull {
		if err := e.PushPull(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PushPull runs one push-pull round trip: send every pending local
// change, then apply whatever the server sends back. In
// ModeRealtimePushOnly the response is still fetched (so checkpoints
// stay monotone) but its Changes are discarded before ApplyChangePack
// runs, per the Open Question decision: tombstones created while
// push-only stay live until a real push-pull (spec §9).
func (e *Engine) PushPull(ctx context.Context) error {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	mode := e.Mode()

	local := change.NewChangePack(e.doc.Key(), e.doc.Checkpoint())
	local.Changes = e.doc.PendingChanges()
	local.MinSyncedVersionVector = e.doc.MinSyncedVersionVector()

	remote, err := e.withAuthRetry(ctx, func(ctx context.Context) (*change.ChangePack, error) {
		return e.tr.PushPull(ctx, e.clientID, local)
	})
	if err != nil {
		e.doc.Emit(document.Event{Type: document.EventSyncStatusChanged, Value: document.SyncStatusNotSynced, Err: err})
		return errors.Wrap(err, "sync: push-pull")
	}

	if mode == ModeRealtimePushOnly {
		remote.Changes = nil
		remote.Snapshot = nil
		remote.MinSyncedVersionVector = nil
	}

	if err := e.doc.ApplyChangePack(remote); err != nil {
		e.doc.Emit(document.Event{Type: document.EventSyncStatusChanged, Value: document.SyncStatusNotSynced, Err: err})
		return err
	}
	e.doc.Emit(document.Event{Type: document.EventSyncStatusChanged, Value: document.SyncStatusSynced})
	return nil
}

// withAuthRetry runs fn once, and if it fails in a way the classifier
// calls Unauthenticated, refreshes the token via authInject and retries
// fn exactly once more (spec §7).
func (e *Engine) withAuthRetry(ctx context.Context, fn func(context.Context) (*change.ChangePack, error)) (*change.ChangePack, error) {
	pack, err := fn(ctx)
	if err == nil {
		return pack, nil
	}
	if e.classify(err) != ErrorClassUnauthenticated || e.authInject == nil {
		return nil, err
	}
	reason := err.Error()
	var unauth *transport.UnauthenticatedError
	if stderrors.As(err, &unauth) {
		reason = unauth.Reason
	}
	if _, refreshErr := e.authInject(ctx, reason); refreshErr != nil {
		e.doc.Emit(document.Event{Type: document.EventAuthError, Err: refreshErr})
		return nil, errors.Wrap(refreshErr, "sync: auth token refresh failed")
	}
	return fn(ctx)
}

// pushPullLoop runs PushPull on e.interval until ctx is canceled,
// backing off from e.retryDelay (doubling, capped at 8x) on transient
// errors so a flaky network doesn't spin.
func (e *Engine) pushPullLoop(ctx context.Context) error {
	backoff := e.interval
	const maxBackoffMultiplier = 8

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		mode := e.Mode()
		if mode != ModeRealtimePushPull && mode != ModeRealtimePushOnly {
			// Manual and sync-off rounds do nothing; the loop keeps
			// ticking so a later ChangeSyncMode picks back up.
			timer.Reset(e.interval)
			continue
		}

		if err := e.PushPull(ctx); err != nil {
			if e.classify(err) == ErrorClassPermanent {
				return err
			}
			if backoff < e.retryDelay {
				backoff = e.retryDelay
			} else {
				backoff = time.Duration(math.Min(float64(backoff*2), float64(e.retryDelay*maxBackoffMultiplier)))
			}
			e.logger.Warn("push-pull failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
		} else {
			backoff = e.interval
		}
		timer.Reset(backoff)
	}
}

// watchLoop keeps a server watch stream open, turning change
// notifications into out-of-cycle push-pull rounds and surfacing
// broadcasts as they arrive, reconnecting with backoff whenever the
// stream ends (spec §4.4, §7 watch-stream reconnection).
func (e *Engine) watchLoop(ctx context.Context) error {
	backoff := e.reconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		if e.Mode() != ModeRealtimePushPull {
			// Only push-pull mode holds a watch stream open; other modes
			// idle until the next mode check.
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			continue
		}

		events, err := e.tr.Watch(ctx, e.clientID, e.doc.Key())
		if err != nil {
			if e.classify(err) == ErrorClassPermanent {
				return err
			}
			e.logger.Warn("watch stream failed to open, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = e.reconnectDelay
		e.doc.Emit(document.Event{Type: document.EventStreamConnectionStatusChanged, Value: document.StreamConnected})

	drain:
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					break drain
				}
				if evt.Err != nil {
					e.logger.Warn("watch stream event error, reconnecting", zap.Error(evt.Err))
					break drain
				}
				if evt.ChangePack != nil && e.Mode() == ModeRealtimePushPull {
					// A watch notification is a trigger, not a payload:
					// it provokes an out-of-cycle push-pull, which is
					// also what advances this client's server-side
					// cursor (spec §4.4).
					if err := e.PushPull(ctx); err != nil {
						e.logger.Warn("out-of-cycle push-pull failed", zap.Error(err))
					}
				}
				if evt.Broadcast != nil {
					e.doc.Emit(document.Event{Type: document.EventBroadcast, Value: evt.Broadcast})
				}
			case <-ctx.Done():
				// Stop drains the event channel in the background so a
				// server that only closes it on DetachDocument (called
				// after Stop returns) can't deadlock this goroutine.
				go drainUntilClosed(events)
				e.doc.Emit(document.Event{Type: document.EventStreamConnectionStatusChanged, Value: document.StreamDisconnected})
				return nil
			}
		}
		e.doc.Emit(document.Event{Type: document.EventStreamConnectionStatusChanged, Value: document.StreamDisconnected})

		if ctx.Err() != nil {
			return nil
		}
		// Reconnect after the stream delay whether the stream ended
		// cleanly or not; a server that closes streams promptly must not
		// turn this into a hot loop.
		if !sleepOrDone(ctx, backoff) {
			return nil
		}
	}
}

// drainUntilClosed discards events from a watch channel whose owning
// context has already ended, so the server-side sender never blocks on
// a full, abandoned channel while waiting to notice the client detached.
func drainUntilClosed(events <-chan transport.WatchEvent) {
	for range events {
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
