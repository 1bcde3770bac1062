package sync_test

import (
	"context"
	"testing"
	"time"

	"docengine/change"
	"docengine/document"
	"docengine/logicaltime"
	"docengine/sync"
	"docengine/transport"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a minimal in-memory Transport stub for exercising the
// sync engine without a real server.
type fakeTransport struct {
	pushPullFunc func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error)
	watchFunc    func(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error)
	pushPullCalls int
}

func (f *fakeTransport) ActivateClient(ctx context.Context, clientKey string) (*transport.ActivateClientResponse, error) {
	return &transport.ActivateClientResponse{}, nil
}
func (f *fakeTransport) DeactivateClient(ctx context.Context, clientID logicaltime.ActorID) error {
	return nil
}
func (f *fakeTransport) AttachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string, initial *change.ChangePack) (*transport.AttachDocumentResponse, error) {
	return &transport.AttachDocumentResponse{ChangePack: initial}, nil
}
func (f *fakeTransport) DetachDocument(ctx context.Context, clientID logicaltime.ActorID, docKey string) error {
	return nil
}
func (f *fakeTransport) PushPull(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
	f.pushPullCalls++
	if f.pushPullFunc != nil {
		return f.pushPullFunc(ctx, clientID, local)
	}
	return change.NewChangePack(local.DocKey, local.Checkpoint), nil
}
func (f *fakeTransport) Watch(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error) {
	if f.watchFunc != nil {
		return f.watchFunc(ctx, clientID, docKey)
	}
	ch := make(chan transport.WatchEvent)
	close(ch)
	return ch, nil
}
func (f *fakeTransport) Broadcast(ctx context.Context, clientID logicaltime.ActorID, docKey, topic string, payload []byte) error {
	return nil
}

func newTestDoc() *document.Document {
	return document.New("doc-1", logicaltime.NewActorID())
}

func TestPushPullEmitsSyncedOnSuccess(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID())

	require.NoError(t, engine.PushPull(context.Background()))

	select {
	case evt := <-doc.Events():
		assert.Equal(t, document.EventSyncStatusChanged, evt.Type)
		assert.Equal(t, document.SyncStatusSynced, evt.Value)
	default:
		t.Fatal("expected a sync status event")
	}
}

func TestPushPullEmitsNotSyncedOnTransportFailure(t *testing.T) {
	doc := newTestDoc()
	wantErr := errors.New("network down")
	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			return nil, wantErr
		},
	}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID())

	err := engine.PushPull(context.Background())
	assert.Error(t, err)

	select {
	case evt := <-doc.Events():
		assert.Equal(t, document.EventSyncStatusChanged, evt.Type)
		assert.Equal(t, document.SyncStatusNotSynced, evt.Value)
		assert.Error(t, evt.Err)
	default:
		t.Fatal("expected a sync status event")
	}
}

func TestPushPullOnPushOnlyModeDiscardsRemoteChangesAndSnapshot(t *testing.T) {
	doc := newTestDoc()
	actor := logicaltime.NewActorID()

	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			remote := change.NewChangePack(local.DocKey, local.Checkpoint)
			remote.Snapshot = []byte("ignored")
			return remote, nil
		},
	}
	engine := sync.NewEngine(doc, tr, actor)
	require.NoError(t, engine.Start(context.Background(), sync.ModeRealtimePushOnly))
	defer engine.Stop()

	require.NoError(t, engine.PushPull(context.Background()))
}

func TestWithAuthRetryRefreshesTokenOnUnauthenticatedThenRetries(t *testing.T) {
	doc := newTestDoc()
	calls := 0
	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("unauthenticated")
			}
			return change.NewChangePack(local.DocKey, local.Checkpoint), nil
		},
	}

	refreshed := false
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID(),
		sync.WithClassifier(func(err error) sync.ErrorClass { return sync.ErrorClassUnauthenticated }),
		sync.WithAuthTokenInjector(func(ctx context.Context, reason string) (string, error) {
			refreshed = true
			return "fresh-token", nil
		}),
	)

	require.NoError(t, engine.PushPull(context.Background()))
	assert.True(t, refreshed)
	assert.Equal(t, 2, calls, "fn must be retried exactly once after a successful refresh")
}

func TestWithAuthRetryEmitsAuthErrorWhenRefreshFails(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			return nil, errors.New("unauthenticated")
		},
	}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID(),
		sync.WithClassifier(func(err error) sync.ErrorClass { return sync.ErrorClassUnauthenticated }),
		sync.WithAuthTokenInjector(func(ctx context.Context, reason string) (string, error) {
			return "", errors.New("refresh token expired")
		}),
	)

	err := engine.PushPull(context.Background())
	assert.Error(t, err)

	var sawAuthError, sawNotSynced bool
	for {
		select {
		case evt := <-doc.Events():
			if evt.Type == document.EventAuthError {
				sawAuthError = true
				assert.Error(t, evt.Err)
			}
			if evt.Type == document.EventSyncStatusChanged {
				sawNotSynced = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawAuthError)
	assert.True(t, sawNotSynced)
}

func TestChangeSyncModeFromPushOnlyToPushPullTriggersCatchUpPull(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID())

	require.NoError(t, engine.Start(context.Background(), sync.ModeRealtimePushOnly))
	defer engine.Stop()

	before := tr.pushPullCalls
	require.NoError(t, engine.ChangeSyncMode(context.Background(), sync.ModeRealtimePushPull))
	assert.Greater(t, tr.pushPullCalls, before)
	assert.Equal(t, sync.ModeRealtimePushPull, engine.Mode())
}

func TestStartThenStopTerminatesBackgroundLoops(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID(), sync.WithInterval(10*time.Millisecond))

	require.NoError(t, engine.Start(context.Background(), sync.ModeRealtimePushPull))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, engine.Stop())

	// starting again after a clean stop must succeed.
	require.NoError(t, engine.Start(context.Background(), sync.ModeManual))
	require.NoError(t, engine.Stop())
}

func TestStartTwiceWithoutStopFails(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID())

	require.NoError(t, engine.Start(context.Background(), sync.ModeManual))
	defer engine.Stop()

	assert.Error(t, engine.Start(context.Background(), sync.ModeManual))
}

func TestWatchLoopEmitsStreamConnectedAndDisconnected(t *testing.T) {
	doc := newTestDoc()

	tr := &fakeTransport{
		watchFunc: func(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error) {
			events := make(chan transport.WatchEvent)
			// the stream stays open until the caller cancels, like a real
			// long-lived watch connection would.
			go func() {
				<-ctx.Done()
				close(events)
			}()
			return events, nil
		},
	}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx, sync.ModeRealtimePushPull))

	deadline := time.After(time.Second)
	var sawConnected bool
	for !sawConnected {
		select {
		case evt := <-doc.Events():
			if evt.Type == document.EventStreamConnectionStatusChanged && evt.Value == document.StreamConnected {
				sawConnected = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for the stream connected event")
		}
	}

	cancel()
	require.NoError(t, engine.Stop())

	var sawDisconnected bool
	deadline = time.After(time.Second)
	for !sawDisconnected {
		select {
		case evt := <-doc.Events():
			if evt.Type == document.EventStreamConnectionStatusChanged && evt.Value == document.StreamDisconnected {
				sawDisconnected = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for the stream disconnected event")
		}
	}
}

func TestDefaultClassifierRecognizesTypedTransportErrors(t *testing.T) {
	doc := newTestDoc()

	unauthCalls := 0
	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			unauthCalls++
			if unauthCalls == 1 {
				return nil, &transport.UnauthenticatedError{Reason: "expired token", Method: "PushPullChanges"}
			}
			return change.NewChangePack(local.DocKey, local.Checkpoint), nil
		},
	}

	var gotReason string
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID(),
		sync.WithAuthTokenInjector(func(ctx context.Context, reason string) (string, error) {
			gotReason = reason
			return "fresh", nil
		}),
	)

	require.NoError(t, engine.PushPull(context.Background()))
	assert.Equal(t, "expired token", gotReason,
		"the injector must receive the server's reason, not the wrapped error text")
}

func TestPushPullLoopTerminatesOnFailedPrecondition(t *testing.T) {
	doc := newTestDoc()
	tr := &fakeTransport{
		pushPullFunc: func(ctx context.Context, clientID logicaltime.ActorID, local *change.ChangePack) (*change.ChangePack, error) {
			return nil, &transport.FailedPreconditionError{Method: "PushPullChanges", Detail: "document is removed"}
		},
	}
	engine := sync.NewEngine(doc, tr, logicaltime.NewActorID(), sync.WithInterval(5*time.Millisecond))

	require.NoError(t, engine.Start(context.Background(), sync.ModeRealtimePushOnly))
	time.Sleep(30 * time.Millisecond)

	err := engine.Stop()
	assert.Error(t, err, "the loop must surface the permanent error instead of retrying forever")
	calls := tr.pushPullCalls
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, tr.pushPullCalls, "no further push-pulls after termination")
}
