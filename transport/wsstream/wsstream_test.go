package wsstream_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docengine/change"
	"docengine/logicaltime"
	"docengine/transport"
	"docengine/transport/memory"
	"docengine/transport/wsstream"

	"github.com/stretchr/testify/require"
)

func TestClientServerRelaysBroadcast(t *testing.T) {
	base := memory.NewServer()

	srv := wsstream.NewServer(base, nil)
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	ctx := context.Background()
	watcherID := logicaltime.NewActorID()
	publisherID := logicaltime.NewActorID()

	_, err := base.AttachDocument(ctx, watcherID, "doc-1", change.NewChangePack("doc-1", logicaltime.InitialCheckpoint))
	require.NoError(t, err)
	_, err = base.AttachDocument(ctx, publisherID, "doc-1", change.NewChangePack("doc-1", logicaltime.InitialCheckpoint))
	require.NoError(t, err)

	client := wsstream.NewClient(base, wsURL, nil)
	events, err := client.Watch(ctx, watcherID, "doc-1")
	require.NoError(t, err)

	require.NoError(t, base.Broadcast(ctx, publisherID, "doc-1", "cursor", []byte(`{"x":1}`)))

	select {
	case evt := <-events:
		require.NoError(t, evt.Err)
		require.NotNil(t, evt.Broadcast)
		require.Equal(t, "cursor", evt.Broadcast.Topic)
		require.Equal(t, publisherID, evt.Broadcast.From)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast over websocket")
	}
}

var _ transport.Transport = (*wsstream.Client)(nil)
