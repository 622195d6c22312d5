package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/docserver/docserver/internal/config"
	"github.com/docserver/docserver/internal/job"
	"github.com/docserver/docserver/internal/ws"
)

func TestWatchUploads(t *testing.T) {
	log, _ := test.NewNullLogger()
	watch := ws.NewServer(log)

	d := job.NewDispatcher(instant, job.WithLogger(log), job.WithObserver(watch.Publish))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	ts := httptest.NewServer(NewRouterWithWatch(&config.Config{}, d, log, nil, nil, watch))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/uploads", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ack ws.AckMessage
	require.NoError(t, wsjson.Read(ctx, conn, &ack))

	id, err := d.Submit(job.Request{Path: "a", User: "b"})
	require.NoError(t, err)

	var got []job.EventType
	for len(got) < 3 {
		var msg ws.EventMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		assert.Equal(t, "1", msg.UploadID)
		got = append(got, msg.Event)
	}
	assert.Equal(t, []job.EventType{job.EventQueued, job.EventRunning, job.EventFinished}, got)
	assert.Equal(t, uint64(1), id)
}
