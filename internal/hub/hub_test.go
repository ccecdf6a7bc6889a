package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/tasklog"
)

type testHub struct {
	hub  *Hub
	bus  *event.Bus
	logs *tasklog.Store
	srv  *httptest.Server
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	logs, err := tasklog.NewStore(t.TempDir())
	require.NoError(t, err)
	bus, err := event.NewBus(nil)
	require.NoError(t, err)

	h := New(bus, logs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()
	go func() { _ = bus.Start(ctx) }()
	<-bus.Running()

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return &testHub{hub: h, bus: bus, logs: logs, srv: srv}
}

func (th *testHub) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(th.srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *event.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestHubDeliversEvents(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "")

	// Give the register roundtrip a moment to land.
	time.Sleep(50 * time.Millisecond)

	err := th.bus.Publish(context.Background(), "task-a", event.TaskUpdateData{
		TaskID:     "task-a",
		FromStatus: "planned",
		ToStatus:   "in_progress",
	})
	require.NoError(t, err)

	env := readEnvelope(t, conn)
	require.Equal(t, event.TaskUpdate, env.Type)
	require.Equal(t, "task-a", env.TaskID)
}

func TestHubTaskFilter(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "?task_id=task-b")
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	require.NoError(t, th.bus.Publish(ctx, "task-a", event.TaskUpdateData{TaskID: "task-a", ToStatus: "review"}))
	require.NoError(t, th.bus.Publish(ctx, "task-b", event.TaskUpdateData{TaskID: "task-b", ToStatus: "review"}))

	// Only the matching task's event arrives.
	env := readEnvelope(t, conn)
	require.Equal(t, "task-b", env.TaskID)
}

func TestHubReplay(t *testing.T) {
	th := newTestHub(t)

	for i := 0; i < 3; i++ {
		_, err := th.logs.Append("task-c", tasklog.KindStdout, "historical line")
		require.NoError(t, err)
	}

	conn := th.dial(t, "?task_id=task-c&replay=2")

	first := readEnvelope(t, conn)
	require.Equal(t, event.CLIOutput, first.Type)
	var data event.CLIOutputData
	require.NoError(t, json.Unmarshal(first.Payload, &data))
	require.Equal(t, uint64(2), data.Seq)

	second := readEnvelope(t, conn)
	require.NoError(t, json.Unmarshal(second.Payload, &data))
	require.Equal(t, uint64(3), data.Seq)
}

func TestHubMultipleObservers(t *testing.T) {
	th := newTestHub(t)
	conn1 := th.dial(t, "")
	conn2 := th.dial(t, "")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, th.bus.Publish(context.Background(), "task-d", event.AgentStatusData{
		AgentID:  "agent-1",
		TaskID:   "task-d",
		ToStatus: "working",
	}))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		require.Equal(t, event.AgentStatus, env.Type)
	}
}
