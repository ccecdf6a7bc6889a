package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/tasklog"
)

func TestBusPublishHandle(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)

	received := make(chan *Envelope, 1)
	bus.Handle(TaskUpdate, func(ctx context.Context, env *Envelope) error {
		received <- env
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Start(ctx)
	}()
	<-bus.Running()

	err = bus.Publish(ctx, "task-1", TaskUpdateData{
		TaskID:     "task-1",
		FromStatus: "planned",
		ToStatus:   "in_progress",
	})
	require.NoError(t, err)

	select {
	case env := <-received:
		require.Equal(t, TaskUpdate, env.Type)
		require.Equal(t, "task-1", env.TaskID)
		var data TaskUpdateData
		require.NoError(t, json.Unmarshal(env.Payload, &data))
		require.Equal(t, "in_progress", data.ToStatus)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusSubscribeRaw(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, CLIOutput)
	require.NoError(t, err)

	go func() {
		_ = bus.Start(ctx)
	}()
	<-bus.Running()

	data := FromLogEntry(&tasklog.Entry{
		TaskID:    "task-2",
		Seq:       7,
		Kind:      tasklog.KindStdout,
		Message:   "hello",
		CreatedAt: time.Now(),
	})
	require.NoError(t, bus.Publish(ctx, "task-2", data))

	select {
	case msg := <-ch:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg.Payload, &env))
		require.Equal(t, CLIOutput, env.Type)
		var got CLIOutputData
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		require.Equal(t, uint64(7), got.Seq)
		require.Equal(t, "hello", got.Message)
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)

	taskEvents := make(chan *Envelope, 1)
	bus.Handle(TaskUpdate, func(ctx context.Context, env *Envelope) error {
		taskEvents <- env
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Start(ctx)
	}()
	<-bus.Running()

	require.NoError(t, bus.Publish(ctx, "", AgentStatusData{
		AgentID:    "agent-1",
		FromStatus: "idle",
		ToStatus:   "working",
	}))

	select {
	case <-taskEvents:
		t.Fatal("task_update handler received an agent_status event")
	case <-time.After(200 * time.Millisecond):
	}
}
