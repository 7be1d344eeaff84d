package realtime_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/realtime"
)

func recv(t *testing.T, s *realtime.Subscriber) realtime.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.Event{}
	}
}

func assertNoEvent(t *testing.T, s *realtime.Subscriber) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_RoutesByWorkflow(t *testing.T) {
	hub := realtime.NewHub(nil)
	a := hub.Subscribe(4)
	b := hub.Subscribe(4)
	global := hub.Subscribe(4)
	a.Join("sale-conversion")
	b.Join("other")
	global.Join("")

	hub.Publish(realtime.Event{Type: realtime.NodeExecuting, WorkflowID: "sale-conversion"})

	ev := recv(t, a)
	assert.Equal(t, realtime.NodeExecuting, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "sale-conversion", recv(t, global).WorkflowID)
	assertNoEvent(t, b)
}

func TestHub_NotJoinedReceivesNothing(t *testing.T) {
	hub := realtime.NewHub(nil)
	s := hub.Subscribe(1)
	hub.Publish(realtime.Event{WorkflowID: "x"})
	assertNoEvent(t, s)

	s.Join("x")
	s.Leave("x")
	hub.Publish(realtime.Event{WorkflowID: "x"})
	assertNoEvent(t, s)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := realtime.NewHub(nil)
	s := hub.Subscribe(1)
	s.Join("")

	done := make(chan struct{})
	go func() {
		for range 5 {
			hub.Publish(realtime.Event{WorkflowID: "w"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, 4, s.Dropped())
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := realtime.NewHub(nil)
	s := hub.Subscribe(1)
	require.Equal(t, 1, hub.Len())

	hub.Unsubscribe(s)
	hub.Unsubscribe(s)
	assert.Equal(t, 0, hub.Len())
	_, ok := <-s.Events()
	assert.False(t, ok)

	hub.Publish(realtime.Event{WorkflowID: "w"})
}

func TestHub_CloseUnsubscribesEveryone(t *testing.T) {
	hub := realtime.NewHub(nil)
	a, b := hub.Subscribe(1), hub.Subscribe(1)
	hub.Close()

	assert.Equal(t, 0, hub.Len())
	for _, s := range []*realtime.Subscriber{a, b} {
		_, ok := <-s.Events()
		assert.False(t, ok)
	}
}

func TestExecution_Lifecycle(t *testing.T) {
	hub := realtime.NewHub(nil)
	s := hub.Subscribe(16)
	s.Join("conv")

	exec := hub.Start("conv", nil)
	require.NoError(t, exec.Node("create", func() error { return nil }))
	err := exec.Node("notify", func() error { return errors.New("smtp down") })
	require.Error(t, err)

	types := []realtime.EventType{}
	for range 5 {
		ev := recv(t, s)
		assert.Equal(t, exec.ID, ev.ExecutionID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []realtime.EventType{
		realtime.ExecutionStarted,
		realtime.NodeExecuting, realtime.NodeCompleted,
		realtime.NodeExecuting, realtime.ExecutionError,
	}, types)
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *realtime.Hub
	hub.Publish(realtime.Event{})
	exec := hub.Start("w", nil)
	exec.Complete(nil)
}
