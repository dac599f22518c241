package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmit_DropsWhenBusRingIsFull(t *testing.T) {
	bus := make(chan Event) // unbuffered, nothing draining it
	require.NotPanics(t, func() { emit(bus, Event{Kind: EventError}) })
}

func TestEmit_NilBusIsNoop(t *testing.T) {
	require.NotPanics(t, func() { emit(nil, Event{Kind: EventError}) })
}

func TestLimiter_EmitPing(t *testing.T) {
	l := newTestLimiter(t)
	<-l.Events() // drain the ready event emitted by New

	l.EmitPing(PingSuccess, "node-1")
	ev := <-l.Events()
	require.Equal(t, EventPing, ev.Kind)
	require.Equal(t, PingSuccess, ev.Status)
	require.Equal(t, "node-1", ev.Node)
}

func TestEventKind_String(t *testing.T) {
	require.Equal(t, "ready", EventReady.String())
	require.Equal(t, "error", EventError.String())
	require.Equal(t, "node_error", EventNodeError.String())
	require.Equal(t, "ping", EventPing.String())
}

func TestPingStatus_String(t *testing.T) {
	require.Equal(t, "success", PingSuccess.String())
	require.Equal(t, "error", PingFailure.String())
	require.Equal(t, "reconnect", PingReconnect.String())
	require.Equal(t, "reconnect-dry-run", PingReconnectDryRun.String())
}
