package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSRelay_ForwardsHubEvents(t *testing.T) {
	url := startTestNATS(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("mc.events", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	relay, err := NewNATSRelay(url, "mc.events")
	require.NoError(t, err)
	defer relay.Close()

	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	Emit(hub, TaskCreated("tsk_9"))

	select {
	case msg := <-ch:
		require.JSONEq(t, `{"type":"task_created","task_id":"tsk_9"}`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
	require.Equal(t, 0, hub.Subscribers())
}

func TestNewNATSRelay_BadURL(t *testing.T) {
	_, err := NewNATSRelay("nats://127.0.0.1:1", "x", nats.MaxReconnects(0), nats.Timeout(200*time.Millisecond))
	require.Error(t, err)
}
