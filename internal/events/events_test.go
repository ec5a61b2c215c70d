package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := New("/repo", "installing", StatusStarted, "Installing dependencies", map[string]any{"manager": "npm"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, Component, e.Component)
	assert.Equal(t, "/repo", e.Project)
	assert.Equal(t, "npm", e.Metadata["manager"])
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Minute)

	other := New("/repo", "installing", StatusStarted, "", nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	e := New("/repo", "patching", StatusCompleted, "Route injected", nil)
	b.Publish(e)

	assert.Equal(t, e.ID, (<-s1).ID)
	assert.Equal(t, e.ID, (<-s2).ID)

	b.Unsubscribe(s1)
	_, open := <-s1
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBrokerDoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(New("/repo", "starting", StatusStarted, "", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub, 1)
	assert.Equal(t, uint64(9), b.Dropped())
}

func TestMultiSkipsNilSinks(t *testing.T) {
	var mu sync.Mutex
	var got []string
	record := SinkFunc(func(e Event) {
		mu.Lock()
		got = append(got, e.Phase)
		mu.Unlock()
	})

	sink := Multi(record, nil, Discard, record)
	sink.Publish(New("/repo", "ready", StatusCompleted, "", nil))

	assert.Equal(t, []string{"ready", "ready"}, got)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogSink(logger).Publish(New("/repo", "installing", StatusFailed, "install failed", nil))

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, `msg="install failed"`)
	assert.Contains(t, out, "phase=installing")
	assert.Contains(t, out, "project=/repo")
}

func TestNATSSinkPublishes(t *testing.T) {
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	server := natstest.RunServer(&opts)
	defer server.Shutdown()

	sink, err := NewNATSSink(NATSConfig{URL: server.ClientURL()}, nil)
	require.NoError(t, err)
	defer sink.Close()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(DefaultSubjectPrefix+".>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	e := New("/repo", "waiting_for_readiness", StatusCompleted, "Server ready", map[string]any{"port": 4200})
	sink.Publish(e)
	require.NoError(t, sink.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "agentivy.devserver.waiting_for_readiness", msg.Subject)

		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, "Server ready", got.Message)
		assert.EqualValues(t, 4200, got.Metadata["port"])
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNATSSinkConnectFailure(t *testing.T) {
	_, err := NewNATSSink(NATSConfig{URL: "nats://127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestNATSSinkSubject(t *testing.T) {
	s := &NATSSink{config: NATSConfig{SubjectPrefix: "ivy"}}
	assert.Equal(t, "ivy.installing", s.Subject("installing"))
	assert.Equal(t, "ivy.unknown", s.Subject(""))
	assert.Equal(t, "ivy.finding_port", s.Subject("finding port"))
}
