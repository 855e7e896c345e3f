package progress

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

type frame struct {
	event string
	body  Event
}

func (s *syncBuffer) frames(t *testing.T) []frame {
	s.mu.Lock()
	raw := s.buf.String()
	s.mu.Unlock()

	var out []frame
	for _, block := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2)
		var body Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &body))
		out = append(out, frame{event: strings.TrimPrefix(lines[0], "event: "), body: body})
	}
	return out
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, stderrors.New("broken pipe")
}

func TestHistoryIsBounded(t *testing.T) {
	bus := NewBus(Config{MaxHistory: 5}, nil)

	for i := 0; i < 12; i++ {
		bus.Emit("extraction:progress", i)
	}

	history := bus.History(0, "")
	require.Len(t, history, 5)
	for i, event := range history {
		assert.Equal(t, uint64(8+i), event.ID)
		assert.Equal(t, 7+i, event.Data)
	}
}

func TestHistoryFiltersByPrefix(t *testing.T) {
	bus := NewBus(Config{}, nil)

	bus.Emit("extraction:start", nil)
	bus.Emit("migration:start", nil)
	bus.Emit("extraction:complete", nil)
	bus.Emit("migration:complete", nil)
	bus.Emit("extraction:error", nil)

	history := bus.History(2, "extraction:")
	require.Len(t, history, 2)
	assert.Equal(t, "extraction:complete", history[0].Type)
	assert.Equal(t, "extraction:error", history[1].Type)
	assert.Less(t, history[0].ID, history[1].ID)
}

func TestListenersReceiveInOrder(t *testing.T) {
	bus := NewBus(Config{}, nil)
	var got []uint64
	bus.AddListener(func(e Event) { got = append(got, e.ID) })
	bus.AddListener(func(e Event) { panic("listener bug") })

	for i := 0; i < 3; i++ {
		bus.Emit("system:status", nil)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestConnectSSEReplayThenLive(t *testing.T) {
	bus := NewBus(Config{}, nil)
	for i := 0; i < 30; i++ {
		bus.Emit("extraction:progress", map[string]int{"n": i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &syncBuffer{}
	sub := bus.ConnectSSE(ctx, w, SSEOptions{ReplayCount: 5})

	require.Eventually(t, func() bool { return len(w.frames(t)) == 6 }, time.Second, 5*time.Millisecond)

	bus.Emit("extraction:complete", nil)
	require.Eventually(t, func() bool { return len(w.frames(t)) == 7 }, 100*time.Millisecond, 2*time.Millisecond)

	frames := w.frames(t)
	assert.Equal(t, EventConnected, frames[0].event)
	assert.Equal(t, sub.ClientID, frames[0].body.Data.(map[string]interface{})["clientId"])

	for i := 1; i <= 5; i++ {
		assert.Equal(t, "extraction:progress", frames[i].event)
		assert.Equal(t, uint64(25+i), frames[i].body.ID)
	}
	assert.Equal(t, "extraction:complete", frames[6].event)
	assert.Equal(t, uint64(31), frames[6].body.ID)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish after cancel")
	}
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestFailingSubscriberIsDetached(t *testing.T) {
	bus := NewBus(Config{}, nil)
	ctx := context.Background()

	bad := bus.ConnectSSE(ctx, failingWriter{}, SSEOptions{})
	good := &syncBuffer{}
	bus.ConnectSSE(ctx, good, SSEOptions{})

	select {
	case <-bad.Done():
	case <-time.After(time.Second):
		t.Fatal("failing subscriber was not detached")
	}
	require.Error(t, bad.Err())

	for i := 0; i < 3; i++ {
		bus.Emit("migration:progress", i)
	}
	require.Eventually(t, func() bool { return len(good.frames(t)) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestSubscriberPrefixFilter(t *testing.T) {
	bus := NewBus(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &syncBuffer{}
	bus.ConnectSSE(ctx, w, SSEOptions{TypePrefix: "migration:"})

	bus.Emit("extraction:start", nil)
	bus.Emit("migration:start", nil)

	require.Eventually(t, func() bool { return len(w.frames(t)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "migration:start", w.frames(t)[1].event)
}

func TestWriteSSEFormat(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteSSE(&buf, Event{ID: 7, Type: "system:health", Data: "ok", Timestamp: ts}))

	want := fmt.Sprintf("event: system:health\ndata: %s\n\n",
		`{"id":7,"type":"system:health","data":"ok","timestamp":"2024-01-02T03:04:05Z"}`)
	assert.Equal(t, want, buf.String())
}
