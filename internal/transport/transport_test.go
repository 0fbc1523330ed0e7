package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePeer wires two transports back to back over in-memory pipes, like a
// real parent/child stdio pair.
type pipePeer struct {
	client *Transport
	server *Transport
}

func newPipePeer(t *testing.T) *pipePeer {
	t.Helper()
	cr, cw := io.Pipe()
	sr, sw := io.Pipe()

	client := New(sr, cw, io.NopCloser(nil))
	server := New(cr, sw, io.NopCloser(nil))

	ctx := context.Background()
	client.Start(ctx)
	server.Start(ctx)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	return &pipePeer{client: client, server: server}
}

func TestSendRequestRoundTrip(t *testing.T) {
	p := newPipePeer(t)

	var gotMethod string
	var gotID *int64
	p.server.SetHandler(func(id *int64, method string, params json.RawMessage) {
		gotMethod = method
		gotID = id
		var args struct {
			X int `json:"x"`
		}
		_ = json.Unmarshal(params, &args)
		_ = p.server.SendMessage(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(fmt.Sprintf(`{"y":%d}`, args.X*2))})
	})

	var result struct {
		Y int `json:"y"`
	}
	err := p.client.SendRequest(context.Background(), "double", map[string]int{"x": 21}, 2*time.Second, &result)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Y)
	assert.Equal(t, "double", gotMethod)
	require.NotNil(t, gotID)
}

func TestSendRequestTimeoutDoesNotPoisonPeer(t *testing.T) {
	p := newPipePeer(t)

	p.server.SetHandler(func(id *int64, method string, params json.RawMessage) {
		if method == "slow" {
			time.Sleep(200 * time.Millisecond)
			_ = p.server.SendMessage(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`{}`)})
			return
		}
		_ = p.server.SendMessage(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`{"ok":true}`)})
	})

	err := p.client.SendRequest(context.Background(), "slow", nil, 50*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrTimeout)

	var result struct {
		OK bool `json:"ok"`
	}
	err = p.client.SendRequest(context.Background(), "fast", nil, 2*time.Second, &result)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestNotificationDeliveredInOrder(t *testing.T) {
	p := newPipePeer(t)

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	p.server.SetHandler(func(id *int64, method string, params json.RawMessage) {
		var n int
		_ = json.Unmarshal(params, &n)
		mu.Lock()
		seen = append(seen, n)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 1; i <= 3; i++ {
		require.NoError(t, p.client.SendNotification("tick", i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifications not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRejectAllPendingFailsOutstandingRequest(t *testing.T) {
	p := newPipePeer(t)
	p.server.SetHandler(func(id *int64, method string, params json.RawMessage) {
		// never reply
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.client.SendRequest(context.Background(), "neverReplies", nil, 5*time.Second, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	p.client.RejectAllPending(ErrShutdown)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected")
	}
}

func TestEmptyResultListIsNotAnError(t *testing.T) {
	p := newPipePeer(t)
	p.server.SetHandler(func(id *int64, method string, params json.RawMessage) {
		_ = p.server.SendMessage(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`[]`)})
	})

	var locations []json.RawMessage
	err := p.client.SendRequest(context.Background(), "textDocument/definition", nil, time.Second, &locations)
	require.NoError(t, err)
	assert.Empty(t, locations)
}
