package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	mu     sync.Mutex
	closed bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closeRecorder) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func registerClient(b *Broker, sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, 10),
		Done:      make(chan struct{}),
	}
	b.mu.Lock()
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)
	}
	b.clients[sessionID][client] = true
	b.mu.Unlock()
	return client
}

func TestBrokerConsume(t *testing.T) {
	t.Run("delivers each message once per client", func(t *testing.T) {
		b := NewBroker(nil)
		defer b.Close()
		client := registerClient(b, "s1")

		ch := make(chan *redis.Message, 2)
		go b.consume("s1", ch)

		ch <- &redis.Message{Payload: `{"type":"session_updated","data":{"id":"s1"}}`}

		select {
		case event := <-client.Events:
			assert.Equal(t, EventSessionUpdated, event.Type)
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}

		select {
		case <-client.Events:
			t.Fatal("event delivered twice")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("exits when the subscription channel closes", func(t *testing.T) {
		b := NewBroker(nil)
		defer b.Close()

		ch := make(chan *redis.Message)
		done := make(chan struct{})
		go func() {
			b.consume("s1", ch)
			close(done)
		}()

		close(ch)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("consumer did not exit on channel close")
		}
	})

	t.Run("skips malformed payloads", func(t *testing.T) {
		b := NewBroker(nil)
		defer b.Close()
		client := registerClient(b, "s1")

		ch := make(chan *redis.Message, 2)
		go b.consume("s1", ch)

		ch <- &redis.Message{Payload: `{broken`}
		ch <- &redis.Message{Payload: `{"type":"analysis_complete","data":{}}`}

		select {
		case event := <-client.Events:
			assert.Equal(t, EventAnalysisComplete, event.Type)
		case <-time.After(time.Second):
			t.Fatal("valid event after a malformed one was not delivered")
		}
	})
}

func TestBrokerUnsubscribe(t *testing.T) {
	t.Run("last client tears the redis subscription down", func(t *testing.T) {
		b := NewBroker(nil)
		client := registerClient(b, "s1")
		sub := &closeRecorder{}
		b.mu.Lock()
		b.subs["s1"] = sub
		b.mu.Unlock()

		b.Unsubscribe(client)

		assert.True(t, sub.isClosed())
		assert.Equal(t, 0, b.ClientCount("s1"))
		select {
		case <-client.Done:
		default:
			t.Fatal("client Done not closed")
		}
	})

	t.Run("earlier clients leave the subscription running", func(t *testing.T) {
		b := NewBroker(nil)
		first := registerClient(b, "s1")
		second := registerClient(b, "s1")
		sub := &closeRecorder{}
		b.mu.Lock()
		b.subs["s1"] = sub
		b.mu.Unlock()

		require.Equal(t, 2, b.ClientCount("s1"))
		b.Unsubscribe(first)

		assert.False(t, sub.isClosed())
		assert.Equal(t, 1, b.ClientCount("s1"))

		b.Unsubscribe(second)
		assert.True(t, sub.isClosed())
	})

	t.Run("close tears every subscription down", func(t *testing.T) {
		b := NewBroker(nil)
		client := registerClient(b, "s1")
		sub := &closeRecorder{}
		b.mu.Lock()
		b.subs["s1"] = sub
		b.mu.Unlock()

		b.Close()

		assert.True(t, sub.isClosed())
		assert.Equal(t, 0, b.TotalClients())
		select {
		case <-client.Done:
		default:
			t.Fatal("client Done not closed")
		}
	})
}
