package realtime

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/duetdate/planner-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event is one change-feed notification for a planning session. Data carries
// the full session row as pushed by the writer; subscribers overwrite their
// local copy with it rather than merging.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	EventSessionUpdated   = "session_updated"
	EventAnalysisComplete = "analysis_complete"
)

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Feed is the abstract change-feed capability: subscribe to the stream of
// full-row snapshots for one session id, tear down when done. The Redis
// broker implements it; tests substitute their own.
type Feed interface {
	Subscribe(sessionID string) *Client
	Unsubscribe(client *Client)
	ClientCount(sessionID string) int
}

// Publisher is the write half of the change feed.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, event Event) error
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // sessionID -> set of clients
	subs    map[string]io.Closer       // sessionID -> redis subscription
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ Feed = (*Broker)(nil)
var _ Publisher = (*Broker)(nil)

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]io.Closer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, 100),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)

		channel := redisclient.SessionChannel(sessionID)
		pubsub := b.redis.Subscribe(b.ctx, channel)
		b.subs[sessionID] = pubsub
		go b.consume(sessionID, pubsub.Channel())

		log.Debug().
			Str("sessionId", sessionID).
			Str("channel", channel).
			Msg("redis pubsub subscribed")
	}
	b.clients[sessionID][client] = true
	clientCount := len(b.clients[sessionID])
	b.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("session feed client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.SessionID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.SessionID)

			// Tear the Redis subscription down with the last client so a
			// later Subscribe starts exactly one fresh consumer.
			if sub, ok := b.subs[client.SessionID]; ok {
				delete(b.subs, client.SessionID)
				sub.Close()
			}
		}

		log.Info().
			Str("sessionId", client.SessionID).
			Int("clientCount", len(clients)).
			Msg("session feed client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

// consume pumps one session's Redis messages into the local client set. It
// exits when the subscription is closed (last client gone, or broker Close).
func (b *Broker) consume(sessionID string, ch <-chan *redis.Message) {
	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal session event")
				continue
			}

			b.broadcast(sessionID, event)
		}
	}
}

func (b *Broker) broadcast(sessionID string, event Event) {
	b.mu.RLock()
	clients := b.clients[sessionID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = make(map[string]io.Closer)

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
