package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// Hub fans live metric snapshots out to websocket clients. With a redis
// client attached, snapshots also travel over pub/sub so clients attached
// to another instance see them too.
type Hub struct {
	redis   *redis.Client
	log     *zap.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// BroadcastSnapshot marshals an engine snapshot and fans it out; it is
// wired as an engine subscriber so it must never block.
func (h *Hub) BroadcastSnapshot(snap session.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.Warn("snapshot marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(snap.SessionID, payload)
}

func (h *Hub) Broadcast(sessionID string, payload []byte) {
	// with redis attached, local delivery happens through the pub/sub
	// loop so clients get each frame exactly once across instances
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err != nil {
			h.log.Warn("redis publish failed", zap.Error(err))
			h.deliver(sessionID, payload)
		}
		return
	}
	h.deliver(sessionID, payload)
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	// the read lock is held across the sends so a concurrent Unregister
	// cannot close a channel mid-fan-out; sends never block
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
			// slow readers drop frames rather than stall the engine
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "metrics:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(sessionIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func redisChannel(sessionID string) string {
	return "metrics:" + sessionID + ":live"
}

func sessionIDFromChannel(ch string) string {
	// metrics:{session}:live
	const prefix = "metrics:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
