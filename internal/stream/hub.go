package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"backend-safetrack/internal/logger"
	"backend-safetrack/internal/points"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "safety:points:"

// Hub fans live point updates out to websocket clients. With redis
// configured every instance receives every broadcast through pub/sub;
// without it delivery stays in-process.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type Client struct {
	ChannelID string
	Send      chan []byte
}

// PointsMessage is the frame pushed to followers of an event or session.
type PointsMessage struct {
	Type      string         `json:"type"`
	ChannelID string         `json:"channel_id"`
	Points    []points.Point `json:"points"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.done = make(chan struct{})
		pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*")
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Warn("redis subscribe failed, live updates stay local", zap.Error(err))
		}
		go h.subscribeRedis(ctx, pubsub)
	}
	return h
}

func (h *Hub) Register(channelID string) *Client {
	client := &Client{
		ChannelID: channelID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[channelID] == nil {
		h.clients[channelID] = map[*Client]struct{}{}
	}
	h.clients[channelID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if channelClients, ok := h.clients[client.ChannelID]; ok {
		if _, registered := channelClients[client]; !registered {
			return
		}
		delete(channelClients, client)
		if len(channelClients) == 0 {
			delete(h.clients, client.ChannelID)
		}
		close(client.Send)
	}
}

// Broadcast delivers payload to every follower of channelID. A failed redis
// publish falls back to local delivery.
func (h *Hub) Broadcast(channelID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(channelID), payload).Err()
		if err == nil {
			return
		}
		logger.Warn("redis publish failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	h.deliver(channelID, payload)
}

func (h *Hub) BroadcastPoints(channelID string, batch []points.Point) {
	payload, err := json.Marshal(PointsMessage{Type: "points", ChannelID: channelID, Points: batch})
	if err != nil {
		logger.Error(err, zap.String("channel_id", channelID))
		return
	}
	h.Broadcast(channelID, payload)
}

// Close stops the redis subscriber.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

func (h *Hub) deliver(channelID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[channelID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if channelID := channelIDFromRedis(msg.Channel); channelID != "" {
				h.deliver(channelID, []byte(msg.Payload))
			}
		}
	}
}

func redisChannel(channelID string) string {
	return channelPrefix + channelID
}

func channelIDFromRedis(ch string) string {
	id, ok := strings.CutPrefix(ch, channelPrefix)
	if !ok {
		return ""
	}
	return id
}
