package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

const DefaultFanoutPrefix = "arena:fanout:"

type fanoutMessage struct {
	Queue   string          `json:"queue,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RedisFanout publishes through Redis so every instance's hub sees each
// event. Delivery to sockets still happens in the local hub.
type RedisFanout struct {
	rdb    *redis.Client
	hub    *Hub
	prefix string

	mu  sync.Mutex
	sub *redis.PubSub
	wg  sync.WaitGroup
}

func NewRedisFanout(rdb *redis.Client, hub *Hub, prefix string) *RedisFanout {
	if prefix == "" {
		prefix = DefaultFanoutPrefix
	}
	return &RedisFanout{rdb: rdb, hub: hub, prefix: prefix}
}

func (f *RedisFanout) topicChannel(topic string) string { return f.prefix + "topic:" + topic }
func (f *RedisFanout) userChannel(user string) string   { return f.prefix + "user:" + user }

func (f *RedisFanout) PublishTopic(ctx context.Context, topic, eventType string, payload any) {
	f.publish(ctx, f.topicChannel(topic), "", eventType, payload)
}

func (f *RedisFanout) PublishUser(ctx context.Context, username, queue, eventType string, payload any) {
	f.publish(ctx, f.userChannel(username), queue, eventType, payload)
}

func (f *RedisFanout) publish(ctx context.Context, channel, queue, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		obslog.L().Error("fanout_encode_failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	body, err := json.Marshal(fanoutMessage{Queue: queue, Type: eventType, Payload: raw})
	if err != nil {
		obslog.L().Error("fanout_encode_failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := f.rdb.Publish(context.WithoutCancel(ctx), channel, body).Err(); err != nil {
		obslog.L().Warn("fanout_publish_failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Start subscribes and relays messages into the hub until Close. It returns
// once the subscription is confirmed.
func (f *RedisFanout) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return errors.New("fanout already started")
	}
	sub := f.rdb.PSubscribe(ctx, f.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	f.sub = sub
	ch := sub.Channel()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for msg := range ch {
			f.deliver(msg)
		}
	}()
	return nil
}

func (f *RedisFanout) deliver(msg *redis.Message) {
	var m fanoutMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
		obslog.L().Warn("fanout_decode_failed", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	ctx := context.Background()
	rest := strings.TrimPrefix(msg.Channel, f.prefix)
	if topic, ok := strings.CutPrefix(rest, "topic:"); ok {
		f.hub.PublishTopic(ctx, topic, m.Type, m.Payload)
		return
	}
	if user, ok := strings.CutPrefix(rest, "user:"); ok {
		f.hub.PublishUser(ctx, user, m.Queue, m.Type, m.Payload)
	}
}

func (f *RedisFanout) Close() error {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	f.wg.Wait()
	return err
}
