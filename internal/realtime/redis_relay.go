package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannelPrefix 是 Redis 頻道名稱的前綴
	DefaultChannelPrefix = "roomchat:"
	relayOutboxSize      = 1024
)

type envelope struct {
	Node  string `json:"node"`
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// RedisRelay 透過 Redis pub/sub 在多個行程之間轉送 Broker 事件。
// 本地發佈經由單一 outbox goroutine 依序寫出，其他節點的事件只在本地扇出。
type RedisRelay struct {
	client *redis.Client
	broker *Broker
	prefix string
	node   string
	logger *slog.Logger

	outbox chan envelope
	stop   chan struct{}
	pubsub *redis.PubSub
	once   sync.Once
	wg     sync.WaitGroup
}

// NewRedisRelay 建立 relay 並把自己設為 broker 的 Forwarder
func NewRedisRelay(client *redis.Client, broker *Broker, prefix string, logger *slog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisRelay{
		client: client,
		broker: broker,
		prefix: prefix,
		node:   uuid.NewString(),
		logger: logger.With("component", "redis_relay"),
		outbox: make(chan envelope, relayOutboxSize),
		stop:   make(chan struct{}),
	}
	broker.SetForwarder(r)
	return r
}

// Node 回傳本節點的識別碼
func (r *RedisRelay) Node() string { return r.node }

// Forward 實作 Forwarder，不阻塞
func (r *RedisRelay) Forward(topic string, ev Event) {
	select {
	case <-r.stop:
		return
	default:
	}
	select {
	case r.outbox <- envelope{Node: r.node, Topic: topic, Event: ev}:
	default:
		r.logger.Warn("relay outbox full, dropping event", "topic", topic, "event", ev.Type)
	}
}

// Start 訂閱 Redis 頻道並啟動收發 goroutine，回傳時訂閱已經生效
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis relay subscribe: %w", err)
	}
	r.pubsub = pubsub

	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.receiveLoop(pubsub.Channel())
	r.logger.Info("redis relay started", "node", r.node, "pattern", r.prefix+"*")
	return nil
}

// Run 啟動 relay 並阻塞到 ctx 結束
func (r *RedisRelay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Close()
}

// Close 停止訂閱並等待 goroutine 結束
func (r *RedisRelay) Close() error {
	var err error
	r.once.Do(func() {
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		close(r.stop)
		r.wg.Wait()
	})
	return err
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	// ctx 結束後仍把剩餘事件送完，避免關閉時遺失
	pubCtx := context.WithoutCancel(ctx)
	for {
		select {
		case env := <-r.outbox:
			r.publish(pubCtx, env)
		case <-r.stop:
			for {
				select {
				case env := <-r.outbox:
					r.publish(pubCtx, env)
				default:
					return
				}
			}
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("encode relay envelope", "topic", env.Topic, "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.prefix+env.Topic, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "topic", env.Topic, "error", err)
	}
}

func (r *RedisRelay) receiveLoop(ch <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Warn("decode relay envelope", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Node == r.node {
			continue
		}
		topic := env.Topic
		if topic == "" {
			topic = strings.TrimPrefix(msg.Channel, r.prefix)
		}
		r.broker.deliver(topic, env.Event)
	}
}
