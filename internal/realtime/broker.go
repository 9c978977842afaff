package realtime

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
)

const brokerShards = 32

// Subscriber 是可以接收事件的連線，Deliver 不可阻塞
type Subscriber interface {
	ID() string
	UserID() uint
	Deliver(Event) error
	Close()
}

// Publisher 是對外公開的發佈介面
type Publisher interface {
	Publish(topic string, ev Event) int
}

// Forwarder 接收本地發佈的事件並轉送到其他行程
type Forwarder interface {
	Forward(topic string, ev Event)
}

type topic struct {
	mu   sync.Mutex
	subs map[string]Subscriber
	// order 保持訂閱順序，讓扇出順序穩定
	order []string
}

func (t *topic) add(sub Subscriber) {
	if _, ok := t.subs[sub.ID()]; ok {
		return
	}
	t.subs[sub.ID()] = sub
	t.order = append(t.order, sub.ID())
}

func (t *topic) remove(id string) {
	if _, ok := t.subs[id]; !ok {
		return
	}
	delete(t.subs, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

type brokerShard struct {
	mu     sync.RWMutex
	topics map[string]*topic
	// subscriber ID -> 訂閱中的主題
	subTopics map[string]map[string]struct{}
}

// Broker 依主題把事件扇出到訂閱者的佇列。
// 每個主題有自己的鎖，同一主題的事件對所有訂閱者保持相同順序。
type Broker struct {
	shards    [brokerShards]brokerShard
	logger    *slog.Logger
	forwarder Forwarder
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{logger: logger}
	for i := range b.shards {
		b.shards[i].topics = make(map[string]*topic)
		b.shards[i].subTopics = make(map[string]map[string]struct{})
	}
	return b
}

// SetForwarder 設定跨行程轉送，必須在開始發佈前呼叫
func (b *Broker) SetForwarder(f Forwarder) {
	b.forwarder = f
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % brokerShards
}

func (b *Broker) topicShard(name string) *brokerShard {
	return &b.shards[shardIndex(name)]
}

func (b *Broker) subShard(id string) *brokerShard {
	return &b.shards[shardIndex("sub/"+id)]
}

// Subscribe 讓 sub 開始接收 name 主題之後發佈的事件
func (b *Broker) Subscribe(name string, sub Subscriber) {
	ts := b.topicShard(name)
	ts.mu.Lock()
	t, ok := ts.topics[name]
	if !ok {
		t = &topic{subs: make(map[string]Subscriber)}
		ts.topics[name] = t
	}
	t.mu.Lock()
	t.add(sub)
	t.mu.Unlock()
	ts.mu.Unlock()

	ss := b.subShard(sub.ID())
	ss.mu.Lock()
	set, ok := ss.subTopics[sub.ID()]
	if !ok {
		set = make(map[string]struct{})
		ss.subTopics[sub.ID()] = set
	}
	set[name] = struct{}{}
	ss.mu.Unlock()
}

// Unsubscribe 停止 sub 在 name 主題的訂閱
func (b *Broker) Unsubscribe(name string, sub Subscriber) {
	b.removeFromTopic(name, sub.ID())

	ss := b.subShard(sub.ID())
	ss.mu.Lock()
	if set, ok := ss.subTopics[sub.ID()]; ok {
		delete(set, name)
		if len(set) == 0 {
			delete(ss.subTopics, sub.ID())
		}
	}
	ss.mu.Unlock()
}

// UnsubscribeAll 移除 sub 的所有訂閱
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	ss := b.subShard(sub.ID())
	ss.mu.Lock()
	set := ss.subTopics[sub.ID()]
	delete(ss.subTopics, sub.ID())
	ss.mu.Unlock()

	for name := range set {
		b.removeFromTopic(name, sub.ID())
	}
}

func (b *Broker) removeFromTopic(name, id string) {
	ts := b.topicShard(name)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.topics[name]
	if !ok {
		return
	}
	t.mu.Lock()
	t.remove(id)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(ts.topics, name)
	}
}

// Subscribers 回傳主題目前的訂閱者數量
func (b *Broker) Subscribers(name string) int {
	ts := b.topicShard(name)
	ts.mu.RLock()
	t, ok := ts.topics[name]
	ts.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Publish 把事件送給主題的所有訂閱者並轉送到其他行程，回傳成功排入佇列的數量
func (b *Broker) Publish(name string, ev Event) int {
	n := b.deliver(name, ev)
	if b.forwarder != nil {
		b.forwarder.Forward(name, ev)
	}
	return n
}

// deliver 只做本地扇出，遠端轉入的事件走這裡
func (b *Broker) deliver(name string, ev Event) int {
	ts := b.topicShard(name)
	ts.mu.RLock()
	t, ok := ts.topics[name]
	ts.mu.RUnlock()
	if !ok {
		return 0
	}

	var slow []Subscriber
	delivered := 0

	t.mu.Lock()
	for _, id := range t.order {
		sub := t.subs[id]
		if !ev.DeliverableTo(sub.UserID()) {
			continue
		}
		err := sub.Deliver(ev)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQueueFull):
			slow = append(slow, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range slow {
		b.logger.Warn("dropping slow subscriber",
			"topic", name,
			"event", ev.Type,
			"conn_id", sub.ID(),
			"user_id", sub.UserID(),
		)
		sub.Close()
	}
	return delivered
}
