package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrClientClosed = errors.New("realtime: client closed")
	ErrQueueFull    = errors.New("realtime: send queue full")
)

// DefaultSendBuffer 是每個連線的預設佇列長度
const DefaultSendBuffer = 256

// Client 是一條連線在 Registry 與 Broker 中的代表。
// send 通道從不關閉，結束由 done 通知，避免並發送出時 panic。
type Client struct {
	id       string
	userID   uint
	username string

	send chan Event
	done chan struct{}
	once sync.Once
}

func NewClient(userID uint, username string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		send:     make(chan Event, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() uint     { return c.userID }
func (c *Client) Username() string { return c.username }

// Deliver 把事件放進佇列，永不阻塞
func (c *Client) Deliver(ev Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events 回傳待寫出的事件
func (c *Client) Events() <-chan Event { return c.send }

// Done 在 Close 之後關閉
func (c *Client) Done() <-chan struct{} { return c.done }

// Close 可以重複呼叫
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Closed 回報 Close 是否已被呼叫
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
