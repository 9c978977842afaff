package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
)

// SessionSettings 控制每條連線的心跳與大小限制
type SessionSettings struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxFrameBytes    int64
	SendBuffer       int
	MaxMessageLength int
}

// frameEnvelopeBytes 預留給 type、image_url 等訊息以外的欄位
const frameEnvelopeBytes = 4096

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       54 * time.Second,
		MaxFrameBytes:    16384,
		SendBuffer:       realtime.DefaultSendBuffer,
		MaxMessageLength: 2000,
	}
}

// ReadLimit 是傳輸層接受的最大 frame 位元組數。
// MaxMessageLength 以字元計，每個字元在 JSON 中最多佔 6 個位元組（\uXXXX），
// 所以長度上限內的訊息一定能被讀取，超長時由服務層回覆 error frame。
func (s SessionSettings) ReadLimit() int64 {
	need := int64(s.MaxMessageLength)*6 + frameEnvelopeBytes
	if s.MaxFrameBytes > need {
		return s.MaxFrameBytes
	}
	return need
}

// Conn 是 session 使用到的 websocket 連線方法，*websocket.Conn 滿足此介面
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// EventBus 是 session 需要的 Broker 功能
type EventBus interface {
	realtime.Publisher
	Subscribe(topic string, sub realtime.Subscriber)
	Unsubscribe(topic string, sub realtime.Subscriber)
	UnsubscribeAll(sub realtime.Subscriber)
}

// inboundFrame 是客戶端送來的所有 frame 的聯集
type inboundFrame struct {
	Type           string  `json:"type"`
	Message        string  `json:"message"`
	ImageURL       *string `json:"image_url"`
	ParentID       *uint   `json:"parent_id"`
	IsTyping       bool    `json:"is_typing"`
	Status         string  `json:"status"`
	NotificationID uint    `json:"notification_id"`
}

// session 是三種連線共用的生命週期：讀寫 pump、訂閱與一次性的清理
type session struct {
	conn     Conn
	client   *realtime.Client
	user     *models.User
	bus      EventBus
	registry *realtime.Registry
	settings SessionSettings
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	key     string
	onLeave func(stillPresent bool)
	once    sync.Once
}

func newSession(parent context.Context, conn Conn, user *models.User, bus EventBus, registry *realtime.Registry,
	settings SessionSettings, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	client := realtime.NewClient(user.ID, user.Username, settings.SendBuffer)
	return &session{
		conn:     conn,
		client:   client,
		user:     user,
		bus:      bus,
		registry: registry,
		settings: settings,
		logger:   logger.With("user_id", user.ID, "conn_id", client.ID()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// join 在 Registry 登記連線並訂閱主題
func (s *session) join(key string, topics ...string) {
	s.key = key
	s.registry.Register(key, s.user.ID, s.client)
	for _, topic := range topics {
		s.bus.Subscribe(topic, s.client)
	}
}

// send 透過連線自己的佇列送出 frame，保持單一寫入者
func (s *session) send(frame realtime.Frame) {
	ev, err := realtime.NewEvent(frame)
	if err != nil {
		s.logger.Error("encode frame", "error", err)
		return
	}
	if err := s.client.Deliver(ev); errors.Is(err, realtime.ErrQueueFull) {
		s.logger.Warn("send queue full, closing session")
		s.client.Close()
	}
}

func (s *session) sendError(message string) {
	s.send(&realtime.ErrorFrame{Message: message})
}

// run 啟動寫入 goroutine 並在目前 goroutine 讀取，連線結束後清理
func (s *session) run(shutdown <-chan struct{}, handle func(inboundFrame)) {
	go s.writePump()
	go func() {
		select {
		case <-shutdown:
			s.client.Close()
		case <-s.client.Done():
		}
	}()
	s.readPump(handle)
	s.teardown()
}

func (s *session) readPump(handle func(inboundFrame)) {
	s.conn.SetReadLimit(s.settings.ReadLimit())
	_ = s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}
		// 任何 frame 都延長期限
		_ = s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			s.sendError("invalid frame")
			continue
		}
		handle(frame)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.settings.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.client.Events():
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, ev.Frame); err != nil {
				s.conn.Close()
				return
			}
			if ev.Type == realtime.EventForceDisconnect {
				s.closeWith(websocket.ClosePolicyViolation, forceDisconnectAction(ev))
				return
			}

		case <-s.client.Done():
			s.closeWith(websocket.CloseGoingAway, "")
			return

		case <-ticker.C:
			// 發送心跳包
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) closeWith(code int, reason string) {
	deadline := time.Now().Add(s.settings.WriteWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

func forceDisconnectAction(ev realtime.Event) string {
	var frame realtime.ForceDisconnectFrame
	if err := json.Unmarshal(ev.Frame, &frame); err != nil {
		return ""
	}
	return frame.Action
}

// teardown 只執行一次：取消訂閱、離開 Registry、關閉連線
func (s *session) teardown() {
	s.once.Do(func() {
		s.cancel()
		s.bus.UnsubscribeAll(s.client)
		stillPresent := false
		if s.key != "" {
			stillPresent = s.registry.Unregister(s.key, s.user.ID, s.client)
		}
		s.client.Close()
		_ = s.conn.Close()
		if s.onLeave != nil {
			s.onLeave(stillPresent)
		}
		s.logger.Debug("session closed", "key", s.key, "still_present", stillPresent)
	})
}
