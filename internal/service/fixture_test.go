package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
	"roomchat/internal/utils"
)

const waitTimeout = 2 * time.Second

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingScheduler struct {
	mu      sync.Mutex
	notices []ExpiryNotice
}

func (s *recordingScheduler) ScheduleExpiry(_ context.Context, n ExpiryNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return nil
}

func (s *recordingScheduler) all() []ExpiryNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExpiryNotice(nil), s.notices...)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *repository.MemoryStore
	repos     *repository.Repositories
	broker    *realtime.Broker
	registry  *realtime.Registry
	tokens    *utils.TokenManager
	clock     *testClock
	scheduler *recordingScheduler
	svc       *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	repos := repository.NewMemoryRepositories(store)
	broker := realtime.NewBroker(logger)
	registry := realtime.NewRegistry()
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	scheduler := &recordingScheduler{}

	settings := DefaultSessionSettings()
	settings.PingPeriod = time.Hour
	settings.PongWait = 2 * time.Hour

	svc := NewServices(Dependencies{
		Repos:     repos,
		Registry:  registry,
		Broker:    broker,
		Tokens:    tokens,
		Session:   settings,
		Scheduler: scheduler,
		Logger:    logger,
		Now:       clock.Now,
	})
	t.Cleanup(svc.Sessions.Shutdown)

	return &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		repos:     repos,
		broker:    broker,
		registry:  registry,
		tokens:    tokens,
		clock:     clock,
		scheduler: scheduler,
		svc:       svc,
	}
}

// user 直接寫入儲存，略過 bcrypt 以加快測試
func (f *fixture) user(name string) *models.User {
	f.t.Helper()
	u := &models.User{Username: name, Password: "x"}
	if err := f.repos.User.Create(f.ctx, u); err != nil {
		f.t.Fatalf("create user %s: %v", name, err)
	}
	if _, err := f.repos.Profile.Ensure(f.ctx, u.ID); err != nil {
		f.t.Fatalf("ensure profile %s: %v", name, err)
	}
	return u
}

func (f *fixture) staff(name string, superuser bool) *models.User {
	f.t.Helper()
	u := &models.User{Username: name, Password: "x", IsStaff: true, IsSuperuser: superuser}
	if err := f.repos.User.Create(f.ctx, u); err != nil {
		f.t.Fatalf("create staff %s: %v", name, err)
	}
	return u
}

func (f *fixture) room(owner *models.User, name string, visibility models.RoomVisibility) *models.Room {
	f.t.Helper()
	room, err := f.svc.Room.CreateRoom(f.ctx, owner, name, "", visibility)
	if err != nil {
		f.t.Fatalf("create room %s: %v", name, err)
	}
	return room
}

func (f *fixture) moderator(room *models.Room, name string) *models.User {
	f.t.Helper()
	u := f.user(name)
	if _, _, err := f.repos.Membership.Ensure(f.ctx, u.ID, room.ID, models.RoleModerator); err != nil {
		f.t.Fatalf("ensure moderator membership: %v", err)
	}
	return u
}

func (f *fixture) token(u *models.User) string {
	f.t.Helper()
	token, err := f.tokens.GenerateToken(u.ID, u.Username)
	if err != nil {
		f.t.Fatalf("generate token: %v", err)
	}
	return token
}

// subscribe 訂閱主題並以 userID 的身份接收事件
func (f *fixture) subscribe(topic string, userID uint) *realtime.Client {
	c := realtime.NewClient(userID, "observer", 64)
	f.broker.Subscribe(topic, c)
	f.t.Cleanup(func() { f.broker.UnsubscribeAll(c) })
	return c
}

func minutes(n int) *int { return &n }

func nextEvent(t *testing.T, c *realtime.Client, want realtime.EventType) realtime.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", want, waitTimeout)
		}
	}
}

func noEvent(t *testing.T, c *realtime.Client, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected %s event: %s", ev.Type, ev.Frame)
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errConnClosed = errors.New("fake conn closed")

// fakeConn 是記憶體中的 websocket 連線
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	frame := append([]byte(nil), data...)
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		c.closeReason = string(data[2:])
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push 模擬客戶端送出 frame
func (c *fakeConn) push(t *testing.T, frame interface{}) {
	t.Helper()
	data, ok := frame.([]byte)
	if !ok {
		var err error
		if data, err = json.Marshal(frame); err != nil {
			t.Fatalf("encode frame: %v", err)
		}
	}
	c.in <- data
}

// expect 略過其他類型，回傳下一個 typ 類型的 frame
func (c *fakeConn) expect(t *testing.T, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case data := <-c.out:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("decode frame %s: %v", data, err)
			}
			if frame["type"] == typ {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame within %v", typ, waitTimeout)
		}
	}
}

func (c *fakeConn) expectNone(t *testing.T, typ string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case data := <-c.out:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err == nil && frame["type"] == typ {
				t.Fatalf("unexpected %s frame: %s", typ, data)
			}
		case <-deadline:
			return
		}
	}
}

func (c *fakeConn) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("connection not closed within %v", waitTimeout)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// serve 在背景執行 fn，回傳 fn 結束時關閉的 channel
func serve(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("session did not return")
	}
}
