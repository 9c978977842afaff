package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
)

// joinChat 連上房間並等到連線登記完成
func (f *fixture) joinChat(u *models.User, slug string) (*fakeConn, <-chan struct{}) {
	f.t.Helper()
	conn := newFakeConn()
	token := f.token(u)
	done := serve(func() { f.svc.Sessions.ServeChat(f.ctx, conn, token, slug) })
	waitFor(f.t, u.Username+" joined "+slug, func() bool { return f.registry.IsPresent(slug, u.ID) })
	return conn, done
}

func TestChatMutedUserCannotSend(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	if _, err := f.svc.Moderation.Mute(f.ctx, ModerationRequest{Actor: owner, TargetID: alice.ID, RoomSlug: room.Slug}); err != nil {
		t.Fatalf("Mute: %v", err)
	}

	conn, done := f.joinChat(alice, room.Slug)
	roomSub := f.subscribe(realtime.RoomTopic(room.Slug), owner.ID)
	status := conn.expect(t, "mute_status")
	if status["is_muted"] != true {
		t.Fatalf("mute_status = %v, want is_muted true", status)
	}

	conn.push(t, map[string]interface{}{"type": "message", "message": "spam"})
	frame := conn.expect(t, "error")
	if frame["message"] != "You are muted in this room" {
		t.Fatalf("error message = %v", frame["message"])
	}
	if msgs := f.store.Messages(room.ID); len(msgs) != 0 {
		t.Fatalf("muted message was persisted: %+v", msgs)
	}
	noEvent(t, roomSub, 50*time.Millisecond)

	conn.Close()
	waitDone(t, done)
}

func TestChatBroadcastAndTyping(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	bob := f.user("bob")

	aliceConn, aliceDone := f.joinChat(alice, room.Slug)
	bobConn, bobDone := f.joinChat(bob, room.Slug)

	added := aliceConn.expect(t, "member_added")
	if added["username"] != "bob" {
		t.Fatalf("member_added = %v", added)
	}

	aliceConn.push(t, map[string]interface{}{"type": "message", "message": "hello"})
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		msg := conn.expect(t, "message")
		if msg["message"] != "hello" || msg["username"] != "alice" {
			t.Fatalf("message frame = %v", msg)
		}
	}
	if msgs := f.store.Messages(room.ID); len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}

	aliceConn.push(t, map[string]interface{}{"type": "typing", "is_typing": true})
	typing := bobConn.expect(t, "typing")
	if typing["username"] != "alice" || typing["is_typing"] != true {
		t.Fatalf("typing frame = %v", typing)
	}
	aliceConn.expectNone(t, "typing", 50*time.Millisecond)

	aliceConn.Close()
	bobConn.Close()
	waitDone(t, aliceDone)
	waitDone(t, bobDone)
}

func TestChatRejectsBadFrames(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	conn, done := f.joinChat(owner, room.Slug)

	tests := []struct {
		frame interface{}
		want  string
	}{
		{[]byte("not json"), "invalid frame"},
		{map[string]interface{}{"message": "no type"}, "invalid frame"},
		{map[string]interface{}{"type": "dance"}, "unknown frame type: dance"},
		{map[string]interface{}{"type": "message", "message": "   "}, "message cannot be empty"},
	}
	for _, tt := range tests {
		conn.push(t, tt.frame)
		if got := conn.expect(t, "error"); got["message"] != tt.want {
			t.Fatalf("error for %v = %v, want %q", tt.frame, got["message"], tt.want)
		}
	}

	conn.Close()
	waitDone(t, done)
}

func TestReadLimitFitsLongestMessage(t *testing.T) {
	settings := DefaultSessionSettings()
	settings.MaxFrameBytes = 1024

	// encoding/json 把 '<' 寫成 \u003c，是每個字元最長的編碼
	for _, text := range []string{
		strings.Repeat("測", settings.MaxMessageLength),
		strings.Repeat("😀", settings.MaxMessageLength),
		strings.Repeat("<", settings.MaxMessageLength),
	} {
		frame, err := json.Marshal(map[string]interface{}{"type": "message", "message": text, "image_url": "https://example.com/a.png"})
		if err != nil {
			t.Fatalf("encode frame: %v", err)
		}
		if int64(len(frame)) > settings.ReadLimit() {
			t.Fatalf("frame of %d bytes exceeds read limit %d", len(frame), settings.ReadLimit())
		}
	}

	settings.MaxFrameBytes = 1 << 20
	if got := settings.ReadLimit(); got != 1<<20 {
		t.Fatalf("ReadLimit = %d, want the configured %d", got, 1<<20)
	}
}

func TestChatKickClosesConnection(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	conn, done := f.joinChat(alice, room.Slug)

	if _, err := f.svc.Moderation.Kick(f.ctx, ModerationRequest{Actor: owner, TargetID: alice.ID, RoomSlug: room.Slug}); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	frame := conn.expect(t, "force_disconnect")
	if frame["action"] != "kick" {
		t.Fatalf("force_disconnect = %v", frame)
	}
	code, reason := conn.waitClosed(t)
	if code != websocket.ClosePolicyViolation || reason != "kick" {
		t.Fatalf("close = %d %q, want %d kick", code, reason, websocket.ClosePolicyViolation)
	}
	waitDone(t, done)
	if f.registry.IsPresent(room.Slug, alice.ID) {
		t.Fatal("kicked user still present")
	}
	if n := f.broker.Subscribers(realtime.UserRoomTopic(alice.ID, room.Slug)); n != 0 {
		t.Fatalf("kicked session left %d subscriptions", n)
	}
}

func TestDeleteRoomClosesEveryConnection(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	ownerConn, ownerDone := f.joinChat(owner, room.Slug)
	aliceConn, aliceDone := f.joinChat(alice, room.Slug)

	if err := f.svc.Room.DeleteRoom(f.ctx, room.Slug, owner); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	for name, conn := range map[string]*fakeConn{"owner": ownerConn, "alice": aliceConn} {
		if frame := conn.expect(t, "force_disconnect"); frame["action"] != "room_deleted" {
			t.Fatalf("%s force_disconnect = %v", name, frame)
		}
		if code, reason := conn.waitClosed(t); code != websocket.ClosePolicyViolation || reason != "room_deleted" {
			t.Fatalf("%s close = %d %q", name, code, reason)
		}
	}
	waitDone(t, ownerDone)
	waitDone(t, aliceDone)
	if n := f.registry.Count(room.Slug); n != 0 {
		t.Fatalf("%d handles left in deleted room", n)
	}

	// 刪除後無法再連線
	retry := newFakeConn()
	f.svc.Sessions.ServeChat(f.ctx, retry, f.token(alice), room.Slug)
	if code, reason := retry.waitClosed(t); code != websocket.ClosePolicyViolation || reason != "room not found" {
		t.Fatalf("reconnect close = %d %q", code, reason)
	}
}

func TestChatBannedUserIsRejected(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	conn, done := f.joinChat(alice, room.Slug)

	if _, err := f.svc.Moderation.Ban(f.ctx, ModerationRequest{Actor: owner, TargetID: alice.ID, RoomSlug: room.Slug, Reason: "spam"}); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if frame := conn.expect(t, "force_disconnect"); frame["action"] != "ban" {
		t.Fatalf("force_disconnect = %v", frame)
	}
	waitDone(t, done)

	retry := newFakeConn()
	f.svc.Sessions.ServeChat(f.ctx, retry, f.token(alice), room.Slug)
	if code, reason := retry.waitClosed(t); code != websocket.ClosePolicyViolation || reason != "access denied" {
		t.Fatalf("rejoin close = %d %q", code, reason)
	}
}

func TestChatPrivateRoomAndBadToken(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "Secret", models.RoomPrivate)
	alice := f.user("alice")

	conn := newFakeConn()
	f.svc.Sessions.ServeChat(f.ctx, conn, f.token(alice), room.Slug)
	if code, _ := conn.waitClosed(t); code != websocket.ClosePolicyViolation {
		t.Fatalf("private room close code = %d", code)
	}

	conn = newFakeConn()
	f.svc.Sessions.ServeChat(f.ctx, conn, "garbage", room.Slug)
	conn.waitClosed(t)

	conn = newFakeConn()
	f.svc.Sessions.ServeChat(f.ctx, conn, f.token(owner), "missing")
	if _, reason := conn.waitClosed(t); reason != "room not found" {
		t.Fatalf("missing room reason = %q", reason)
	}
}

func TestPresenceOfflineAfterLastConnection(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")
	watcher := f.subscribe(realtime.PresenceTopic, 0)

	open := func() (*fakeConn, <-chan struct{}) {
		conn := newFakeConn()
		token := f.token(alice)
		return conn, serve(func() { f.svc.Sessions.ServePresence(f.ctx, conn, token) })
	}
	first, firstDone := open()
	nextEvent(t, watcher, realtime.EventStatus)
	second, secondDone := open()
	nextEvent(t, watcher, realtime.EventStatus)

	first.Close()
	waitDone(t, firstDone)
	noEvent(t, watcher, 50*time.Millisecond)

	second.push(t, map[string]interface{}{"type": "status_change", "status": "sleeping"})
	if frame := second.expect(t, "error"); frame["message"] != "invalid status: sleeping" {
		t.Fatalf("error = %v", frame)
	}
	second.push(t, map[string]interface{}{"type": "status_change", "status": "away"})
	nextEvent(t, watcher, realtime.EventStatus)

	second.Close()
	waitDone(t, secondDone)
	nextEvent(t, watcher, realtime.EventStatus)

	profile, err := f.repos.Profile.Ensure(f.ctx, alice.ID)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if profile.OnlineStatus != models.StatusOffline {
		t.Fatalf("status = %s, want offline", profile.OnlineStatus)
	}
}

func TestOfflineSkippedWhenNewConnectionRegistered(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")
	if err := f.repos.Profile.SetStatus(f.ctx, alice.ID, models.StatusOnline); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	watcher := f.subscribe(realtime.PresenceTopic, 0)

	// 舊連線離開後、寫入 offline 之前，新連線已經登記
	late := realtime.NewClient(alice.ID, alice.Username, 4)
	f.registry.Register(realtime.PresenceKey, alice.ID, late)
	f.svc.Sessions.markOffline(f.ctx, alice)
	noEvent(t, watcher, 50*time.Millisecond)
	if profile, _ := f.repos.Profile.Ensure(f.ctx, alice.ID); profile.OnlineStatus != models.StatusOnline {
		t.Fatalf("status = %s, want online", profile.OnlineStatus)
	}

	f.registry.Unregister(realtime.PresenceKey, alice.ID, late)
	f.svc.Sessions.markOffline(f.ctx, alice)
	var frame realtime.StatusFrame
	if err := json.Unmarshal(nextEvent(t, watcher, realtime.EventStatus).Frame, &frame); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if frame.Status != models.StatusOffline || frame.UserID != alice.ID {
		t.Fatalf("status frame = %+v", frame)
	}
}

func TestNotificationSessionUnreadCount(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")

	conn := newFakeConn()
	token := f.token(alice)
	done := serve(func() { f.svc.Sessions.ServeNotifications(f.ctx, conn, token) })
	if frame := conn.expect(t, "unread_count"); frame["count"] != float64(0) {
		t.Fatalf("initial unread_count = %v", frame)
	}
	waitFor(t, "notification session", func() bool { return f.registry.IsPresent(realtime.NotificationKey, alice.ID) })

	if _, err := f.svc.Moderation.Warn(f.ctx, ModerationRequest{Actor: owner, TargetID: alice.ID, RoomSlug: room.Slug, Reason: "calm down"}); err != nil {
		t.Fatalf("Warn: %v", err)
	}
	note := conn.expect(t, "notification")
	body, _ := note["notification"].(map[string]interface{})
	id, _ := body["id"].(float64)
	if body["notification_type"] != "warning" || id == 0 {
		t.Fatalf("notification = %v", note)
	}
	if frame := conn.expect(t, "unread_count"); frame["count"] != float64(1) {
		t.Fatalf("unread_count after warning = %v", frame)
	}

	conn.push(t, map[string]interface{}{"type": "mark_read", "notification_id": uint(id)})
	if frame := conn.expect(t, "unread_count"); frame["count"] != float64(0) {
		t.Fatalf("unread_count after mark_read = %v", frame)
	}

	conn.Close()
	waitDone(t, done)
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	conn, done := f.joinChat(owner, room.Slug)

	f.svc.Sessions.Shutdown()
	if code, _ := conn.waitClosed(t); code != websocket.CloseGoingAway {
		t.Fatalf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	waitDone(t, done)
	if f.registry.Count(room.Slug) != 0 {
		t.Fatal("registry still holds the closed session")
	}
}
