package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func textEvent(t *testing.T, text string) Event {
	t.Helper()
	ev, err := NewEvent(&ErrorFrame{Message: text})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return ev
}

func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func frameMessage(t *testing.T, ev Event) string {
	t.Helper()
	var f ErrorFrame
	if err := json.Unmarshal(ev.Frame, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f.Message
}

func TestPublishReachesOnlyCurrentSubscribers(t *testing.T) {
	b := NewBroker(nil)
	early := NewClient(1, "a", 8)
	late := NewClient(2, "b", 8)
	elsewhere := NewClient(3, "c", 8)

	b.Subscribe(RoomTopic("general"), early)
	b.Subscribe(RoomTopic("other"), elsewhere)

	if n := b.Publish(RoomTopic("general"), textEvent(t, "first")); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	b.Subscribe(RoomTopic("general"), late)

	if got := drain(late); len(got) != 0 {
		t.Fatalf("late subscriber received %d events published before it subscribed", len(got))
	}
	if got := drain(elsewhere); len(got) != 0 {
		t.Fatalf("subscriber on another topic received %d events", len(got))
	}
	if got := drain(early); len(got) != 1 || frameMessage(t, got[0]) != "first" {
		t.Fatalf("unexpected events for early subscriber: %+v", got)
	}
}

func TestPublishPreservesOrderAcrossSubscribers(t *testing.T) {
	b := NewBroker(nil)
	subs := []*Client{NewClient(1, "a", 128), NewClient(2, "b", 128), NewClient(3, "c", 128)}
	for _, s := range subs {
		b.Subscribe("room:order", s)
	}

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				b.Publish("room:order", MustEvent(&ErrorFrame{Message: fmt.Sprintf("%d-%d", p, i)}))
			}
		}(p)
	}
	wg.Wait()

	var reference []string
	for idx, s := range subs {
		var seq []string
		for _, ev := range drain(s) {
			seq = append(seq, frameMessage(t, ev))
		}
		if len(seq) != 60 {
			t.Fatalf("subscriber %d received %d events, want 60", idx, len(seq))
		}
		// 同一發佈者的事件必須依序
		last := map[byte]int{'0': -1, '1': -1}
		for _, m := range seq {
			var p, i int
			fmt.Sscanf(m, "%d-%d", &p, &i)
			key := byte('0' + p)
			if i <= last[key] {
				t.Fatalf("subscriber %d saw publisher %d out of order: %v", idx, p, seq)
			}
			last[key] = i
		}
		if reference == nil {
			reference = seq
			continue
		}
		for i := range seq {
			if seq[i] != reference[i] {
				t.Fatalf("subscriber %d order diverges at %d: %s vs %s", idx, i, seq[i], reference[i])
			}
		}
	}
}

func TestSlowSubscriberIsClosedOthersUnaffected(t *testing.T) {
	b := NewBroker(nil)
	slow := NewClient(1, "slow", 1)
	fast := NewClient(2, "fast", 8)
	b.Subscribe("room:x", slow)
	b.Subscribe("room:x", fast)

	b.Publish("room:x", textEvent(t, "one"))
	n := b.Publish("room:x", textEvent(t, "two"))
	if n != 1 {
		t.Fatalf("expected only the fast subscriber to accept, got %d", n)
	}
	if !slow.Closed() {
		t.Fatal("slow subscriber should have been closed")
	}
	if got := drain(fast); len(got) != 2 {
		t.Fatalf("fast subscriber expected 2 events, got %d", len(got))
	}
}

func TestTargetedAndTypingFilters(t *testing.T) {
	b := NewBroker(nil)
	alice := NewClient(1, "alice", 8)
	bob := NewClient(2, "bob", 8)
	b.Subscribe("room:f", alice)
	b.Subscribe("room:f", bob)

	typing := MustEvent(&TypingFrame{Username: "alice", UserID: 1, IsTyping: true}, FromUser(1))
	if n := b.Publish("room:f", typing); n != 1 {
		t.Fatalf("typing should skip its sender, delivered %d", n)
	}
	muted := MustEvent(&MuteStatusFrame{IsMuted: true}, ForUser(2))
	if n := b.Publish("room:f", muted); n != 1 {
		t.Fatalf("targeted event should reach one user, delivered %d", n)
	}
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("alice should receive nothing, got %+v", got)
	}
	got := drain(bob)
	if len(got) != 2 || got[0].Type != EventTyping || got[1].Type != EventMuteStatus {
		t.Fatalf("unexpected events for bob: %+v", got)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := NewBroker(nil)
	c := NewClient(1, "a", 8)
	b.Subscribe(RoomTopic("a"), c)
	b.Subscribe(UserTopic(1), c)
	b.Subscribe(UserRoomTopic(1, "a"), c)

	b.UnsubscribeAll(c)
	b.UnsubscribeAll(c)

	for _, topic := range []string{RoomTopic("a"), UserTopic(1), UserRoomTopic(1, "a")} {
		if n := b.Subscribers(topic); n != 0 {
			t.Fatalf("topic %s still has %d subscribers", topic, n)
		}
		if n := b.Publish(topic, textEvent(t, "x")); n != 0 {
			t.Fatalf("publish on %s delivered %d events after unsubscribe", topic, n)
		}
	}
}

func TestFrameCarriesType(t *testing.T) {
	ev := MustEvent(&ForceDisconnectFrame{Action: "ban", Reason: "spam"})
	var decoded map[string]any
	if err := json.Unmarshal(ev.Frame, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "force_disconnect" || decoded["action"] != "ban" || decoded["reason"] != "spam" {
		t.Fatalf("unexpected frame %s", ev.Frame)
	}
}

func TestGlobalWarningKeepsRoomNameKey(t *testing.T) {
	ev := MustEvent(&WarningFrame{Reason: "be nice", IssuedBy: "root"})
	var decoded map[string]any
	if err := json.Unmarshal(ev.Frame, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	name, ok := decoded["room_name"]
	if !ok || name != "" {
		t.Fatalf("room_name = %v (present %v), want empty string", name, ok)
	}
}
