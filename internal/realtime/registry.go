package realtime

import (
	"hash/fnv"
	"sort"
	"sync"
)

const registryShards = 32

// 在線狀態與通知連線使用的保留鍵，不會與房間 slug 衝突
const (
	PresenceKey     = "@presence"
	NotificationKey = "@notify"
)

// RoomHandle 是某用戶的一條連線與所在房間
type RoomHandle struct {
	Room   string
	Client *Client
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[uint]map[string]*Client // room -> user -> client ID -> client
}

type userShard struct {
	mu    sync.RWMutex
	users map[uint]map[string]RoomHandle // user -> client ID -> handle
}

// Registry 記錄每個房間目前有哪些用戶在線，不做持久化
type Registry struct {
	rooms [registryShards]roomShard
	users [registryShards]userShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.rooms {
		r.rooms[i].rooms = make(map[string]map[uint]map[string]*Client)
		r.users[i].users = make(map[uint]map[string]RoomHandle)
	}
	return r
}

func (r *Registry) roomShard(room string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return &r.rooms[h.Sum32()%registryShards]
}

func (r *Registry) userShard(userID uint) *userShard {
	return &r.users[userID%registryShards]
}

// Register 把連線加入房間。同一連線重複註冊不會產生重複記錄。
func (r *Registry) Register(room string, userID uint, c *Client) {
	rs := r.roomShard(room)
	rs.mu.Lock()
	members, ok := rs.rooms[room]
	if !ok {
		members = make(map[uint]map[string]*Client)
		rs.rooms[room] = members
	}
	handles, ok := members[userID]
	if !ok {
		handles = make(map[string]*Client)
		members[userID] = handles
	}
	handles[c.ID()] = c
	rs.mu.Unlock()

	us := r.userShard(userID)
	us.mu.Lock()
	owned, ok := us.users[userID]
	if !ok {
		owned = make(map[string]RoomHandle)
		us.users[userID] = owned
	}
	owned[c.ID()] = RoomHandle{Room: room, Client: c}
	us.mu.Unlock()
}

// Unregister 移除連線並回傳用戶是否仍有其他連線在這個房間。可重複呼叫。
func (r *Registry) Unregister(room string, userID uint, c *Client) (stillPresent bool) {
	rs := r.roomShard(room)
	rs.mu.Lock()
	if members, ok := rs.rooms[room]; ok {
		if handles, ok := members[userID]; ok {
			delete(handles, c.ID())
			if len(handles) == 0 {
				delete(members, userID)
			} else {
				stillPresent = true
			}
		}
		if len(members) == 0 {
			delete(rs.rooms, room)
		}
	}
	rs.mu.Unlock()

	us := r.userShard(userID)
	us.mu.Lock()
	if owned, ok := us.users[userID]; ok {
		if h, ok := owned[c.ID()]; ok && h.Room == room {
			delete(owned, c.ID())
		}
		if len(owned) == 0 {
			delete(us.users, userID)
		}
	}
	us.mu.Unlock()
	return stillPresent
}

// MembersOf 回傳房間中在線的用戶 ID（遞增排序）
func (r *Registry) MembersOf(room string) []uint {
	rs := r.roomShard(room)
	rs.mu.RLock()
	members := rs.rooms[room]
	ids := make([]uint, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	rs.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) IsPresent(room string, userID uint) bool {
	rs := r.roomShard(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rooms[room][userID]) > 0
}

// HandlesOf 回傳用戶在房間中的所有連線
func (r *Registry) HandlesOf(room string, userID uint) []*Client {
	rs := r.roomShard(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	handles := rs.rooms[room][userID]
	out := make([]*Client, 0, len(handles))
	for _, c := range handles {
		out = append(out, c)
	}
	return out
}

// HandlesOfUser 回傳用戶在所有房間（含保留鍵）的連線
func (r *Registry) HandlesOfUser(userID uint) []RoomHandle {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	owned := us.users[userID]
	out := make([]RoomHandle, 0, len(owned))
	for _, h := range owned {
		out = append(out, h)
	}
	return out
}

// RoomsOf 回傳用戶目前在線的房間，不含保留鍵
func (r *Registry) RoomsOf(userID uint) []string {
	seen := make(map[string]struct{})
	for _, h := range r.HandlesOfUser(userID) {
		if h.Room == PresenceKey || h.Room == NotificationKey {
			continue
		}
		seen[h.Room] = struct{}{}
	}
	rooms := make([]string, 0, len(seen))
	for room := range seen {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Count 回傳房間中在線的用戶數
func (r *Registry) Count(room string) int {
	rs := r.roomShard(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rooms[room])
}
