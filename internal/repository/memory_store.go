package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"roomchat/internal/models"
)

type memberKey struct {
	userID uint
	roomID uint
}

type memoryData struct {
	seq           map[string]uint
	users         map[uint]models.User
	profiles      map[uint]models.Profile // key: user ID
	rooms         map[uint]models.Room
	memberships   map[memberKey]models.Membership
	messages      map[uint]models.Message
	actions       map[uint]models.ModerationAction
	mutes         map[memberKey]models.Mute
	warnings      map[uint]models.Warning
	reports       map[uint]models.Report
	notifications map[uint]models.Notification
}

func newMemoryData() memoryData {
	return memoryData{
		seq:           make(map[string]uint),
		users:         make(map[uint]models.User),
		profiles:      make(map[uint]models.Profile),
		rooms:         make(map[uint]models.Room),
		memberships:   make(map[memberKey]models.Membership),
		messages:      make(map[uint]models.Message),
		actions:       make(map[uint]models.ModerationAction),
		mutes:         make(map[memberKey]models.Mute),
		warnings:      make(map[uint]models.Warning),
		reports:       make(map[uint]models.Report),
		notifications: make(map[uint]models.Notification),
	}
}

func (d memoryData) clone() memoryData {
	c := newMemoryData()
	for k, v := range d.seq {
		c.seq[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.rooms {
		c.rooms[k] = v
	}
	for k, v := range d.memberships {
		c.memberships[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	for k, v := range d.actions {
		c.actions[k] = v
	}
	for k, v := range d.mutes {
		c.mutes[k] = v
	}
	for k, v := range d.warnings {
		c.warnings[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	return c
}

// MemoryStore 把所有記錄保存在行程內，用於測試與本機開發。
// 交易會被序列化執行，失敗時還原到交易開始前的快照。
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data memoryData
	now  func() time.Time
}

// NewMemoryStore 建立空的記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData(), now: func() time.Time { return time.Now().UTC() }}
}

// NewMemoryRepositories 回傳由同一個 MemoryStore 支撐的 Repositories
func NewMemoryRepositories(store *MemoryStore) *Repositories {
	repos := &Repositories{
		User:         memUsers{store},
		Profile:      memProfiles{store},
		Room:         memRooms{store},
		Membership:   memMemberships{store},
		Message:      memMessages{store},
		Moderation:   memModeration{store},
		Report:       memReports{store},
		Notification: memNotifications{store},
	}
	repos.tx = func(ctx context.Context, fn func(*Repositories) error) error {
		store.txMu.Lock()
		defer store.txMu.Unlock()

		store.mu.RLock()
		snapshot := store.data.clone()
		store.mu.RUnlock()

		if err := fn(repos); err != nil {
			store.mu.Lock()
			store.data = snapshot
			store.mu.Unlock()
			return err
		}
		return nil
	}
	return repos
}

func (s *MemoryStore) nextID(table string) uint {
	s.data.seq[table]++
	return s.data.seq[table]
}

// Messages 回傳房間所有訊息（含已刪除），供測試檢查
func (s *MemoryStore) Messages(roomID uint) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.data.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actions 回傳所有審計記錄，供測試檢查
func (s *MemoryStore) Actions() []models.ModerationAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModerationAction, 0, len(s.data.actions))
	for _, a := range s.data.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- users ----

type memUsers struct{ s *MemoryStore }

func (r memUsers) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Username == user.Username {
			return fmt.Errorf("username %q already exists", user.Username)
		}
	}
	now := r.s.now()
	user.ID = r.s.nextID("users")
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.data.users[user.ID] = *user
	return nil
}

func (r memUsers) FindByID(ctx context.Context, id uint) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.data.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// ---- profiles ----

type memProfiles struct{ s *MemoryStore }

func (r memProfiles) ensureLocked(userID uint) models.Profile {
	p, ok := r.s.data.profiles[userID]
	if !ok {
		now := r.s.now()
		p = models.Profile{
			ID:           r.s.nextID("profiles"),
			UserID:       userID,
			OnlineStatus: models.StatusOffline,
			LastSeen:     now,
			CreatedAt:    now,
		}
		r.s.data.profiles[userID] = p
	}
	return p
}

func (r memProfiles) Ensure(ctx context.Context, userID uint) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.ensureLocked(userID)
	return &p, nil
}

func (r memProfiles) SetBan(ctx context.Context, userID uint, reason string, until *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.ensureLocked(userID)
	p.IsBanned, p.BanReason, p.BannedUntil = true, reason, until
	r.s.data.profiles[userID] = p
	return nil
}

func (r memProfiles) ClearBan(ctx context.Context, userID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.profiles[userID]
	if !ok {
		return nil
	}
	p.IsBanned, p.BanReason, p.BannedUntil = false, "", nil
	r.s.data.profiles[userID] = p
	return nil
}

func (r memProfiles) ExpireBan(ctx context.Context, userID uint, until time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.profiles[userID]
	if !ok || !p.IsBanned || p.BannedUntil == nil || !p.BannedUntil.Equal(until) {
		return false, nil
	}
	p.IsBanned, p.BanReason, p.BannedUntil = false, "", nil
	r.s.data.profiles[userID] = p
	return true, nil
}

func (r memProfiles) SetStatus(ctx context.Context, userID uint, status models.OnlineStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.ensureLocked(userID)
	p.OnlineStatus, p.LastSeen = status, r.s.now()
	r.s.data.profiles[userID] = p
	return nil
}

func (r memProfiles) Touch(ctx context.Context, userID uint, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.data.profiles[userID]; ok {
		p.LastSeen = at
		r.s.data.profiles[userID] = p
	}
	return nil
}

// ---- rooms ----

type memRooms struct{ s *MemoryStore }

func (r memRooms) Create(ctx context.Context, room *models.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.rooms {
		if existing.Slug == room.Slug {
			return fmt.Errorf("slug %q already exists", room.Slug)
		}
	}
	now := r.s.now()
	room.ID = r.s.nextID("rooms")
	room.CreatedAt, room.UpdatedAt = now, now
	r.s.data.rooms[room.ID] = *room
	return nil
}

func (r memRooms) FindByID(ctx context.Context, id uint) (*models.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	room, ok := r.s.data.rooms[id]
	if !ok || room.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	return &room, nil
}

func (r memRooms) FindBySlug(ctx context.Context, slug string) (*models.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, room := range r.s.data.rooms {
		if room.Slug == slug && !room.DeletedAt.Valid {
			room := room
			return &room, nil
		}
	}
	return nil, ErrNotFound
}

// SlugExists 包含已刪除的房間，與資料庫的唯一索引一致
func (r memRooms) SlugExists(ctx context.Context, slug string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, room := range r.s.data.rooms {
		if room.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r memRooms) FindAll(ctx context.Context) ([]models.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rooms := make([]models.Room, 0, len(r.s.data.rooms))
	for _, room := range r.s.data.rooms {
		if !room.DeletedAt.Valid {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID > rooms[j].ID })
	return rooms, nil
}

func (r memRooms) Delete(ctx context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.data.rooms[id]
	if !ok || room.DeletedAt.Valid {
		return false, nil
	}
	room.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
	r.s.data.rooms[id] = room
	return true, nil
}

// ---- memberships ----

type memMemberships struct{ s *MemoryStore }

func (r memMemberships) Find(ctx context.Context, userID, roomID uint) (*models.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.data.memberships[memberKey{userID, roomID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r memMemberships) Ensure(ctx context.Context, userID, roomID uint, role models.MemberRole) (*models.Membership, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{userID, roomID}
	if m, ok := r.s.data.memberships[key]; ok {
		return &m, false, nil
	}
	m := models.Membership{
		ID:       r.s.nextID("memberships"),
		UserID:   userID,
		RoomID:   roomID,
		Role:     role,
		JoinedAt: r.s.now(),
	}
	r.s.data.memberships[key] = m
	return &m, true, nil
}

func (r memMemberships) Delete(ctx context.Context, userID, roomID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{userID, roomID}
	if _, ok := r.s.data.memberships[key]; !ok {
		return false, nil
	}
	delete(r.s.data.memberships, key)
	return true, nil
}

func (r memMemberships) DeleteByRoom(ctx context.Context, roomID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key, m := range r.s.data.memberships {
		if m.RoomID == roomID {
			delete(r.s.data.memberships, key)
			n++
		}
	}
	return n, nil
}

func (r memMemberships) ListByRoom(ctx context.Context, roomID uint) ([]models.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Membership
	for _, m := range r.s.data.memberships {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memMemberships) MarkRead(ctx context.Context, userID, roomID uint, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{userID, roomID}
	if m, ok := r.s.data.memberships[key]; ok {
		m.LastReadAt = &at
		r.s.data.memberships[key] = m
	}
	return nil
}

// ---- messages ----

type memMessages struct{ s *MemoryStore }

func (r memMessages) Create(ctx context.Context, message *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	message.ID = r.s.nextID("messages")
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.s.now()
	}
	r.s.data.messages[message.ID] = *message
	return nil
}

func (r memMessages) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.data.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r memMessages) SoftDelete(ctx context.Context, id, deleterID uint, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.messages[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	m.IsDeleted, m.DeletedByID, m.DeletedAt = true, &deleterID, &at
	r.s.data.messages[id] = m
	return true, nil
}

func (r memMessages) FindByRoom(ctx context.Context, roomID, beforeID uint, limit int) ([]models.Message, error) {
	all := r.s.Messages(roomID)
	out := make([]models.Message, 0, limit)
	for _, m := range all {
		if beforeID == 0 || m.ID < beforeID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ---- moderation ----

type memModeration struct{ s *MemoryStore }

func (r memModeration) CreateAction(ctx context.Context, action *models.ModerationAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	action.ID = r.s.nextID("actions")
	if action.CreatedAt.IsZero() {
		action.CreatedAt = r.s.now()
	}
	r.s.data.actions[action.ID] = *action
	return nil
}

func (r memModeration) ActiveBans(ctx context.Context, userID, roomID uint) ([]models.ModerationAction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.ModerationAction
	for _, a := range r.s.data.actions {
		if a.TargetUserID == userID && a.RoomID != nil && *a.RoomID == roomID && a.Kind == models.ActionBan && a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memModeration) DeactivateAction(ctx context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.actions[id]
	if !ok || !a.Active {
		return false, nil
	}
	a.Active = false
	r.s.data.actions[id] = a
	return true, nil
}

func (r memModeration) DeactivateBans(ctx context.Context, userID, roomID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.data.actions {
		if a.TargetUserID == userID && a.RoomID != nil && *a.RoomID == roomID && a.Kind == models.ActionBan && a.Active {
			a.Active = false
			r.s.data.actions[id] = a
			n++
		}
	}
	return n, nil
}

func (r memModeration) ListActions(ctx context.Context, roomID *uint, limit int) ([]models.ModerationAction, error) {
	all := r.s.Actions()
	out := make([]models.ModerationAction, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		a := all[i]
		if roomID != nil && (a.RoomID == nil || *a.RoomID != *roomID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r memModeration) FindMute(ctx context.Context, userID, roomID uint) (*models.Mute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.data.mutes[memberKey{userID, roomID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r memModeration) UpsertMute(ctx context.Context, mute *models.Mute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{mute.UserID, mute.RoomID}
	if existing, ok := r.s.data.mutes[key]; ok {
		mute.ID = existing.ID
	} else {
		mute.ID = r.s.nextID("mutes")
	}
	if mute.CreatedAt.IsZero() {
		mute.CreatedAt = r.s.now()
	}
	r.s.data.mutes[key] = *mute
	return nil
}

func (r memModeration) DeleteMute(ctx context.Context, userID, roomID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{userID, roomID}
	if _, ok := r.s.data.mutes[key]; !ok {
		return false, nil
	}
	delete(r.s.data.mutes, key)
	return true, nil
}

func (r memModeration) ExpireMute(ctx context.Context, id uint, expiresAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, m := range r.s.data.mutes {
		if m.ID == id && m.ExpiresAt != nil && m.ExpiresAt.Equal(expiresAt) {
			delete(r.s.data.mutes, key)
			return true, nil
		}
	}
	return false, nil
}

func (r memModeration) CreateWarning(ctx context.Context, warning *models.Warning) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	warning.ID = r.s.nextID("warnings")
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = r.s.now()
	}
	r.s.data.warnings[warning.ID] = *warning
	return nil
}

// ---- reports ----

type memReports struct{ s *MemoryStore }

func (r memReports) Create(ctx context.Context, report *models.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report.ID = r.s.nextID("reports")
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.s.now()
	}
	if report.Status == "" {
		report.Status = models.ReportPending
	}
	r.s.data.reports[report.ID] = *report
	return nil
}

func (r memReports) FindByID(ctx context.Context, id uint) (*models.Report, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	report, ok := r.s.data.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &report, nil
}

func (r memReports) HasPending(ctx context.Context, reporterID, messageID uint) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, report := range r.s.data.reports {
		if report.ReporterID == reporterID && report.MessageID == messageID && report.Status == models.ReportPending {
			return true, nil
		}
	}
	return false, nil
}

func (r memReports) Review(ctx context.Context, id uint, status models.ReportStatus, reviewerID uint, notes string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.data.reports[id]
	if !ok || report.Status != models.ReportPending {
		return false, nil
	}
	report.Status, report.ReviewedByID, report.ReviewedAt, report.ResolutionNotes = status, &reviewerID, &at, notes
	r.s.data.reports[id] = report
	return true, nil
}

func (r memReports) List(ctx context.Context, roomID *uint, status models.ReportStatus, limit int) ([]models.Report, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Report
	for _, report := range r.s.data.reports {
		if roomID != nil && report.RoomID != *roomID {
			continue
		}
		if status != "" && report.Status != status {
			continue
		}
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- notifications ----

type memNotifications struct{ s *MemoryStore }

func (r memNotifications) Create(ctx context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = r.s.nextID("notifications")
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.s.now()
	}
	r.s.data.notifications[n.ID] = *n
	return nil
}

func (r memNotifications) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var count int64
	for _, n := range r.s.data.notifications {
		if n.RecipientID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r memNotifications) MarkRead(ctx context.Context, id, userID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.data.notifications[id]
	if !ok || n.RecipientID != userID || n.IsRead {
		return false, nil
	}
	n.IsRead = true
	r.s.data.notifications[id] = n
	return true, nil
}
