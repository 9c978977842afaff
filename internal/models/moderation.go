package models

import "time"

// ActionKind 定義管理操作類型
type ActionKind string

const (
	ActionBan    ActionKind = "ban"
	ActionUnban  ActionKind = "unban"
	ActionMute   ActionKind = "mute"
	ActionUnmute ActionKind = "unmute"
	ActionKick   ActionKind = "kick"
	ActionWarn   ActionKind = "warn"
	ActionDelete ActionKind = "delete"
)

// ModerationAction 是只增不改的審計記錄，唯一會被修改的是 Active
type ModerationAction struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ModeratorID  uint       `gorm:"not null;index" json:"moderator_id"`
	TargetUserID uint       `gorm:"not null;index:idx_action_target" json:"target_user_id"`
	Kind         ActionKind `gorm:"type:varchar(20);not null;index:idx_action_target" json:"action"`
	RoomID       *uint      `gorm:"index:idx_action_target" json:"room_id"` // nil 表示全域
	Reason       string     `gorm:"type:text" json:"reason"`
	Duration     *int       `json:"duration"` // 分鐘
	ExpiresAt    *time.Time `json:"expires_at"`
	Active       bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `gorm:"not null;index" json:"created_at"`
}

// ExpiredAt 判斷記錄在 now 時刻是否已過期，ExpiresAt 為 nil 時永不過期
func (a *ModerationAction) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Mute 表示用戶在房間中目前的禁言狀態，(user, room) 唯一
type Mute struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;uniqueIndex:idx_mute_user_room" json:"user_id"`
	RoomID    uint       `gorm:"not null;uniqueIndex:idx_mute_user_room" json:"room_id"`
	MutedByID uint       `gorm:"not null" json:"muted_by_id"`
	Reason    string     `gorm:"type:text" json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// ExpiredAt 判斷禁言在 now 時刻是否已過期
func (m *Mute) ExpiredAt(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Warning 是純資訊性的警告，不影響存取權限
type Warning struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	IssuedByID   uint      `gorm:"not null" json:"issued_by_id"`
	RoomID       *uint     `json:"room_id"`
	Reason       string    `gorm:"type:text;not null" json:"reason"`
	Acknowledged bool      `gorm:"not null;default:false" json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReportStatus 定義檢舉的處理狀態
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// Valid 判斷狀態是否為已知值
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportReviewed, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// Report 是用戶對訊息的檢舉，由房間管理者或 staff 審核
type Report struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	ReporterID      uint         `gorm:"not null;index:idx_report_reporter_message" json:"reporter_id"`
	MessageID       uint         `gorm:"not null;index:idx_report_reporter_message" json:"message_id"`
	RoomID          uint         `gorm:"not null;index" json:"room_id"`
	Reason          string       `gorm:"type:text;not null" json:"reason"`
	Status          ReportStatus `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	ReviewedByID    *uint        `json:"reviewed_by_id"`
	ReviewedAt      *time.Time   `json:"reviewed_at"`
	ResolutionNotes string       `gorm:"type:text" json:"resolution_notes"`
	CreatedAt       time.Time    `gorm:"not null;index" json:"created_at"`
}
