package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomchat/internal/repository"
)

// Status 是某用戶在某房間的完整管理狀態
type Status struct {
	GloballyBanned bool
	RoomBanned     bool
	RoomMuted      bool
	MuteExpiresAt  *time.Time
}

// Denied 表示用戶不可存取房間
func (s Status) Denied() bool {
	return s.GloballyBanned || s.RoomBanned
}

// MuteState 是禁言查詢的結果
type MuteState struct {
	Muted     bool
	ExpiresAt *time.Time // nil 且 Muted 表示永久禁言
}

type Resolver struct {
	profiles   repository.ProfileRepository
	moderation repository.ModerationRepository
	now        func() time.Time
	logger     *slog.Logger
}

// Option 調整 Resolver 的行為
type Option func(*Resolver)

// WithClock 替換取得目前時間的函式
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger 設定記錄失效事件用的 logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(profiles repository.ProfileRepository, moderation repository.ModerationRepository, opts ...Option) *Resolver {
	r := &Resolver{
		profiles:   profiles,
		moderation: moderation,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// GloballyBanned 檢查用戶 Profile 上的全域封鎖
func (r *Resolver) GloballyBanned(ctx context.Context, userID uint) (bool, error) {
	profile, err := r.profiles.Ensure(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load profile: %w", err)
	}
	if !profile.IsBanned {
		return false, nil
	}
	now := r.now()
	if profile.BannedAt(now) {
		return true, nil
	}
	// 已過期的暫時封鎖
	flipped, err := r.profiles.ExpireBan(ctx, userID, *profile.BannedUntil)
	if err != nil {
		return false, fmt.Errorf("expire global ban: %w", err)
	}
	if flipped {
		r.logger.Info("global ban expired", "user_id", userID)
	}
	return false, nil
}

// RoomBanned 檢查房間範圍的封鎖記錄，過期記錄會被失效
func (r *Resolver) RoomBanned(ctx context.Context, userID, roomID uint) (bool, error) {
	bans, err := r.moderation.ActiveBans(ctx, userID, roomID)
	if err != nil {
		return false, fmt.Errorf("load room bans: %w", err)
	}
	now := r.now()
	banned := false
	for i := range bans {
		ban := &bans[i]
		if !ban.ExpiredAt(now) {
			banned = true
			continue
		}
		flipped, err := r.moderation.DeactivateAction(ctx, ban.ID)
		if err != nil {
			return false, fmt.Errorf("deactivate ban %d: %w", ban.ID, err)
		}
		if flipped {
			r.logger.Info("room ban expired", "user_id", userID, "room_id", roomID, "action_id", ban.ID)
		}
	}
	return banned, nil
}

// MuteStatus 檢查用戶在房間中的禁言狀態，過期的禁言會被刪除
func (r *Resolver) MuteStatus(ctx context.Context, userID, roomID uint) (MuteState, error) {
	mute, err := r.moderation.FindMute(ctx, userID, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return MuteState{}, nil
	}
	if err != nil {
		return MuteState{}, fmt.Errorf("load mute: %w", err)
	}
	if !mute.ExpiredAt(r.now()) {
		return MuteState{Muted: true, ExpiresAt: mute.ExpiresAt}, nil
	}
	deleted, err := r.moderation.ExpireMute(ctx, mute.ID, *mute.ExpiresAt)
	if err != nil {
		return MuteState{}, fmt.Errorf("expire mute %d: %w", mute.ID, err)
	}
	if deleted {
		r.logger.Info("mute expired", "user_id", userID, "room_id", roomID)
	}
	return MuteState{}, nil
}

// Resolve 一次回答三個問題。全域封鎖成立時不再檢查房間狀態。
func (r *Resolver) Resolve(ctx context.Context, userID, roomID uint) (Status, error) {
	global, err := r.GloballyBanned(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if global {
		return Status{GloballyBanned: true}, nil
	}
	roomBanned, err := r.RoomBanned(ctx, userID, roomID)
	if err != nil {
		return Status{}, err
	}
	mute, err := r.MuteStatus(ctx, userID, roomID)
	if err != nil {
		return Status{}, err
	}
	return Status{RoomBanned: roomBanned, RoomMuted: mute.Muted, MuteExpiresAt: mute.ExpiresAt}, nil
}

// CanAccess 回傳用戶是否可以進入房間（未被全域或房間封鎖）
func (r *Resolver) CanAccess(ctx context.Context, userID, roomID uint) (bool, error) {
	global, err := r.GloballyBanned(ctx, userID)
	if err != nil || global {
		return false, err
	}
	banned, err := r.RoomBanned(ctx, userID, roomID)
	if err != nil {
		return false, err
	}
	return !banned, nil
}
