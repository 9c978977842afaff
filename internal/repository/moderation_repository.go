package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomchat/internal/models"
)

type ModerationRepository interface {
	CreateAction(ctx context.Context, action *models.ModerationAction) error
	// ActiveBans 回傳用戶在房間中所有 active 的封鎖記錄（不論是否已過期）
	ActiveBans(ctx context.Context, userID, roomID uint) ([]models.ModerationAction, error)
	// DeactivateAction 條件式地將 active 設為 false，已經失效的記錄不會被重複修改
	DeactivateAction(ctx context.Context, id uint) (bool, error)
	DeactivateBans(ctx context.Context, userID, roomID uint) (int64, error)
	ListActions(ctx context.Context, roomID *uint, limit int) ([]models.ModerationAction, error)

	FindMute(ctx context.Context, userID, roomID uint) (*models.Mute, error)
	UpsertMute(ctx context.Context, mute *models.Mute) error
	DeleteMute(ctx context.Context, userID, roomID uint) (bool, error)
	// ExpireMute 只刪除仍以 expiresAt 到期的那一筆，避免誤刪之後重新設定的禁言
	ExpireMute(ctx context.Context, id uint, expiresAt time.Time) (bool, error)

	CreateWarning(ctx context.Context, warning *models.Warning) error
}

type moderationRepository struct {
	db *gorm.DB
}

func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) CreateAction(ctx context.Context, action *models.ModerationAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *moderationRepository) ActiveBans(ctx context.Context, userID, roomID uint) ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	err := r.db.WithContext(ctx).
		Where("target_user_id = ? AND room_id = ? AND kind = ? AND active = ?", userID, roomID, models.ActionBan, true).
		Order("created_at desc").
		Find(&actions).Error
	return actions, err
}

func (r *moderationRepository) DeactivateAction(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ModerationAction{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	return res.RowsAffected > 0, res.Error
}

func (r *moderationRepository) DeactivateBans(ctx context.Context, userID, roomID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ModerationAction{}).
		Where("target_user_id = ? AND room_id = ? AND kind = ? AND active = ?", userID, roomID, models.ActionBan, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (r *moderationRepository) ListActions(ctx context.Context, roomID *uint, limit int) ([]models.ModerationAction, error) {
	q := r.db.WithContext(ctx)
	if roomID != nil {
		q = q.Where("room_id = ?", *roomID)
	}
	var actions []models.ModerationAction
	err := q.Order("created_at desc").Limit(limit).Find(&actions).Error
	return actions, err
}

func (r *moderationRepository) FindMute(ctx context.Context, userID, roomID uint) (*models.Mute, error) {
	var mute models.Mute
	err := r.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).First(&mute).Error
	if err != nil {
		return nil, translate(err)
	}
	return &mute, nil
}

func (r *moderationRepository) UpsertMute(ctx context.Context, mute *models.Mute) error {
	if mute.CreatedAt.IsZero() {
		mute.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"muted_by_id", "reason", "expires_at", "created_at"}),
	}).Create(mute).Error
}

func (r *moderationRepository) DeleteMute(ctx context.Context, userID, roomID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).Delete(&models.Mute{})
	return res.RowsAffected > 0, res.Error
}

func (r *moderationRepository) ExpireMute(ctx context.Context, id uint, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND expires_at = ?", id, expiresAt).Delete(&models.Mute{})
	return res.RowsAffected > 0, res.Error
}

func (r *moderationRepository) CreateWarning(ctx context.Context, warning *models.Warning) error {
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(warning).Error
}
