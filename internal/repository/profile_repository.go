package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomchat/internal/models"
)

type ProfileRepository interface {
	// Ensure 取得用戶的 Profile，不存在時建立
	Ensure(ctx context.Context, userID uint) (*models.Profile, error)
	SetBan(ctx context.Context, userID uint, reason string, until *time.Time) error
	ClearBan(ctx context.Context, userID uint) error
	// ExpireBan 只在封鎖仍為 until 到期的那一筆時才解除，回傳是否實際修改
	ExpireBan(ctx context.Context, userID uint, until time.Time) (bool, error)
	SetStatus(ctx context.Context, userID uint, status models.OnlineStatus) error
	Touch(ctx context.Context, userID uint, at time.Time) error
}

type profileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Ensure(ctx context.Context, userID uint) (*models.Profile, error) {
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()
	seed := models.Profile{UserID: userID, OnlineStatus: models.StatusOffline, LastSeen: now, CreatedAt: now}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var profile models.Profile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

func (r *profileRepository) SetBan(ctx context.Context, userID uint, reason string, until *time.Time) error {
	if _, err := r.Ensure(ctx, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"is_banned": true, "ban_reason": reason, "banned_until": until}).Error
}

func (r *profileRepository) ClearBan(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"is_banned": false, "ban_reason": "", "banned_until": nil}).Error
}

func (r *profileRepository) ExpireBan(ctx context.Context, userID uint, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ? AND is_banned = ? AND banned_until = ?", userID, true, until).
		Updates(map[string]interface{}{"is_banned": false, "ban_reason": "", "banned_until": nil})
	return res.RowsAffected > 0, res.Error
}

func (r *profileRepository) SetStatus(ctx context.Context, userID uint, status models.OnlineStatus) error {
	if _, err := r.Ensure(ctx, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"online_status": status, "last_seen": time.Now().UTC()}).Error
}

func (r *profileRepository) Touch(ctx context.Context, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Update("last_seen", at).Error
}
