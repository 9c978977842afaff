package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomchat/internal/models"
)

type MembershipRepository interface {
	Find(ctx context.Context, userID, roomID uint) (*models.Membership, error)
	// Ensure 冪等地建立成員資格，created 表示本次呼叫是否實際新增
	Ensure(ctx context.Context, userID, roomID uint, role models.MemberRole) (m *models.Membership, created bool, err error)
	Delete(ctx context.Context, userID, roomID uint) (bool, error)
	DeleteByRoom(ctx context.Context, roomID uint) (int64, error)
	ListByRoom(ctx context.Context, roomID uint) ([]models.Membership, error)
	MarkRead(ctx context.Context, userID, roomID uint, at time.Time) error
}

type membershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Find(ctx context.Context, userID, roomID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *membershipRepository) Ensure(ctx context.Context, userID, roomID uint, role models.MemberRole) (*models.Membership, bool, error) {
	db := r.db.WithContext(ctx)
	seed := models.Membership{UserID: userID, RoomID: roomID, Role: role, JoinedAt: time.Now().UTC()}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoNothing: true,
	}).Create(&seed)
	if res.Error != nil {
		return nil, false, res.Error
	}
	m, err := r.Find(ctx, userID, roomID)
	if err != nil {
		return nil, false, err
	}
	return m, res.RowsAffected > 0, nil
}

func (r *membershipRepository) Delete(ctx context.Context, userID, roomID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).Delete(&models.Membership{})
	return res.RowsAffected > 0, res.Error
}

func (r *membershipRepository) DeleteByRoom(ctx context.Context, roomID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&models.Membership{})
	return res.RowsAffected, res.Error
}

func (r *membershipRepository) ListByRoom(ctx context.Context, roomID uint) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at asc").Find(&members).Error
	return members, err
}

func (r *membershipRepository) MarkRead(ctx context.Context, userID, roomID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Update("last_read_at", at).Error
}
