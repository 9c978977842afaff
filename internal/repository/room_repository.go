package repository

import (
	"context"

	"gorm.io/gorm"

	"roomchat/internal/models"
)

type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	FindByID(ctx context.Context, id uint) (*models.Room, error)
	FindBySlug(ctx context.Context, slug string) (*models.Room, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	FindAll(ctx context.Context) ([]models.Room, error) // 簡單的列表查詢
	// Delete 軟刪除房間，slug 仍保留不可重用
	Delete(ctx context.Context, id uint) (bool, error)
}

type roomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepository) FindByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (r *roomRepository) FindBySlug(ctx context.Context, slug string) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&room).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (r *roomRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Room{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// FindAll 查詢所有房間
func (r *roomRepository) FindAll(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) Delete(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Room{}, id)
	return res.RowsAffected > 0, res.Error
}
