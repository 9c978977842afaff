package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"roomchat/internal/models"
)

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	// SoftDelete 只翻轉軟刪除欄位，回傳是否實際修改
	SoftDelete(ctx context.Context, id, deleterID uint, at time.Time) (bool, error)
	// FindByRoom 回傳 beforeID 之前（不含）最新的 limit 則訊息，依建立時間遞增排序；beforeID 為 0 表示從最新開始
	FindByRoom(ctx context.Context, roomID, beforeID uint, limit int) ([]models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, translate(err)
	}
	return &message, nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id, deleterID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_by_id": deleterID, "deleted_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *messageRepository) FindByRoom(ctx context.Context, roomID, beforeID uint, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var messages []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	// 反轉為時間遞增
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
