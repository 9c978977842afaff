package service

import (
	"context"
	"log/slog"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
)

// NotificationService 建立通知並推送給通知連線
type NotificationService struct {
	repo      repository.NotificationRepository
	publisher realtime.Publisher
	logger    *slog.Logger
}

func NewNotificationService(repo repository.NotificationRepository, publisher realtime.Publisher, logger *slog.Logger) *NotificationService {
	return &NotificationService{repo: repo, publisher: publisher, logger: logger}
}

// Notify 儲存通知後推送
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return storeErr(err, "notification")
	}
	s.Push(ctx, n)
	return nil
}

// Push 推送已儲存的通知與最新未讀數。推送失敗只記錄日誌。
func (s *NotificationService) Push(ctx context.Context, n *models.Notification) {
	topic := realtime.NotificationTopic(n.RecipientID)
	ev, err := realtime.NewEvent(&realtime.NotificationFrame{Notification: n})
	if err != nil {
		s.logger.Error("encode notification", "notification_id", n.ID, "error", err)
		return
	}
	s.publisher.Publish(topic, ev)
	s.pushUnread(ctx, n.RecipientID)
}

func (s *NotificationService) pushUnread(ctx context.Context, userID uint) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		s.logger.Warn("load unread count", "user_id", userID, "error", err)
		return
	}
	s.publisher.Publish(realtime.NotificationTopic(userID), realtime.MustEvent(&realtime.UnreadCountFrame{Count: count}))
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	count, err := s.repo.UnreadCount(ctx, userID)
	return count, storeErr(err, "notifications")
}

// MarkRead 標記通知為已讀並回傳新的未讀數，不屬於該用戶的通知會被忽略
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) (int64, error) {
	if _, err := s.repo.MarkRead(ctx, notificationID, userID); err != nil {
		return 0, storeErr(err, "notification")
	}
	return s.UnreadCount(ctx, userID)
}
