package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"roomchat/internal/storage"
)

// ErrNotFound 表示查詢的記錄不存在
var ErrNotFound = errors.New("repository: record not found")

type Repositories struct {
	User         UserRepository
	Profile      ProfileRepository
	Room         RoomRepository
	Membership   MembershipRepository
	Message      MessageRepository
	Moderation   ModerationRepository
	Report       ReportRepository
	Notification NotificationRepository

	tx func(ctx context.Context, fn func(*Repositories) error) error
}

func NewRepositories(db *storage.PostgresDB) *Repositories {
	return newGormRepositories(db.DB)
}

func newGormRepositories(db *gorm.DB) *Repositories {
	repos := &Repositories{
		User:         NewUserRepository(db),
		Profile:      NewProfileRepository(db),
		Room:         NewRoomRepository(db),
		Membership:   NewMembershipRepository(db),
		Message:      NewMessageRepository(db),
		Moderation:   NewModerationRepository(db),
		Report:       NewReportRepository(db),
		Notification: NewNotificationRepository(db),
	}
	repos.tx = func(ctx context.Context, fn func(*Repositories) error) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(newGormRepositories(tx))
		})
	}
	return repos
}

// Transaction 在單一交易中執行 fn，fn 回傳錯誤時所有寫入都會回滾
func (r *Repositories) Transaction(ctx context.Context, fn func(*Repositories) error) error {
	if r.tx == nil {
		return fn(r)
	}
	return r.tx(ctx, fn)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
