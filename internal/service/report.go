package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roomchat/internal/models"
	"roomchat/internal/repository"
)

// ReportMessage 讓看得到訊息的用戶檢舉它。
// 不能檢舉自己的訊息，同一則訊息在處理前只能檢舉一次。
func (s *ModerationService) ReportMessage(ctx context.Context, reporter *models.User, messageID uint, reason string) (*models.Report, error) {
	if reporter == nil {
		return nil, ErrUnauthenticated
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("a report requires a reason")
	}

	msg, err := s.repos.Message.FindByID(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("message %d", messageID))
	}
	room, err := s.repos.Room.FindByID(ctx, msg.RoomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	if err := s.canSee(ctx, room, reporter); err != nil {
		return nil, err
	}
	if msg.SenderID == reporter.ID {
		return nil, validationf("you cannot report your own messages")
	}
	if msg.IsDeleted {
		return nil, validationf("message %d is already deleted", msg.ID)
	}

	report := &models.Report{
		ReporterID: reporter.ID,
		MessageID:  msg.ID,
		RoomID:     room.ID,
		Reason:     reason,
		Status:     models.ReportPending,
		CreatedAt:  s.now(),
	}
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		pending, err := tx.Report.HasPending(ctx, reporter.ID, msg.ID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("%w: you have already reported this message", ErrConflict)
		}
		return tx.Report.Create(ctx, report)
	})
	if err != nil {
		return nil, storeErr(err, "report")
	}

	s.logger.Info("message reported", "reporter_id", reporter.ID, "message_id", msg.ID, "room", room.Slug, "report_id", report.ID)
	return report, nil
}

// ReviewReport 由房間管理者或 staff 處理檢舉，每筆檢舉只能處理一次
func (s *ModerationService) ReviewReport(ctx context.Context, reviewer *models.User, reportID uint, status models.ReportStatus, notes string) (*models.Report, error) {
	if reviewer == nil {
		return nil, ErrUnauthenticated
	}
	if !status.Valid() || status == models.ReportPending {
		return nil, validationf("invalid review status: %q", status)
	}

	report, err := s.repos.Report.FindByID(ctx, reportID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("report %d", reportID))
	}
	room, err := s.repos.Room.FindByID(ctx, report.RoomID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err, "room")
	}
	// 房間已刪除時只有 staff 可以處理
	allowed := reviewer.IsStaff || reviewer.IsSuperuser
	if !allowed && room != nil {
		if allowed, err = canModerate(ctx, s.repos.Membership, room, reviewer); err != nil {
			return nil, err
		}
	}
	if !allowed {
		return nil, forbiddenf("user %d cannot review report %d", reviewer.ID, report.ID)
	}

	now := s.now()
	notes = strings.TrimSpace(notes)
	updated, err := s.repos.Report.Review(ctx, report.ID, status, reviewer.ID, notes, now)
	if err != nil {
		return nil, storeErr(err, "report")
	}
	if !updated {
		return nil, fmt.Errorf("%w: report %d was already reviewed", ErrConflict, report.ID)
	}

	reviewerID := reviewer.ID
	report.Status, report.ReviewedByID, report.ReviewedAt, report.ResolutionNotes = status, &reviewerID, &now, notes
	s.logger.Info("report reviewed", "reviewer_id", reviewer.ID, "report_id", report.ID, "status", status)
	return report, nil
}

// ListReports 列出房間的檢舉；slug 為空時列出全部，只限 staff
func (s *ModerationService) ListReports(ctx context.Context, actor *models.User, slug string, status models.ReportStatus, limit int) ([]models.Report, error) {
	if status != "" && !status.Valid() {
		return nil, validationf("invalid report status: %q", status)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultActionLimit
	}
	var roomID *uint
	if slug != "" {
		room, err := s.repos.Room.FindBySlug(ctx, slug)
		if err != nil {
			return nil, storeErr(err, "room "+slug)
		}
		ok, err := canModerate(ctx, s.repos.Membership, room, actor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, forbiddenf("user %d cannot moderate %s", actor.ID, room.Slug)
		}
		roomID = &room.ID
	} else if !actor.IsStaff && !actor.IsSuperuser {
		return nil, forbiddenf("only staff can list all reports")
	}
	reports, err := s.repos.Report.List(ctx, roomID, status, limit)
	return reports, storeErr(err, "reports")
}

// canSee 檢查用戶能否讀取房間的訊息
func (s *ModerationService) canSee(ctx context.Context, room *models.Room, user *models.User) error {
	allowed, err := s.resolver.CanAccess(ctx, user.ID, room.ID)
	if err != nil {
		return storeErr(err, "moderation state")
	}
	if !allowed {
		return forbiddenf("user %d is banned from %s", user.ID, room.Slug)
	}
	if room.Visibility == models.RoomPublic || room.IsOwner(user.ID) || user.IsStaff || user.IsSuperuser {
		return nil
	}
	if _, err := s.repos.Membership.Find(ctx, user.ID, room.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return forbiddenf("%s is a private room", room.Slug)
		}
		return storeErr(err, "membership")
	}
	return nil
}
