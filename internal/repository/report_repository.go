package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"roomchat/internal/models"
)

type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	FindByID(ctx context.Context, id uint) (*models.Report, error)
	// HasPending 判斷用戶是否已經對該訊息有一筆尚未處理的檢舉
	HasPending(ctx context.Context, reporterID, messageID uint) (bool, error)
	// Review 只更新仍為 pending 的檢舉，回傳本次呼叫是否實際修改
	Review(ctx context.Context, id uint, status models.ReportStatus, reviewerID uint, notes string, at time.Time) (bool, error)
	// List 依建立時間倒序列出檢舉，roomID 為 nil 時不限房間，status 為空時不限狀態
	List(ctx context.Context, roomID *uint, status models.ReportStatus, limit int) ([]models.Report, error)
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.Status == "" {
		report.Status = models.ReportPending
	}
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *reportRepository) FindByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, translate(err)
	}
	return &report, nil
}

func (r *reportRepository) HasPending(ctx context.Context, reporterID, messageID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("reporter_id = ? AND message_id = ? AND status = ?", reporterID, messageID, models.ReportPending).
		Count(&count).Error
	return count > 0, err
}

func (r *reportRepository) Review(ctx context.Context, id uint, status models.ReportStatus, reviewerID uint, notes string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", id, models.ReportPending).
		Updates(map[string]interface{}{
			"status":           status,
			"reviewed_by_id":   reviewerID,
			"reviewed_at":      at,
			"resolution_notes": notes,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *reportRepository) List(ctx context.Context, roomID *uint, status models.ReportStatus, limit int) ([]models.Report, error) {
	q := r.db.WithContext(ctx)
	if roomID != nil {
		q = q.Where("room_id = ?", *roomID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reports []models.Report
	err := q.Order("created_at desc").Limit(limit).Find(&reports).Error
	return reports, err
}
