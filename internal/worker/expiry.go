package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"roomchat/internal/service"
)

const (
	// TaskExpire 是到期任務的類型名稱
	TaskExpire = "moderation:expire"
	// Queue 是到期任務使用的佇列
	Queue = "moderation"

	maxRetry = 3
)

// Scheduler 把到期記錄排入 asynq
type Scheduler struct {
	client *asynq.Client
	logger *slog.Logger
}

var _ service.ExpiryScheduler = (*Scheduler)(nil)

func NewScheduler(opt asynq.RedisConnOpt, logger *slog.Logger) *Scheduler {
	return &Scheduler{client: asynq.NewClient(opt), logger: logger}
}

// ScheduleExpiry 排入一個在 notice.ExpiresAt 執行的任務
func (s *Scheduler) ScheduleExpiry(ctx context.Context, notice service.ExpiryNotice) error {
	task, err := NewExpiryTask(notice)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(notice.ExpiresAt),
		asynq.Queue(Queue),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskExpire, err)
	}
	s.logger.Debug("expiry scheduled", "task_id", info.ID, "kind", notice.Kind, "user_id", notice.UserID, "room_id", notice.RoomID, "process_at", notice.ExpiresAt)
	return nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

// NewExpiryTask 建立到期任務
func NewExpiryTask(notice service.ExpiryNotice) (*asynq.Task, error) {
	payload, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("encode expiry notice: %w", err)
	}
	return asynq.NewTask(TaskExpire, payload), nil
}

// ExpiryHandler 處理到期記錄
type ExpiryHandler func(ctx context.Context, notice service.ExpiryNotice) error

// HandleExpiryTask 解碼任務內容後交給 handle。內容無法解碼時不重試。
func HandleExpiryTask(handle ExpiryHandler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var notice service.ExpiryNotice
		if err := json.Unmarshal(t.Payload(), &notice); err != nil {
			return fmt.Errorf("decode expiry notice: %v: %w", err, asynq.SkipRetry)
		}
		if notice.UserID == 0 || notice.RoomID == 0 {
			return fmt.Errorf("expiry notice without user or room: %w", asynq.SkipRetry)
		}
		return handle(ctx, notice)
	}
}

// Server 消費到期任務
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

func NewServer(opt asynq.RedisConnOpt, handle ExpiryHandler, logger *slog.Logger) *Server {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{Queue: 1},
		Logger:      newAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskExpire, HandleExpiryTask(handle))
	return &Server{server: srv, mux: mux, logger: logger}
}

// Run 啟動 server 並阻塞到 ctx 結束，之後等待執行中的任務完成
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start expiry worker: %w", err)
	}
	s.logger.Info("expiry worker started", "queue", Queue)
	<-ctx.Done()
	s.server.Shutdown()
	s.logger.Info("expiry worker stopped")
	return nil
}
