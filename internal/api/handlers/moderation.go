package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomchat/internal/models"
	"roomchat/internal/service"
)

// ModerationHandler 處理房間與全域的管理指令
type ModerationHandler struct {
	moderationService *service.ModerationService
	userService       *service.UserService
}

func NewModerationHandler(moderationService *service.ModerationService, userService *service.UserService) *ModerationHandler {
	return &ModerationHandler{moderationService: moderationService, userService: userService}
}

// ModerationInput 定義管理指令的請求內容，duration 以分鐘計，省略表示永久
type ModerationInput struct {
	UserID   uint   `json:"user_id" binding:"required"`
	Reason   string `json:"reason"`
	Duration *int   `json:"duration"`
}

func (h *ModerationHandler) Ban(c *gin.Context)    { h.run(c, h.moderationService.Ban) }
func (h *ModerationHandler) Unban(c *gin.Context)  { h.run(c, h.moderationService.Unban) }
func (h *ModerationHandler) Mute(c *gin.Context)   { h.run(c, h.moderationService.Mute) }
func (h *ModerationHandler) Unmute(c *gin.Context) { h.run(c, h.moderationService.Unmute) }
func (h *ModerationHandler) Kick(c *gin.Context)   { h.run(c, h.moderationService.Kick) }
func (h *ModerationHandler) Warn(c *gin.Context)   { h.run(c, h.moderationService.Warn) }

// run 解析請求並執行指令；沒有 slug 參數的路由是全域指令
func (h *ModerationHandler) run(c *gin.Context, command func(context.Context, service.ModerationRequest) (*models.ModerationAction, error)) {
	var input ModerationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	action, err := command(c.Request.Context(), service.ModerationRequest{
		Actor:    actor,
		TargetID: input.UserID,
		RoomSlug: c.Param("slug"),
		Reason:   input.Reason,
		Duration: input.Duration,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": action})
}

// DeleteMessage 軟刪除訊息
func (h *ModerationHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的訊息 ID"})
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	actor, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	action, err := h.moderationService.DeleteMessage(c.Request.Context(), actor, uint(messageID), input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": action})
}

// CheckMuted 回傳用戶在房間的禁言狀態
func (h *ModerationHandler) CheckMuted(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的用戶 ID"})
		return
	}
	actor, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	state, err := h.moderationService.CheckMuted(c.Request.Context(), actor, c.Param("slug"), uint(userID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_muted": state.Muted, "expires_at": state.ExpiresAt})
}

// ListActions 回傳房間的管理記錄
func (h *ModerationHandler) ListActions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的 limit 參數"})
		return
	}
	actor, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	actions, err := h.moderationService.ListActions(c.Request.Context(), actor, c.Param("slug"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// ReportMessage 檢舉訊息
func (h *ModerationHandler) ReportMessage(c *gin.Context) {
	messageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的訊息 ID"})
		return
	}
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reporter, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	report, err := h.moderationService.ReportMessage(c.Request.Context(), reporter, uint(messageID), input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// ReviewReport 處理檢舉，status 為 reviewed、resolved 或 dismissed
func (h *ModerationHandler) ReviewReport(c *gin.Context) {
	reportID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的檢舉 ID"})
		return
	}
	var input struct {
		Status models.ReportStatus `json:"status" binding:"required"`
		Notes  string              `json:"resolution_notes"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reviewer, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	report, err := h.moderationService.ReviewReport(c.Request.Context(), reviewer, uint(reportID), input.Status, input.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListReports 回傳房間或全部的檢舉，可用 status 篩選
func (h *ModerationHandler) ListReports(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的 limit 參數"})
		return
	}
	actor, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	status := models.ReportStatus(c.Query("status"))
	reports, err := h.moderationService.ListReports(c.Request.Context(), actor, c.Param("slug"), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}
