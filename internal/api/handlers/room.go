package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomchat/internal/models"
	"roomchat/internal/service"
)

// RoomHandler 處理與聊天室相關的請求
type RoomHandler struct {
	roomService *service.RoomService
	userService *service.UserService
}

// NewRoomHandler 創建一個新的 RoomHandler 實例
func NewRoomHandler(roomService *service.RoomService, userService *service.UserService) *RoomHandler {
	return &RoomHandler{roomService: roomService, userService: userService}
}

// ListRooms 回傳用戶看得到的房間
func (h *RoomHandler) ListRooms(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// CreateRoom 處理創建新房間的請求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var input struct {
		Name        string                `json:"name" binding:"required"`
		Description string                `json:"description"`
		Visibility  models.RoomVisibility `json:"visibility"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), user, input.Name, input.Description, input.Visibility)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GetRoom 處理獲取房間訊息的請求
func (h *RoomHandler) GetRoom(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	room, err := h.roomService.ViewRoom(c.Request.Context(), c.Param("slug"), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoom 處理加入房間的請求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	created, err := h.roomService.JoinRoom(c.Request.Context(), c.Param("slug"), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "成功加入房間", "created": created})
}

// LeaveRoom 處理離開房間的請求
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	if err := h.roomService.LeaveRoom(c.Request.Context(), c.Param("slug"), user); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "成功離開房間"})
}

// InviteUser 邀請用戶加入私人房間
func (h *RoomHandler) InviteUser(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	created, err := h.roomService.InviteUser(c.Request.Context(), c.Param("slug"), user, input.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "邀請成功", "created": created})
}

// GetMessages 以 before 游標分頁讀取歷史訊息
func (h *RoomHandler) GetMessages(c *gin.Context) {
	var before uint64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "無效的 before 參數"})
			return
		}
		before = v
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的 limit 參數"})
		return
	}
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	messages, err := h.roomService.History(c.Request.Context(), c.Param("slug"), user, uint(before), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// GetOnlineMembers 回傳房間中在線的用戶
func (h *RoomHandler) GetOnlineMembers(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	members, err := h.roomService.OnlineMembers(c.Request.Context(), c.Param("slug"), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// SendMessage 透過 HTTP 送出訊息，並廣播給房間中的連線
func (h *RoomHandler) SendMessage(c *gin.Context) {
	var input struct {
		Message  string  `json:"message"`
		ImageURL *string `json:"image_url"`
		ParentID *uint   `json:"parent_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}

	msg, err := h.roomService.PostMessage(c.Request.Context(), c.Param("slug"), user, service.MessageInput{
		Text:     input.Message,
		ImageURL: input.ImageURL,
		ParentID: input.ParentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// DeleteRoom 刪除房間，只有擁有者或 staff 可以執行
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	user, ok := currentUser(c, h.userService)
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), c.Param("slug"), user); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "房間已刪除"})
}
