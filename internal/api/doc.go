// Package api 處理聊天服務的 HTTP 與 WebSocket 路由。
//
// 這個包把房間、管理與即時連線的處理器掛到 gin 路由上。
// 它負責將請求轉換為服務調用，並將服務錯誤轉換回 HTTP 狀態碼。
package api
