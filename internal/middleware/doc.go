// Package middleware 提供了聊天服務 HTTP 請求的中間件。
//
// 包含 Bearer 權杖驗證、請求編號與請求日誌。
// WebSocket 握手同樣透過 RequestToken 取得權杖。
package middleware
