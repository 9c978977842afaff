// Package realtime 提供即時訊息的扇出基礎設施。
//
// Registry 追蹤每個房間中有哪些用戶的連線，Broker 把事件依主題分送到
// 每個訂閱者的有界佇列，RedisRelay 則在多個行程之間轉送事件。
// 這個包不讀寫資料庫，也不做權限判斷。
package realtime
