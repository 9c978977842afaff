// Package moderation 根據持久化狀態判斷用戶目前是否被全域封鎖、房間封鎖或禁言。
//
// 每次查詢都讀取最新的資料，過期的記錄會在第一次被讀到時順便失效：
// 封鎖記錄的 active 會被設為 false，禁言記錄會被刪除。
// 失效操作是條件式寫入，並發查詢同一筆記錄時只會實際修改一次。
package moderation
