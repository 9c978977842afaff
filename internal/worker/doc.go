// Package worker 以 asynq 排程定時管理記錄的到期處理。
//
// 禁言或封鎖有期限時，服務層會在到期時間排入一個任務；
// 任務執行時再交回服務層解除狀態並通知在線的用戶。
package worker
