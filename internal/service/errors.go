package service

import (
	"errors"
	"fmt"
	"strings"

	"roomchat/internal/repository"
)

var (
	// ErrUnauthenticated 表示 token 無效或用戶不存在、已停用
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden 表示沒有權限，請求不會造成任何修改
	ErrForbidden = errors.New("forbidden")
	// ErrValidation 表示輸入內容不合法
	ErrValidation = errors.New("validation failed")
	// ErrMuted 表示用戶在房間中被禁言
	ErrMuted = errors.New("muted")
	// ErrConflict 表示與既有資料衝突，例如用戶名稱已被使用
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	// ErrPersistence 包裝儲存層錯誤
	ErrPersistence = errors.New("persistence failure")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// storeErr 把儲存層錯誤轉成服務層錯誤，what 描述找不到的對象
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if isServiceErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func isServiceErr(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrForbidden, ErrValidation, ErrMuted, ErrConflict, ErrNotFound, ErrPersistence} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// publicSentinels 是錯誤訊息中可以去掉的前綴，ErrPersistence 的內容不對外顯示
var publicSentinels = []error{ErrValidation, ErrForbidden, ErrNotFound, ErrConflict, ErrUnauthenticated}

// PublicMessage 取出可以顯示給客戶端的錯誤文字
func PublicMessage(err error) string {
	if errors.Is(err, ErrMuted) {
		return mutedMessage
	}
	msg := err.Error()
	for _, sentinel := range publicSentinels {
		if prefix := sentinel.Error() + ": "; strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
