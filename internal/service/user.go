package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/models"
	"roomchat/internal/repository"
	"roomchat/internal/utils"
)

const (
	maxUsernameLength = 150
	minPasswordLength = 6
)

type UserService struct {
	userRepo    repository.UserRepository
	profileRepo repository.ProfileRepository
	tokens      *utils.TokenManager
}

func NewUserService(userRepo repository.UserRepository, profileRepo repository.ProfileRepository, tokens *utils.TokenManager) *UserService {
	return &UserService{userRepo: userRepo, profileRepo: profileRepo, tokens: tokens}
}

// Register 建立用戶與其 Profile
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, validationf("username must be 1-%d characters", maxUsernameLength)
	}
	if strings.ContainsAny(username, " \t\n@") {
		return nil, validationf("username contains invalid characters")
	}
	if len(password) < minPasswordLength {
		return nil, validationf("password must be at least %d characters", minPasswordLength)
	}

	if _, err := s.userRepo.FindByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err, "user")
	}

	// 對密碼進行加密
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Username: username, Password: string(hashed)}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, storeErr(err, "user")
	}
	if _, err := s.EnsureProfile(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 驗證密碼並簽發 token
func (s *UserService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
		}
		return "", nil, storeErr(err, "user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
	}
	profile, err := s.EnsureProfile(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	if profile.IsDisabled {
		return "", nil, forbiddenf("account is disabled")
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// Authenticate 解析 token 並載入仍然有效的用戶
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d no longer exists", ErrUnauthenticated, claims.UserID)
		}
		return nil, storeErr(err, "user")
	}
	profile, err := s.EnsureProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile.IsDisabled {
		return nil, fmt.Errorf("%w: user %d is disabled", ErrUnauthenticated, user.ID)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	return user, storeErr(err, "user")
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	return user, storeErr(err, "user")
}

// EnsureProfile 確保用戶有 Profile，重複呼叫不會建立第二筆
func (s *UserService) EnsureProfile(ctx context.Context, userID uint) (*models.Profile, error) {
	profile, err := s.profileRepo.Ensure(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "profile")
	}
	return profile, nil
}
