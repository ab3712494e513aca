// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kbqa-go/internal/model"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/hash"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/token"
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, username, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (accessToken, refreshToken string, err error)
	RefreshToken(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)
	GetProfile(ctx context.Context, username string) (*model.User, error)
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{userRepo: userRepo, jwtManager: jwtManager}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("用户名和密码不能为空: %w", errs.ErrValidation)
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(ctx, username)
	if err == nil {
		return nil, fmt.Errorf("用户名已存在: %w", errs.ErrConflict)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	user := &model.User{
		Username: username,
		Password: hashedPassword,
		Role:     model.RoleUser,
		IsActive: true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	log.Infof("[UserService] 用户注册成功, username: %s, id: %d", user.Username, user.ID)
	return user, nil
}

// Login 校验密码并签发 access/refresh token。
func (s *userService) Login(ctx context.Context, username, password string) (string, string, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", "", fmt.Errorf("invalid credentials: %w", errs.ErrUnauthorized)
		}
		return "", "", err
	}
	if !user.IsActive || !hash.CheckPasswordHash(password, user.Password) {
		return "", "", fmt.Errorf("invalid credentials: %w", errs.ErrUnauthorized)
	}

	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// RefreshToken 校验 refresh token 并签发新的一对 token。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return "", "", err
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return "", "", fmt.Errorf("用户不可用: %w", errs.ErrUnauthorized)
	}
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, newRefreshToken, nil
}

func (s *userService) GetProfile(ctx context.Context, username string) (*model.User, error) {
	return s.userRepo.FindByUsername(ctx, username)
}
