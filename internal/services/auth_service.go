package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/models"
	jwtpkg "github.com/snapvault/backend/pkg/jwt"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:  db,
		cfg: cfg,
	}
}

// Register creates a new user account
func (s *AuthService) Register(username, email, password string) (*models.User, error) {
	var existingUser models.User
	if err := s.db.Where("username = ? OR email = ?", username, email).First(&existingUser).Error; err == nil {
		if existingUser.Username == username {
			return nil, fmt.Errorf("%w: username already taken", ErrValidation)
		}
		return nil, fmt.Errorf("%w: email already registered", ErrValidation)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: string(hashedPassword),
		IsActive: true,
	}

	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}

	return user, nil
}

// Login authenticates a user and returns access and refresh tokens
func (s *AuthService) Login(username, password string) (string, string, *models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return "", "", nil, err
	}

	if !user.IsActive {
		return "", "", nil, fmt.Errorf("%w: account is deactivated", ErrUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", "", nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	accessToken, refreshToken, err := s.issueTokens(user.ID)
	if err != nil {
		return "", "", nil, err
	}

	return accessToken, refreshToken, &user, nil
}

// RefreshTokens validates a refresh token and rotates it
func (s *AuthService) RefreshTokens(refreshToken string) (string, string, error) {
	claims, err := jwtpkg.ValidateToken(refreshToken, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.RefreshToken {
		return "", "", fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	var stored models.RefreshToken
	if err := s.db.Where("token = ?", refreshToken).First(&stored).Error; err != nil {
		return "", "", fmt.Errorf("%w: refresh token revoked", ErrUnauthorized)
	}

	if time.Now().After(stored.ExpiresAt) {
		_ = s.db.Delete(&stored).Error
		return "", "", fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	// Rotate: old token is revoked, a new pair is issued
	if err := s.db.Delete(&stored).Error; err != nil {
		return "", "", err
	}

	return s.issueTokens(userID)
}

// Logout revokes a refresh token
func (s *AuthService) Logout(refreshToken string) error {
	return s.db.Where("token = ?", refreshToken).Delete(&models.RefreshToken{}).Error
}

// ValidateAccessToken validates an access token and loads the account behind it
func (s *AuthService) ValidateAccessToken(token string) (*models.User, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.AccessToken {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("%w: unknown account", ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrUnauthorized)
	}

	return &user, nil
}

func (s *AuthService) issueTokens(userID uuid.UUID) (string, string, error) {
	accessToken, err := jwtpkg.GenerateToken(userID.String(), jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := jwtpkg.GenerateToken(userID.String(), jwtpkg.RefreshToken, s.cfg.JWTSecret, s.cfg.JWTRefreshTokenDuration)
	if err != nil {
		return "", "", err
	}

	refreshTokenModel := &models.RefreshToken{
		UserID:    userID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshTokenDuration),
	}
	if err := s.db.Create(refreshTokenModel).Error; err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}
