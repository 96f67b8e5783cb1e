package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/theoneapp/theone-backend/internal/appstore"
	"github.com/theoneapp/theone-backend/internal/config"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrUserNotFound       = errors.New("user not found")
)

// New accounts get a short free VIP window.
const freeVipDays = 3

type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	identity *appstore.IdentityVerifier
	apple    *appstore.AuthClient
}

func NewAuthService(db *gorm.DB, cfg *config.Config, identity *appstore.IdentityVerifier, apple *appstore.AuthClient) *AuthService {
	return &AuthService{
		db:       db,
		cfg:      cfg,
		identity: identity,
		apple:    apple,
	}
}

func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	var existing models.User
	if err := s.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	username := req.Username
	if username == "" {
		username = strings.Split(req.Email, "@")[0]
	}

	vipExpireAt := ComputeExpiry(time.Now(), freeVipDays, nil)
	user := models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     username,
		Password:     string(hash),
		AuthProvider: "email",
		IsVip:        true,
		VipExpireAt:  &vipExpireAt,
	}

	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.generateTokenPair(&user)
}

func (s *AuthService) Login(req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.generateTokenPair(&user)
}

func (s *AuthService) Refresh(req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	tokenHash := hashToken(req.RefreshToken)

	var stored models.RefreshToken
	if err := s.db.Where("token_hash = ? AND revoked = false", tokenHash).First(&stored).Error; err != nil {
		return nil, ErrInvalidToken
	}

	if time.Now().After(stored.ExpiresAt) {
		s.db.Model(&stored).Update("revoked", true)
		return nil, ErrInvalidToken
	}

	s.db.Model(&stored).Update("revoked", true)

	var user models.User
	if err := s.db.First(&user, "id = ?", stored.UserID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	return s.generateTokenPair(&user)
}

func (s *AuthService) Logout(req *dto.LogoutRequest) error {
	tokenHash := hashToken(req.RefreshToken)
	return s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("revoked", true).Error
}

func (s *AuthService) Profile(userID uuid.UUID) (*dto.UserResponse, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, ErrUserNotFound
	}
	resp := userResponse(&user)
	return &resp, nil
}

func (s *AuthService) DeleteAccount(ctx context.Context, userID uuid.UUID, password string) error {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return ErrUserNotFound
	}

	if user.AuthProvider != "apple" {
		if password == "" {
			return errors.New("password is required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
	}

	// Revoke the Apple grant so the account no longer shows up in the
	// user's "Sign in with Apple" list. Best effort; deletion proceeds
	// even if Apple is unreachable.
	if user.AppleRefreshToken != "" && s.apple != nil {
		if err := s.apple.RevokeToken(ctx, user.AppleRefreshToken); err != nil {
			slog.Error("failed to revoke apple token", "user_id", userID, "error", err)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{})
		tx.Where("user_id = ?", userID).Delete(&models.Feedback{})
		tx.Where("user_id = ?", userID).Delete(&models.Chat{})
		return tx.Delete(&user).Error
	})
}

func (s *AuthService) AppleSignIn(ctx context.Context, req *dto.AppleSignInRequest) (*dto.AuthResponse, error) {
	claims, err := s.identity.Verify(req.IdentityToken)
	if err != nil {
		slog.Error("apple identity token verification failed", "error", err)
		return nil, fmt.Errorf("failed to verify Apple identity token: %w", err)
	}

	appleUserID := claims.Sub
	email := claims.Email
	if email == "" {
		email = req.Email
	}
	if email == "" {
		email = appleUserID + "@privaterelay.appleid.com"
	}

	// Exchanging the one-time authorization code yields the refresh token
	// needed to revoke the grant at account deletion.
	var refreshToken string
	if req.AuthCode != "" && s.apple != nil {
		if exchanged, err := s.apple.ExchangeCode(ctx, req.AuthCode); err != nil {
			slog.Error("apple code exchange failed", "error", err)
		} else {
			refreshToken = exchanged.RefreshToken
		}
	}

	var user models.User
	err = s.db.Where("apple_user_id = ? OR email = ?", appleUserID, email).First(&user).Error
	if err != nil {
		username := req.FullName
		if username == "" {
			username = strings.Split(email, "@")[0]
		}

		vipExpireAt := ComputeExpiry(time.Now(), freeVipDays, nil)
		user = models.User{
			ID:                uuid.New(),
			Email:             email,
			Username:          username,
			Password:          "",
			AppleUserID:       &appleUserID,
			AppleRefreshToken: refreshToken,
			AuthProvider:      "apple",
			IsVip:             true,
			VipExpireAt:       &vipExpireAt,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create Apple user: %w", err)
		}
	} else {
		updates := map[string]interface{}{}
		if user.AppleUserID == nil {
			updates["apple_user_id"] = appleUserID
			updates["auth_provider"] = "apple"
			user.AppleUserID = &appleUserID
			user.AuthProvider = "apple"
		}
		if refreshToken != "" {
			updates["apple_refresh_token"] = refreshToken
			user.AppleRefreshToken = refreshToken
		}
		if len(updates) > 0 {
			s.db.Model(&user).Updates(updates)
		}
	}

	return s.generateTokenPair(&user)
}

func (s *AuthService) generateTokenPair(user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userResponse(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":           user.ID.String(),
		"email":         user.Email,
		"is_apple_user": user.AuthProvider == "apple",
		"iat":           time.Now().Unix(),
		"exp":           time.Now().Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) generateRefreshToken(user *models.User) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := base64.URLEncoding.EncodeToString(rawBytes)
	record := models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshExpiry),
	}

	if err := s.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

func userResponse(user *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Username:    user.Username,
		IsAppleUser: user.AuthProvider == "apple",
		IsVip:       user.IsVip,
		VipExpireAt: user.VipExpireAt,
	}
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
