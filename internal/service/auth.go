package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles authentication, JWT, and account management.
type AuthService struct {
	jwtSecret     string
	adminEmail    string
	adminPassword string
	accounts      repository.AccountStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret, adminEmail, adminPassword string, accounts repository.AccountStore) *AuthService {
	return &AuthService{
		jwtSecret:     jwtSecret,
		adminEmail:    adminEmail,
		adminPassword: adminPassword,
		accounts:      accounts,
	}
}

// JWTClaims are the token claims this service issues and verifies.
type JWTClaims struct {
	Sub   string
	Email string
	Role  string
}

// SeedAdmin creates the default admin account if it doesn't exist. The
// admin-override flag is what exempts it from billing, not the role.
func (s *AuthService) SeedAdmin(ctx context.Context) error {
	exists, err := s.accounts.Exists(ctx, s.adminEmail)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}
	if exists {
		log.Printf("✅ Admin account already exists (%s)", s.adminEmail)
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(s.adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &domain.Account{
		ID:            uuid.New().String(),
		Email:         s.adminEmail,
		Password:      string(hashedPassword),
		Role:          "admin",
		Tier:          domain.TierAdmin,
		AdminOverride: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.accounts.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	log.Printf("✅ Admin account created (%s)", s.adminEmail)
	return nil
}

// Login validates credentials against the database and returns a JWT token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.LoginResponse, error) {
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, domain.ErrInternal("failed to find account", err)
	}
	if acc == nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	// Compare bcrypt hash
	if err := bcrypt.CompareHashAndPassword([]byte(acc.Password), []byte(password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub":   acc.ID,
		"email": acc.Email,
		"role":  acc.Role,
		"exp":   time.Now().Add(7 * 24 * time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, domain.ErrInternal("failed to sign token", err)
	}

	return &domain.LoginResponse{
		Token:   signed,
		Account: acc,
	}, nil
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	return &JWTClaims{
		Sub:   getClaimString(claims, "sub"),
		Email: getClaimString(claims, "email"),
		Role:  getClaimString(claims, "role"),
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// ListAccounts returns all accounts (admin only).
func (s *AuthService) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to list accounts", err)
	}
	return accounts, nil
}

// CreateAccount creates a new account with a bcrypt password (admin only).
func (s *AuthService) CreateAccount(ctx context.Context, req *domain.CreateAccountRequest) (*domain.Account, error) {
	exists, err := s.accounts.Exists(ctx, req.Email)
	if err != nil {
		return nil, domain.ErrInternal("failed to check account", err)
	}
	if exists {
		return nil, domain.ErrBadRequest("email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("failed to hash password", err)
	}

	role := req.Role
	if role == "" {
		role = "user"
	}

	now := time.Now()
	acc := &domain.Account{
		ID:        uuid.New().String(),
		Email:     req.Email,
		Password:  string(hashedPassword),
		Role:      role,
		Tier:      domain.TierNone,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		return nil, domain.ErrInternal("failed to create account", err)
	}

	return acc, nil
}

// GetAccountByID returns an account profile by ID (for /api/auth/me).
func (s *AuthService) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find account", err)
	}
	if acc == nil {
		return nil, domain.ErrNotFound("account not found")
	}
	return acc, nil
}
