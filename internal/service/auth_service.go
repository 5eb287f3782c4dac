package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL   = time.Hour
	tokenIssuer       = "cadence-scheduler"
	minPasswordLength = 8
)

// AuthConfig holds the JWT signing settings.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// Domain errors for auth flows.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username already taken")

	errBadUsername  = fmt.Errorf("%w: username must be 3-64 characters of a-z, 0-9, '.', '_' or '-'", ErrInvalidInput)
	errWeakPassword = fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{3,64}$`)

// AuthService registers operators and issues the bearer tokens the API requires.
type AuthService struct {
	authRepo repository.Authorization
	cfg      AuthConfig
	now      func() time.Time
}

func NewAuthService(repo repository.Authorization, cfg AuthConfig) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &AuthService{authRepo: repo, cfg: cfg, now: time.Now}
}

// SignUp validates and stores a new operator. Usernames are case-insensitive.
func (s *AuthService) SignUp(ctx context.Context, username, password string) (int, error) {
	username = normalizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return 0, errBadUsername
	}
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return 0, errWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.authRepo.Create(ctx, username, string(hash))
	if errors.Is(err, models.ErrConflict) {
		return 0, ErrUsernameTaken
	}
	return id, err
}

// Claims defines JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID int `json:"user_id"`
}

// GenerateToken checks credentials and returns a signed token. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (string, error) {
	u, err := s.authRepo.GetByUsername(ctx, normalizeUsername(username))
	if errors.Is(err, models.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u)
}

// ParseToken verifies an HS256 token issued by this service and returns the user id.
func (s *AuthService) ParseToken(accessToken string) (int, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.SigningKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *AuthService) issueToken(u models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: u.ID,
	})
	return token.SignedString([]byte(s.cfg.SigningKey))
}
