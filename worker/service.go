package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong username or password.
	ErrInvalidCredentials = errors.New("worker: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("worker: password must be at least 8 characters")
	// ErrNotApproved signals a login attempt before supervisor approval.
	ErrNotApproved = errors.New("worker: account pending approval")
)

// Service handles account business logic and issues session tokens.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain worker returned after a
// successful login.
type LoginResult struct {
	Token  string
	Worker Worker
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new worker account. Accounts start unapproved and are
// excluded from assignment pools until a supervisor approves them.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Worker, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Username == "" || req.FullName == "" {
		return nil, fmt.Errorf("worker: username and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("worker: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleTracer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("worker: invalid role %q", role)
	}

	w, err := s.repo.Create(ctx, CreateParams{
		Username:     req.Username,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Login authenticates a worker and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	w, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(w.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !w.Approved {
		return LoginResult{}, ErrNotApproved
	}

	token, err := s.generateToken(w.ID, w.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("worker: generate token: %w", err)
	}

	return LoginResult{Token: token, Worker: w}, nil
}

// Approve marks an account eligible for assignment pools.
func (s *Service) Approve(ctx context.Context, workerID string) (*Worker, error) {
	w, err := s.repo.Approve(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByID retrieves worker information by ID.
func (s *Service) GetByID(ctx context.Context, workerID string) (*Worker, error) {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListEligible returns approved worker names for a role, the pool fed into
// round-robin distribution.
func (s *Service) ListEligible(ctx context.Context, role Role) ([]string, error) {
	if !isValidRole(role) {
		return nil, fmt.Errorf("worker: invalid role %q", role)
	}
	return s.repo.ListEligible(ctx, role)
}

// VerifyToken validates a JWT token and returns the worker ID and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("worker: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		workerID, ok := claims["worker_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("worker: invalid worker_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("worker: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("worker: invalid role %q in token", roleStr)
		}
		return workerID, role, nil
	}

	return "", "", fmt.Errorf("worker: invalid token")
}

func (s *Service) generateToken(workerID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"worker_id": workerID,
		"role":      role,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleTracer, RoleAgent, RoleSupervisor:
		return true
	default:
		return false
	}
}
