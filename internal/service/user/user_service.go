// internal/service/user/user_service.go
package user

import (
	"context"
	"fmt"
	"strings"

	"subpay-service/internal/domain/user"
	xerrors "subpay-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// UserService manages the billing-side account records. Credentials
// and sessions live in the external identity service; this only keeps
// what billing needs.
type UserService struct {
	userRepo user.Repository
	logger   *zap.Logger
}

func NewUserService(userRepo user.Repository, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		logger:   logger,
	}
}

// Register creates the billing account for an identity
func (s *UserService) Register(ctx context.Context, email string) (*user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email is required: %w", xerrors.ErrValidation)
	}

	u := &user.User{
		Email:  email,
		Status: user.StatusActive,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID))
	return u, nil
}

// Get retrieves one user
func (s *UserService) Get(ctx context.Context, id int64) (*user.User, error) {
	return s.userRepo.FindByID(ctx, id)
}

// GetByEmail retrieves a user by email
func (s *UserService) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}
