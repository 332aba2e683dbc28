package service

import (
	"context"
	"errors"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/repository"
)

type authService struct {
	userRepo repository.UserRepository
	logger   *logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, logger *logger.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		logger:   logger,
	}
}

func (s *authService) GetOrCreateUser(ctx context.Context, providerID, email, name string) (*model.User, error) {
	existing, err := s.userRepo.FindByProviderID(ctx, providerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		newUser := model.NewUser(providerID, email, name)
		if err := s.userRepo.Create(ctx, newUser); err != nil {
			s.logger.Error("Failed to create user:", err)
			return nil, err
		}
		s.logger.Info("Created new user:", newUser.ID)
		return newUser, nil
	}

	if existing.Email != email || existing.Name != name {
		existing.Email = email
		existing.Name = name
		if err := s.userRepo.Update(ctx, existing); err != nil {
			s.logger.Error("Failed to update user:", err)
			return nil, err
		}
	}
	return existing, nil
}

func (s *authService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}
