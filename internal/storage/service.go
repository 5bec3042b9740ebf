package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// Identity is the subset of the identity provider used by Service.
// *auth.Client satisfies it.
type Identity interface {
	SignUp(ctx context.Context, email, password, displayName string) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error)
	SendPasswordReset(ctx context.Context, email string) error
	LookupUser(ctx context.Context, idToken string) (*auth.AccountInfo, error)
}

var _ Identity = (*auth.Client)(nil)

// Service combines the identity provider with the user store.
type Service struct {
	identity Identity
	store    Store
	logger   zerolog.Logger
}

// NewService creates a Service.
func NewService(identity Identity, store Store, logger zerolog.Logger) *Service {
	return &Service{
		identity: identity,
		store:    store,
		logger:   logger.With().Str("component", "accounts").Logger(),
	}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Register creates an account and its profile.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*auth.Session, *domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil, domain.NewValidationError("email", "is required")
	}
	if password == "" {
		return nil, nil, domain.NewValidationError("password", "is required")
	}
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}

	session, err := s.identity.SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		UID:         session.UID,
		Email:       email,
		DisplayName: displayName,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create profile: %w", err)
	}

	s.logger.Info().Str("user_id", user.UID).Str("role", string(user.Role)).Msg("account registered")
	return session, user, nil
}

// Login signs a user in, creating the profile when the account was made
// outside the service, and stamps the login time.
func (s *Service) Login(ctx context.Context, email, password string) (*auth.Session, *domain.User, error) {
	session, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.ensureProfile(ctx, session.UID, email, session.DisplayName)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.RecordLogin(ctx, user.UID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UID).Msg("failed to record login")
	}
	if session.DisplayName == "" {
		session.DisplayName = user.DisplayName
	}
	return session, user, nil
}

// Refresh exchanges a refresh token for a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, domain.NewValidationError("refresh_token", "is required")
	}
	return s.identity.RefreshToken(ctx, refreshToken)
}

// ResetPassword sends a password reset email.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return domain.NewValidationError("email", "is required")
	}
	return s.identity.SendPasswordReset(ctx, email)
}

// Authenticate resolves an ID token to the user's profile.
func (s *Service) Authenticate(ctx context.Context, idToken string) (*domain.User, error) {
	if idToken == "" {
		return nil, domain.NewAuthError("MISSING_ID_TOKEN", "no token supplied")
	}
	info, err := s.identity.LookupUser(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return s.ensureProfile(ctx, info.UID, info.Email, info.DisplayName)
}

// RecordRun counts a pipeline submission against the user and logs its
// parameters.
func (s *Service) RecordRun(ctx context.Context, userID, runID string, params map[string]interface{}) error {
	if userID == "" {
		return nil
	}
	var errs []error
	if err := s.store.IncrementSearchCount(ctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("increment search count: %w", err))
	}
	if err := s.store.LogSearch(ctx, domain.SearchLog{
		UserID:     userID,
		RunID:      runID,
		Parameters: params,
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RecordResult saves a finished run's outcome under the user's results.
func (s *Service) RecordResult(ctx context.Context, userID string, result domain.StoredResult) error {
	if userID == "" {
		return nil
	}
	return s.store.SaveResult(ctx, userID, result)
}

// LogAPIUsage records an API call for the user.
func (s *Service) LogAPIUsage(ctx context.Context, userID, method, endpoint string) error {
	return s.store.LogAPIUsage(ctx, domain.APIUsage{
		UserID:   userID,
		Method:   method,
		Endpoint: endpoint,
	})
}

// LogServiceUsage records that a run for the user calls an external service.
func (s *Service) LogServiceUsage(ctx context.Context, userID, service string) error {
	return s.store.LogAPIUsage(ctx, domain.APIUsage{
		UserID:  userID,
		Service: service,
	})
}

// SetAPIKey stores the key for an external service. Only admins may call it.
func (s *Service) SetAPIKey(ctx context.Context, user *domain.User, service, key string) (*domain.APIKey, error) {
	if user == nil || !user.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if !domain.IsKeyedService(service) {
		return nil, domain.NewValidationError("service", fmt.Sprintf("must be one of [%s %s]", domain.ServiceAnthropic, domain.ServiceScienceDirect))
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.NewValidationError("key", "is required")
	}

	stored := domain.APIKey{Service: service, Key: key, UpdatedBy: user.UID}
	if err := s.store.SetAPIKey(ctx, stored); err != nil {
		return nil, err
	}
	s.logger.Info().Str("service", service).Str("user_id", user.UID).Msg("api key updated")
	return s.store.GetAPIKey(ctx, service)
}

// APIKey returns the stored key for an external service.
func (s *Service) APIKey(ctx context.Context, service string) (string, error) {
	k, err := s.store.GetAPIKey(ctx, service)
	if err != nil {
		return "", err
	}
	return k.Key, nil
}

// Results lists the user's saved results.
func (s *Service) Results(ctx context.Context, userID string, limit int) ([]domain.StoredResult, error) {
	return s.store.ListResults(ctx, userID, limit)
}

func (s *Service) ensureProfile(ctx context.Context, uid, email, displayName string) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, uid)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if displayName == "" {
		displayName = defaultDisplayName(email)
	}
	user = &domain.User{UID: uid, Email: email, DisplayName: displayName}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.store.GetUser(ctx, uid)
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info().Str("user_id", uid).Msg("profile created for existing account")
	return user, nil
}

func defaultDisplayName(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}
