package user

import (
	"context"
	"errors"

	"siniopay/internal/account"
	"siniopay/internal/auth"
	"siniopay/internal/logger"
	"siniopay/internal/notification"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, account.Account, string, string, error)
	Login(ctx context.Context, req LoginRequest) (*User, string, string, error)
	GetByID(ctx context.Context, userID string) (*User, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, *User, error)
}

type service struct {
	repo     Repository
	tokens   *auth.TokenIssuer
	currency string
}

// NewService creates users with a wallet in currency and signs their tokens with tokens.
func NewService(repo Repository, tokens *auth.TokenIssuer, currency string) Service {
	return &service{
		repo:     repo,
		tokens:   tokens,
		currency: currency,
	}
}

func principalOf(u *User) auth.Principal {
	return auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, account.Account, string, string, error) {
	exists, err := s.repo.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, account.Account{}, "", "", err
	}
	if exists {
		return nil, account.Account{}, "", "", ErrEmailExists
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, account.Account{}, "", "", err
	}

	user, wallet, err := s.repo.CreateWithWallet(ctx, req.Name, req.Email, passwordHash, auth.RoleUser, s.currency)
	if err != nil {
		return nil, account.Account{}, "", "", err
	}
	logger.Info("user registered", "user_id", user.ID, "account_id", wallet.ID)

	pair, err := s.tokens.Issue(principalOf(user))
	if err != nil {
		return nil, account.Account{}, "", "", err
	}

	return user, wallet, pair.Access, pair.Refresh, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*User, string, string, error) {
	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, "", "", ErrInvalidCredentials
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return nil, "", "", ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(principalOf(user))
	if err != nil {
		return nil, "", "", err
	}

	return user, pair.Access, pair.Refresh, nil
}

func (s *service) GetByID(ctx context.Context, userID string) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}

func (s *service) RefreshToken(ctx context.Context, refreshToken string) (string, *User, error) {
	claims, err := s.tokens.Parse(refreshToken, auth.KindRefresh)
	if err != nil {
		return "", nil, err
	}

	// Role comes from the users table so a demotion takes effect on the next refresh.
	user, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", nil, ErrUserNotFound
	}

	newAccessToken, err := s.tokens.IssueAccess(principalOf(user))
	if err != nil {
		return "", nil, err
	}

	return newAccessToken, user, nil
}

// Recipients resolves notification recipients from the users table.
func Recipients(repo Repository) notification.RecipientResolver {
	return notification.RecipientFunc(func(ctx context.Context, userID string) (notification.Recipient, error) {
		u, err := repo.FindByID(ctx, userID)
		if err != nil {
			return notification.Recipient{}, err
		}
		return notification.Recipient{Email: u.Email, Name: u.Name}, nil
	})
}
