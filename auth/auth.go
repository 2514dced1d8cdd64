package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"pythonquest/store"
)

var (
	ErrInvalidUsername    = errors.New("username must be 3-20 characters of letters, numbers and underscores")
	ErrInvalidEmail       = errors.New("please enter a valid email")
	ErrInvalidPassword    = errors.New("password must be at least 6 characters")
	ErrUserExists         = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const minPasswordLength = 6

type Service struct {
	store   store.Store
	session *SessionManager
}

func NewService(store store.Store, sessionManager *SessionManager) *Service {
	return &Service{
		store:   store,
		session: sessionManager,
	}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	username = SanitizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrInvalidPassword
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userID, err := s.store.CreateUser(ctx, username, email, string(passwordHash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d missing after insert", userID)
	}
	return user, nil
}

// Login accepts a username or an email and returns a signed session token.
func (s *Service) Login(ctx context.Context, login, password string) (string, *store.User, error) {
	login = SanitizeLogin(login)

	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		return "", nil, err
	}

	token, err := s.session.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	return token, user, nil
}

func (s *Service) Logout(token string) {
	s.session.Revoke(token)
}

func (s *Service) ValidateSession(token string) (*Claims, bool) {
	claims, err := s.session.Parse(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) GetSessionManager() *SessionManager {
	return s.session
}
