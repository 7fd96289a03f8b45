package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("expired token")
	ErrInvalidCreds    = errors.New("invalid credentials")
	ErrOperatorExists  = errors.New("operator account already exists")
	ErrWeakPassword    = errors.New("password does not meet requirements")
	ErrInvalidUsername = errors.New("invalid username")
)

// DefaultSessionTTL is how long a session token stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

const tokenVersion = "v1"

// AuthService guards the editor behind a single operator account.
type AuthService struct {
	store  port.UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(store port.UserStore, secret string) *AuthService {
	return &AuthService{
		store:  store,
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}
}

// NeedsSetup reports whether the operator account is still to be created.
func (s *AuthService) NeedsSetup() (bool, error) {
	has, err := s.store.HasUser()
	if err != nil {
		return false, err
	}
	return !has, nil
}

// Setup creates the operator account. It succeeds once.
func (s *AuthService) Setup(username, password string) error {
	has, err := s.store.HasUser()
	if err != nil {
		return err
	}
	if has {
		return ErrOperatorExists
	}
	if err := checkUsername(username); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, err)
	}
	if err := checkPassword(password); err != nil {
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateUser(username, string(hash))
}

// Login checks the credentials and issues a session token.
func (s *AuthService) Login(username, password string) (string, error) {
	user, err := s.store.GetUser(username)
	if err != nil {
		return "", ErrInvalidCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCreds
	}
	return s.issue(user.ID), nil
}

// issue builds v1.<user id>.<expiry unix>.<hmac>.
func (s *AuthService) issue(userID int64) string {
	payload := tokenVersion + "." + strconv.FormatInt(userID, 10) + "." + strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	return payload + "." + s.sign(payload)
}

func (s *AuthService) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify returns the operator a token was issued to.
func (s *AuthService) Verify(token string) (*domain.User, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != tokenVersion {
		return nil, ErrInvalidToken
	}
	payload := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(parts[3]), []byte(s.sign(payload))) {
		return nil, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if s.now().After(time.Unix(expiry, 0)) {
		return nil, ErrExpiredToken
	}

	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// ChangePassword replaces the operator password after checking the current
// one.
func (s *AuthService) ChangePassword(username, current, next string) error {
	user, err := s.store.GetUser(username)
	if err != nil {
		return ErrInvalidCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCreds
	}
	if err := checkPassword(next); err != nil {
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(user.ID, string(hash))
}

func checkUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return fmt.Errorf("must be 3 to 50 characters")
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return fmt.Errorf("must contain only letters, digits, underscores and hyphens")
		}
	}
	return nil
}

func checkPassword(password string) error {
	if len(password) < 10 {
		return fmt.Errorf("must be at least 10 characters")
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("must mix letters and digits")
	}
	return nil
}
