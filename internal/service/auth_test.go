package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port/mocks"
)

func operator(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{ID: 1, Username: "editor", PasswordHash: string(hash)}
}

func TestAuthService_NeedsSetup(t *testing.T) {
	t.Run("no operator yet", func(t *testing.T) {
		store := mocks.NewUserStoreMock(t)
		store.On("HasUser").Return(false, nil).Once()
		needs, err := NewAuthService(store, "secret").NeedsSetup()
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("store error", func(t *testing.T) {
		store := mocks.NewUserStoreMock(t)
		store.On("HasUser").Return(false, errors.New("db closed")).Once()
		_, err := NewAuthService(store, "secret").NeedsSetup()
		assert.EqualError(t, err, "db closed")
	})
}

func TestAuthService_Setup(t *testing.T) {
	t.Run("creates the operator with a bcrypt hash", func(t *testing.T) {
		store := mocks.NewUserStoreMock(t)
		store.On("HasUser").Return(false, nil).Once()
		store.On("CreateUser", "editor", mock.MatchedBy(func(hash string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte("montage2024")) == nil
		})).Return(nil).Once()

		require.NoError(t, NewAuthService(store, "secret").Setup("editor", "montage2024"))
	})

	t.Run("only once", func(t *testing.T) {
		store := mocks.NewUserStoreMock(t)
		store.On("HasUser").Return(true, nil).Once()
		assert.ErrorIs(t, NewAuthService(store, "secret").Setup("editor", "montage2024"), ErrOperatorExists)
	})

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{name: "short username", username: "ed", password: "montage2024", want: ErrInvalidUsername},
		{name: "username with spaces", username: "the editor", password: "montage2024", want: ErrInvalidUsername},
		{name: "long username", username: strings.Repeat("e", 51), password: "montage2024", want: ErrInvalidUsername},
		{name: "short password", username: "editor", password: "abc123", want: ErrWeakPassword},
		{name: "letters only", username: "editor", password: "montagemontage", want: ErrWeakPassword},
		{name: "digits only", username: "editor", password: "12345678901", want: ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewUserStoreMock(t)
			store.On("HasUser").Return(false, nil).Once()
			assert.ErrorIs(t, NewAuthService(store, "secret").Setup(tt.username, tt.password), tt.want)
		})
	}
}

func TestAuthService_LoginAndVerify(t *testing.T) {
	user := operator(t, "montage2024")
	store := mocks.NewUserStoreMock(t)
	store.On("GetUser", "editor").Return(user, nil)
	store.On("GetUserByID", int64(1)).Return(user, nil)
	svc := NewAuthService(store, "secret")

	token, err := svc.Login("editor", "montage2024")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v1.1."))

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "editor", got.Username)

	_, err = svc.Login("editor", "wrong-password1")
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestAuthService_LoginUnknownUser(t *testing.T) {
	store := mocks.NewUserStoreMock(t)
	store.On("GetUser", "ghost").Return(nil, domain.ErrNotFound).Once()

	_, err := NewAuthService(store, "secret").Login("ghost", "montage2024")
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestAuthService_VerifyRejects(t *testing.T) {
	user := operator(t, "montage2024")
	store := mocks.NewUserStoreMock(t)
	store.On("GetUser", "editor").Return(user, nil)
	svc := NewAuthService(store, "secret")
	token, err := svc.Login("editor", "montage2024")
	require.NoError(t, err)

	t.Run("malformed", func(t *testing.T) {
		for _, tok := range []string{"", "v1", "v1.1.2", "v2.1.2.sig", "a.b.c.d.e"} {
			_, err := svc.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken, tok)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		parts[1] = "2"
		_, err := svc.Verify(strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		_, err := NewAuthService(store, "another").Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewAuthService(store, "secret")
		later.now = func() time.Time { return time.Now().Add(DefaultSessionTTL + time.Hour) }
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("deleted operator", func(t *testing.T) {
		gone := mocks.NewUserStoreMock(t)
		gone.On("GetUserByID", int64(1)).Return(nil, domain.ErrNotFound).Once()
		_, err := NewAuthService(gone, "secret").Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAuthService_ChangePassword(t *testing.T) {
	user := operator(t, "montage2024")
	store := mocks.NewUserStoreMock(t)
	store.On("GetUser", "editor").Return(user, nil)
	svc := NewAuthService(store, "secret")

	assert.ErrorIs(t, svc.ChangePassword("editor", "nope", "newpass2025x"), ErrInvalidCreds)
	assert.ErrorIs(t, svc.ChangePassword("editor", "montage2024", "short1"), ErrWeakPassword)

	store.On("UpdatePassword", int64(1), mock.MatchedBy(func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte("newpass2025x")) == nil
	})).Return(nil).Once()
	require.NoError(t, svc.ChangePassword("editor", "montage2024", "newpass2025x"))
}
