package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("some_secret")

func TestPayloadResolver(t *testing.T) {
	tcases := []struct {
		name     string
		cred     Credential
		expected types.Identity
		err      bool
	}{
		{
			name:     "full identity",
			cred:     Credential{UserId: "u1", DisplayName: "Alice"},
			expected: types.Identity{UserId: "u1", DisplayName: "Alice"},
		},
		{
			name:     "display name defaults to user id",
			cred:     Credential{UserId: "u2"},
			expected: types.Identity{UserId: "u2", DisplayName: "u2"},
		},
		{
			name:     "whitespace is trimmed",
			cred:     Credential{UserId: " u3 ", DisplayName: "  Carol "},
			expected: types.Identity{UserId: "u3", DisplayName: "Carol"},
		},
		{
			name: "empty user id",
			cred: Credential{DisplayName: "Nobody"},
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			identity, err := PayloadResolver{}.ResolveIdentity(context.Background(), tc.cred)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidIdentity, "expected invalid identity error")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, identity, "expected identity to match")
		})
	}
}

func TestJWTResolver(t *testing.T) {
	validToken, err := CreateToken(testKey, "u1", "Alice", time.Hour)
	require.NoError(t, err, "failed to create token")

	expiredToken, err := CreateToken(testKey, "u1", "Alice", -time.Hour)
	require.NoError(t, err, "failed to create token")

	wrongKeyToken, err := CreateToken([]byte("other"), "u1", "Alice", time.Hour)
	require.NoError(t, err, "failed to create token")

	numericToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: 42,
		expClaim:    time.Now().Add(time.Hour).Unix(),
	}).SignedString(testKey)
	require.NoError(t, err, "failed to create token")

	tcases := []struct {
		name     string
		cred     Credential
		expected types.Identity
		err      error
	}{
		{
			name:     "valid token",
			cred:     Credential{Token: validToken},
			expected: types.Identity{UserId: "u1", DisplayName: "Alice"},
		},
		{
			name:     "matching payload user id",
			cred:     Credential{UserId: "u1", DisplayName: "ignored", Token: validToken},
			expected: types.Identity{UserId: "u1", DisplayName: "Alice"},
		},
		{
			name:     "numeric user id claim",
			cred:     Credential{DisplayName: "Bob", Token: numericToken},
			expected: types.Identity{UserId: "42", DisplayName: "Bob"},
		},
		{
			name: "mismatched payload user id",
			cred: Credential{UserId: "u2", Token: validToken},
			err:  ErrIdentityMismatch,
		},
		{
			name: "missing token",
			cred: Credential{UserId: "u1"},
			err:  ErrInvalidToken,
		},
		{
			name: "expired token",
			cred: Credential{Token: expiredToken},
			err:  ErrInvalidToken,
		},
		{
			name: "wrong signing key",
			cred: Credential{Token: wrongKeyToken},
			err:  ErrInvalidToken,
		},
		{
			name: "garbage token",
			cred: Credential{Token: "not-a-jwt"},
			err:  ErrInvalidToken,
		},
	}

	resolver := NewJWTResolver(testKey)
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			identity, err := resolver.ResolveIdentity(context.Background(), tc.cred)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected resolver error")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, identity, "expected identity to match")
		})
	}
}
