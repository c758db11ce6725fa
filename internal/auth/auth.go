package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/room-relay/internal/types"
)

const (
	userIdClaim = "user-id"
	nameClaim   = "name"
	expClaim    = "exp"

	// TokenCookieKey is the cookie a browser presents at WebSocket upgrade.
	TokenCookieKey = "token"
)

var (
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidToken     = errors.New("invalid token")
	ErrIdentityMismatch = errors.New("user id does not match token")
)

// Credential is what a connection presents with its authenticate event.
type Credential struct {
	UserId      string
	DisplayName string
	Token       string
}

type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, cred Credential) (types.Identity, error)
}

// PayloadResolver trusts the identity claimed in the authenticate payload.
// Use it only behind a gateway that has already authenticated the caller.
type PayloadResolver struct{}

func (PayloadResolver) ResolveIdentity(_ context.Context, cred Credential) (types.Identity, error) {
	userId := strings.TrimSpace(cred.UserId)
	if userId == "" {
		return types.Identity{}, fmt.Errorf("%w: user id is required", ErrInvalidIdentity)
	}

	displayName := strings.TrimSpace(cred.DisplayName)
	if displayName == "" {
		displayName = userId
	}

	return types.Identity{UserId: userId, DisplayName: displayName}, nil
}

// JWTResolver verifies an HS256 token signed with the configured key.
type JWTResolver struct {
	signingKey []byte
}

func NewJWTResolver(signingKey []byte) *JWTResolver {
	return &JWTResolver{signingKey: signingKey}
}

func (r *JWTResolver) ResolveIdentity(_ context.Context, cred Credential) (types.Identity, error) {
	if cred.Token == "" {
		return types.Identity{}, fmt.Errorf("%w: token is required", ErrInvalidToken)
	}

	claims, err := r.verifyToken(cred.Token)
	if err != nil {
		return types.Identity{}, err
	}

	userId, err := userIdFromClaims(claims)
	if err != nil {
		return types.Identity{}, err
	}

	if cred.UserId != "" && cred.UserId != userId {
		return types.Identity{}, ErrIdentityMismatch
	}

	displayName, _ := claims[nameClaim].(string)
	if displayName == "" {
		displayName = strings.TrimSpace(cred.DisplayName)
	}
	if displayName == "" {
		displayName = userId
	}

	return types.Identity{UserId: userId, DisplayName: displayName}, nil
}

func (r *JWTResolver) verifyToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	return claims, nil
}

// user-id may be issued as a string or as a JSON number.
func userIdFromClaims(claims jwt.MapClaims) (string, error) {
	switch v := claims[userIdClaim].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%d", int64(v)), nil
	}

	return "", fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
}

// CreateToken signs a token for userId. The relay never issues tokens on its
// own; this exists for the account service and for tests.
func CreateToken(signingKey []byte, userId, displayName string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		nameClaim:   displayName,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}
