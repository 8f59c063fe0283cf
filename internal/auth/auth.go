// Package auth verifies bearer tokens presented by websocket and HTTP
// clients. Tokens are HS256 JWTs with a "sub" (user id) and optional
// "name" claim.
package auth

import (
	"errors"
	"fmt"

	"github.com/form3tech-oss/jwt-go"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is a verified caller. Empty UserID means anonymous.
type Identity struct {
	UserID      string
	DisplayName string
}

type Verifier interface {
	Verify(token string) (Identity, error)
}

type HS256Verifier struct {
	secret         []byte
	allowAnonymous bool
}

func NewHS256Verifier(secret string, allowAnonymous bool) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret), allowAnonymous: allowAnonymous}
}

func (v *HS256Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		if v.allowAnonymous {
			return Identity{}, nil
		}
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: sub, DisplayName: name}, nil
}

// Sign issues a token for id. Used by tests and local tooling.
func Sign(secret string, id Identity) (string, error) {
	claims := jwt.MapClaims{"sub": id.UserID}
	if id.DisplayName != "" {
		claims["name"] = id.DisplayName
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
