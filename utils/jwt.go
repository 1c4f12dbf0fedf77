package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityCookie is the cookie carrying the signed caller identity.
const IdentityCookie = "afroboost_identity"

// IdentityClaims identify a caller that went through smart-entry.
type IdentityClaims struct {
	Email         string `json:"email"`
	ParticipantID string `json:"participant_id,omitempty"`
	CoachID       string `json:"coach_id,omitempty"`
	jwt.RegisteredClaims
}

func GenerateIdentityToken(secret string, claims IdentityClaims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseIdentityToken(secret, tokenString string) (*IdentityClaims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*IdentityClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
